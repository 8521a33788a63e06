package sandbox

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/notebook/internal/sandbox/value"
)

// runtime is the inside of a context: a goja VM with console capture,
// a timer queue and unhandled-rejection tracking. It is owned by a single
// goroutine; only interrupt may be called from elsewhere.
type runtime struct {
	vm     *goja.Runtime
	config Config
	emit   func(Message)

	timers  []*timer
	nextID  int64
	nextSeq int64

	rejected []*goja.Promise

	stop     chan struct{}
	stopOnce sync.Once
}

type timer struct {
	id   int64
	seq  int64
	due  time.Time
	fn   goja.Callable
	args []goja.Value
}

func newRuntime(config Config, emit func(Message)) *runtime {
	r := &runtime{
		vm:     goja.New(),
		config: config,
		emit:   emit,
		stop:   make(chan struct{}),
	}

	if config.MaxCallStackSize > 0 {
		r.vm.SetMaxCallStackSize(config.MaxCallStackSize)
	}
	r.vm.SetPromiseRejectionTracker(r.trackRejection)
	r.setupGlobals()

	return r
}

func (r *runtime) setupGlobals() {
	// No host capabilities leak into the context
	r.vm.Set("require", goja.Undefined())
	r.vm.Set("process", goja.Undefined())
	r.vm.Set("module", goja.Undefined())
	r.vm.Set("exports", goja.Undefined())
	r.vm.Set("setInterval", goja.Undefined())

	if r.config.EnableConsole {
		console := r.vm.NewObject()
		for _, method := range ConsoleMethods {
			console.Set(string(method), r.makeConsoleFunc(method))
		}
		r.vm.Set("console", console)
	}

	if r.config.EnableTimers {
		r.vm.Set("setTimeout", r.setTimeout)
		r.vm.Set("clearTimeout", r.clearTimeout)
	} else {
		r.vm.Set("setTimeout", goja.Undefined())
		r.vm.Set("clearTimeout", goja.Undefined())
	}
}

func (r *runtime) makeConsoleFunc(method ConsoleMethod) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make([]value.Value, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = value.Serialize(r.vm, arg)
		}
		r.emit(Console(method, args))
		return goja.Undefined()
	}
}

func (r *runtime) setTimeout(call goja.FunctionCall) goja.Value {
	r.nextID++
	id := r.nextID

	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return r.vm.ToValue(id)
	}

	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	r.nextSeq++
	r.timers = append(r.timers, &timer{
		id:   id,
		seq:  r.nextSeq,
		due:  time.Now().Add(timerDelay(call.Argument(1))),
		fn:   fn,
		args: args,
	})
	return r.vm.ToValue(id)
}

// maxTimerDelay is the longest delay a timer keeps, about 24.8 days
const maxTimerDelay = math.MaxInt32 * time.Millisecond

// timerDelay converts a millisecond delay argument. NaN and negative
// values run on the next turn; huge values are held at maxTimerDelay.
func timerDelay(v goja.Value) time.Duration {
	ms := v.ToFloat()
	switch {
	case math.IsNaN(ms) || ms <= 0:
		return 0
	case ms >= float64(maxTimerDelay/time.Millisecond):
		return maxTimerDelay
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func (r *runtime) clearTimeout(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	for i, t := range r.timers {
		if t.id == id {
			r.timers = append(r.timers[:i], r.timers[i+1:]...)
			break
		}
	}
	return goja.Undefined()
}

func (r *runtime) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		r.rejected = append(r.rejected, p)
	case goja.PromiseRejectionHandle:
		for i, q := range r.rejected {
			if q == p {
				r.rejected = append(r.rejected[:i], r.rejected[i+1:]...)
				break
			}
		}
	}
}

// interrupt aborts whatever the VM is doing. Safe from any goroutine.
func (r *runtime) interrupt(reason string) {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.vm.Interrupt(reason)
	})
}

// run executes code and returns the terminal result message. Console and
// uncaught-error messages are emitted along the way.
func (r *runtime) run(code string) Message {
	start := time.Now()
	elapsed := func() int64 { return time.Since(start).Milliseconds() }

	val, err := r.vm.RunString(code)
	if err != nil {
		r.drain(nil)
		return Failure(thrown(err), elapsed())
	}

	// A returned promise settles through the timer queue before reporting
	promise, _ := val.Export().(*goja.Promise)
	result := value.Serialize(r.vm, val)
	r.drain(promise)

	if promise != nil {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			result = value.Serialize(r.vm, promise.Result())
		case goja.PromiseStateRejected:
			return Failure(value.SerializeThrown(promise.Result()), elapsed())
		default:
			result = value.Unserializable("Promise { <pending> }")
		}
	}

	return Success(result, elapsed())
}

// drain runs pending timers in due order until the queue is empty or the
// runtime is interrupted, reporting unhandled rejections after each task.
func (r *runtime) drain(result *goja.Promise) {
	r.reportRejections(result)

	for len(r.timers) > 0 {
		sort.SliceStable(r.timers, func(i, j int) bool {
			if r.timers[i].due.Equal(r.timers[j].due) {
				return r.timers[i].seq < r.timers[j].seq
			}
			return r.timers[i].due.Before(r.timers[j].due)
		})
		next := r.timers[0]
		r.timers = r.timers[1:]

		if wait := time.Until(next.due); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-r.stop:
				t.Stop()
				return
			}
		}

		if _, err := next.fn(goja.Undefined(), next.args...); err != nil {
			var interrupted *goja.InterruptedError
			if errors.As(err, &interrupted) {
				return
			}
			r.emit(Uncaught(thrown(err)))
		}
		r.reportRejections(result)
	}
}

func (r *runtime) reportRejections(result *goja.Promise) {
	pending := r.rejected
	r.rejected = nil
	for _, p := range pending {
		if p == result {
			continue
		}
		r.emit(Uncaught(value.SerializeThrown(p.Result())))
	}
}

// thrown maps a goja run error to an error payload
func thrown(err error) value.ErrorPayload {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return value.SerializeThrown(exc.Value())
	}
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return value.ErrorPayload{Name: "SyntaxError", Message: syntax.Error()}
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return value.ErrorPayload{Name: "InterruptedError", Message: interrupted.Error()}
	}
	return value.ErrorPayload{Name: "Error", Message: err.Error()}
}

// serve is the context-side protocol loop shared by every Context
// implementation: announce readiness, wait for code, run it once.
func serve(ctx context.Context, config Config, recv func() (Message, error), emit func(Message)) error {
	rt := newRuntime(config, emit)
	stop := context.AfterFunc(ctx, func() { rt.interrupt("sandbox context torn down") })
	defer stop()

	emit(Ready())
	for {
		msg, err := recv()
		if err != nil {
			return err
		}
		if msg.Type != MsgExecute {
			continue
		}
		emit(rt.run(msg.Code))
		return nil
	}
}
