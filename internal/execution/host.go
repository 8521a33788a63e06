package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook/internal/sandbox"
	"github.com/GriffinCanCode/notebook/internal/sandbox/value"
	"github.com/GriffinCanCode/notebook/internal/shared/id"
)

// Host runs code in sandbox contexts one execution at a time.
//
// The host owns a single pointer to the live run. Every path that can touch
// a run (message arrival, timeout, supersession, teardown, cancellation)
// checks that pointer under mu, so a context that has been disowned can
// never deliver anything again.
type Host struct {
	spawner  sandbox.Spawner
	timeout  time.Duration
	logger   *zap.Logger
	observer Observer

	mu      sync.Mutex
	current *run
}

type run struct {
	id       id.RunID
	sbx      sandbox.Context
	code     string
	started  time.Time
	timer    *time.Timer
	onOutput func(ConsoleEvent)
	onResult func(Outcome)

	// guarded by Host.mu
	sent     bool
	finished bool

	done    chan struct{}
	outcome Outcome
	err     error
}

// Option configures a Host
type Option func(*Host)

// WithTimeout overrides the 30 second execution budget
func WithTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithLogger sets the host logger
func WithLogger(logger *zap.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithObserver registers a lifecycle observer such as the metrics collector
func WithObserver(o Observer) Option {
	return func(h *Host) {
		if o != nil {
			h.observer = o
		}
	}
}

// NewHost creates an execution host
func NewHost(spawner sandbox.Spawner, opts ...Option) *Host {
	h := &Host{
		spawner:  spawner,
		timeout:  DefaultTimeout,
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Timeout returns the execution budget
func (h *Host) Timeout() time.Duration { return h.timeout }

// Busy reports whether a run is live
func (h *Host) Busy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil
}

// Execute runs code in a fresh context and blocks until the run ends.
//
// onOutput receives console events in order; onResult receives the terminal
// outcome exactly once, before Execute returns it. A run replaced by a newer
// Execute returns ErrSuperseded, an explicit Teardown returns ErrTornDown and
// a cancelled ctx returns ctx.Err(); none of those invoke onResult.
// Callbacks must not call back into the Host.
func (h *Host) Execute(ctx context.Context, code string, onOutput func(ConsoleEvent), onResult func(Outcome)) (Outcome, error) {
	if onOutput == nil {
		onOutput = func(ConsoleEvent) {}
	}
	if onResult == nil {
		onResult = func(Outcome) {}
	}

	h.mu.Lock()
	if prev := h.current; prev != nil {
		h.logger.Info("Superseding live execution", zap.String("run_id", prev.id.String()))
		h.abandonLocked(prev, ErrSuperseded, ReasonSuperseded)
	}

	sbx, err := h.spawner.Spawn(ctx)
	if err != nil {
		h.mu.Unlock()
		return Outcome{}, fmt.Errorf("failed to spawn sandbox: %w", err)
	}

	r := &run{
		id:       id.NewRunID(),
		sbx:      sbx,
		code:     code,
		started:  time.Now(),
		onOutput: onOutput,
		onResult: onResult,
		done:     make(chan struct{}),
	}
	h.current = r
	r.timer = time.AfterFunc(h.timeout, func() { h.expire(r) })
	h.mu.Unlock()

	h.observer.ExecutionStarted()
	h.logger.Debug("Execution started",
		zap.String("run_id", r.id.String()),
		zap.String("context_id", sbx.ID()),
	)
	go h.pump(r)

	select {
	case <-r.done:
	case <-ctx.Done():
		h.mu.Lock()
		if !r.finished {
			h.abandonLocked(r, ctx.Err(), ReasonCancelled)
		}
		h.mu.Unlock()
		<-r.done
	}
	return r.outcome, r.err
}

// Teardown disowns the live run, if any. Safe to call at any time and
// any number of times.
func (h *Host) Teardown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r := h.current; r != nil {
		h.abandonLocked(r, ErrTornDown, ReasonCancelled)
	}
}

// Close tears down the live run
func (h *Host) Close() error {
	h.Teardown()
	return nil
}

// pump forwards one context's messages in arrival order
func (h *Host) pump(r *run) {
	for msg := range r.sbx.Messages() {
		h.dispatch(r, msg)
	}

	h.mu.Lock()
	if h.current != r || r.finished {
		h.mu.Unlock()
		return
	}
	h.finishLocked(r)
	h.mu.Unlock()

	h.logger.Warn("Sandbox exited without a result", zap.String("run_id", r.id.String()))
	h.deliver(r, crashedOutcome(time.Since(r.started)), ReasonCrashed)
}

func (h *Host) dispatch(r *run, msg sandbox.Message) {
	h.mu.Lock()
	if h.current != r || r.finished {
		h.mu.Unlock()
		h.logger.Debug("Dropping message from disowned sandbox",
			zap.String("run_id", r.id.String()),
			zap.String("type", string(msg.Type)),
		)
		return
	}

	switch msg.Type {
	case sandbox.MsgReady:
		if r.sent {
			h.mu.Unlock()
			return
		}
		r.sent = true
		if err := r.sbx.Send(sandbox.Execute(r.code)); err != nil {
			h.finishLocked(r)
			h.mu.Unlock()
			h.logger.Error("Failed to send code to sandbox", zap.String("run_id", r.id.String()), zap.Error(err))
			h.deliver(r, crashedOutcome(time.Since(r.started)), ReasonCrashed)
			return
		}
		h.mu.Unlock()

	case sandbox.MsgConsole:
		// Delivered under mu so a teardown can never race a late event
		r.onOutput(ConsoleEvent{Method: msg.Method, Args: msg.Args, Timestamp: time.Now()})
		h.mu.Unlock()
		h.observer.ConsoleEvent(string(msg.Method))

	case sandbox.MsgError:
		r.onOutput(ConsoleEvent{
			Method: sandbox.ConsoleError,
			Args: []value.Value{value.Error(value.ErrorPayload{
				Message: msg.Message,
				Stack:   msg.Stack,
			})},
			Timestamp: time.Now(),
		})
		h.mu.Unlock()
		h.observer.ConsoleEvent(string(sandbox.ConsoleError))

	case sandbox.MsgResult:
		h.finishLocked(r)
		h.mu.Unlock()
		out := resultOutcome(msg)
		h.deliver(r, out, out.reason())

	default:
		h.mu.Unlock()
		h.logger.Debug("Ignoring unexpected sandbox message", zap.String("type", string(msg.Type)))
	}
}

func (h *Host) expire(r *run) {
	h.mu.Lock()
	if h.current != r || r.finished {
		h.mu.Unlock()
		return
	}
	h.finishLocked(r)
	h.mu.Unlock()

	h.logger.Warn("Execution timed out",
		zap.String("run_id", r.id.String()),
		zap.Duration("timeout", h.timeout),
	)
	h.deliver(r, TimeoutOutcome(h.timeout), ReasonTimeout)
}

// finishLocked marks r terminal and releases its resources
func (h *Host) finishLocked(r *run) {
	r.finished = true
	r.timer.Stop()
	if h.current == r {
		h.current = nil
	}
	if err := r.sbx.Close(); err != nil {
		h.logger.Warn("Failed to close sandbox", zap.String("run_id", r.id.String()), zap.Error(err))
	}
}

// abandonLocked ends r without an outcome
func (h *Host) abandonLocked(r *run, err error, reason Reason) {
	h.finishLocked(r)
	r.err = err
	h.observer.ExecutionFinished(reason, time.Since(r.started))
	close(r.done)
}

// deliver hands the outcome to the caller. r must already be finished.
func (h *Host) deliver(r *run, out Outcome, reason Reason) {
	r.onResult(out)
	r.outcome = out
	h.observer.ExecutionFinished(reason, time.Since(r.started))
	close(r.done)

	h.logger.Debug("Execution finished",
		zap.String("run_id", r.id.String()),
		zap.String("reason", string(reason)),
		zap.Int64("execution_ms", out.ExecutionTime),
	)
}

type nopObserver struct{}

func (nopObserver) ExecutionStarted()                        {}
func (nopObserver) ExecutionFinished(Reason, time.Duration) {}
func (nopObserver) ConsoleEvent(string)                      {}
