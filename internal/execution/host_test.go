package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/notebook/internal/sandbox"
	"github.com/GriffinCanCode/notebook/internal/sandbox/value"
)

// fakeContext is a context whose messages are scripted by the test
type fakeContext struct {
	id   string
	out  chan sandbox.Message
	sent chan sandbox.Message

	mu     sync.Mutex
	closes int
}

func (c *fakeContext) ID() string                       { return c.id }
func (c *fakeContext) Messages() <-chan sandbox.Message { return c.out }

func (c *fakeContext) Send(msg sandbox.Message) error {
	c.sent <- msg
	return nil
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeContext) closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type fakeSpawner struct {
	spawned chan *fakeContext
	n       int
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{spawned: make(chan *fakeContext, 8)}
}

func (s *fakeSpawner) Spawn(ctx context.Context) (sandbox.Context, error) {
	s.n++
	c := &fakeContext{
		id:   string(rune('a' + s.n)),
		out:  make(chan sandbox.Message, 16),
		sent: make(chan sandbox.Message, 4),
	}
	s.spawned <- c
	return c, nil
}

func (s *fakeSpawner) next(t *testing.T) *fakeContext {
	t.Helper()
	select {
	case c := <-s.spawned:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no context spawned")
		return nil
	}
}

type recorder struct {
	mu      sync.Mutex
	events  []ConsoleEvent
	results []Outcome
}

func (r *recorder) output(ev ConsoleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) result(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, o)
}

func (r *recorder) snapshot() ([]ConsoleEvent, []Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConsoleEvent(nil), r.events...), append([]Outcome(nil), r.results...)
}

type execResult struct {
	outcome Outcome
	err     error
}

func start(h *Host, code string, rec *recorder) <-chan execResult {
	ch := make(chan execResult, 1)
	go func() {
		out, err := h.Execute(context.Background(), code, rec.output, rec.result)
		ch <- execResult{out, err}
	}()
	return ch
}

func wait(t *testing.T, ch <-chan execResult) execResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return")
		return execResult{}
	}
}

func TestExecuteSendsCodeOnlyAfterReady(t *testing.T) {
	spawner := newFakeSpawner()
	h := NewHost(spawner)
	rec := &recorder{}

	done := start(h, "1 + 1", rec)
	c := spawner.next(t)

	select {
	case <-c.sent:
		t.Fatal("code sent before ready")
	case <-time.After(20 * time.Millisecond):
	}

	c.out <- sandbox.Ready()
	msg := <-c.sent
	assert.Equal(t, sandbox.MsgExecute, msg.Type)
	assert.Equal(t, "1 + 1", msg.Code)

	c.out <- sandbox.Console(sandbox.ConsoleLog, []value.Value{value.JSON([]byte(`"hi"`))})
	c.out <- sandbox.Uncaught(value.ErrorPayload{Message: "late", Stack: "at x"})
	c.out <- sandbox.Success(value.JSON([]byte("2")), 3)

	res := wait(t, done)
	require.NoError(t, res.err)
	assert.True(t, res.outcome.Success)
	assert.Equal(t, "2", value.Render(*res.outcome.Value))
	assert.Equal(t, int64(3), res.outcome.ExecutionTime)

	events, results := rec.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, sandbox.ConsoleLog, events[0].Method)
	assert.Equal(t, sandbox.ConsoleError, events[1].Method)
	p, ok := events[1].Args[0].Err()
	require.True(t, ok)
	assert.Equal(t, "late", p.Message)
	assert.Equal(t, "at x", p.Stack)

	require.Len(t, results, 1)
	assert.Equal(t, res.outcome, results[0])
	assert.Equal(t, 1, c.closed())
	assert.False(t, h.Busy())
}

func TestExecuteFailureResult(t *testing.T) {
	spawner := newFakeSpawner()
	h := NewHost(spawner)
	rec := &recorder{}

	done := start(h, "throw new Error('boom')", rec)
	c := spawner.next(t)
	c.out <- sandbox.Ready()
	<-c.sent
	c.out <- sandbox.Failure(value.ErrorPayload{Name: "Error", Message: "boom"}, 1)

	res := wait(t, done)
	require.NoError(t, res.err)
	assert.False(t, res.outcome.Success)
	require.NotNil(t, res.outcome.Error)
	assert.Equal(t, "boom", res.outcome.Error.Message)
}

func TestExecuteTimeout(t *testing.T) {
	spawner := newFakeSpawner()
	h := NewHost(spawner, WithTimeout(50*time.Millisecond))
	rec := &recorder{}

	begin := time.Now()
	done := start(h, "while (true) {}", rec)
	c := spawner.next(t)
	c.out <- sandbox.Ready()
	<-c.sent

	res := wait(t, done)
	require.NoError(t, res.err)
	assert.GreaterOrEqual(t, time.Since(begin), 50*time.Millisecond)
	assert.Equal(t, TimeoutOutcome(50*time.Millisecond), res.outcome)
	assert.Equal(t, "TimeoutError", res.outcome.Error.Name)
	assert.Equal(t, int64(50), res.outcome.ExecutionTime)

	// A straggling result after the timeout is inert
	c.out <- sandbox.Success(value.JSON([]byte("1")), 1)
	time.Sleep(20 * time.Millisecond)
	_, results := rec.snapshot()
	assert.Len(t, results, 1)
	assert.Equal(t, 1, c.closed())
}

func TestTimeoutOutcomeDefaultBudget(t *testing.T) {
	out := TimeoutOutcome(DefaultTimeout)

	assert.False(t, out.Success)
	assert.Equal(t, "TimeoutError", out.Error.Name)
	assert.Equal(t, "Execution timeout (30s)", out.Error.Message)
	assert.Equal(t, int64(30000), out.ExecutionTime)
}

func TestSupersededRunNeverDelivers(t *testing.T) {
	spawner := newFakeSpawner()
	h := NewHost(spawner)
	first, second := &recorder{}, &recorder{}

	firstDone := start(h, "first", first)
	c1 := spawner.next(t)
	c1.out <- sandbox.Ready()
	<-c1.sent

	secondDone := start(h, "second", second)
	c2 := spawner.next(t)

	res := wait(t, firstDone)
	assert.ErrorIs(t, res.err, ErrSuperseded)
	assert.Equal(t, 1, c1.closed())

	// Stale messages from the disowned context
	c1.out <- sandbox.Console(sandbox.ConsoleLog, []value.Value{value.JSON([]byte(`"stale"`))})
	c1.out <- sandbox.Success(value.JSON([]byte(`"stale"`)), 1)

	c2.out <- sandbox.Ready()
	<-c2.sent
	c2.out <- sandbox.Success(value.JSON([]byte(`"fresh"`)), 1)

	res = wait(t, secondDone)
	require.NoError(t, res.err)
	assert.Equal(t, `"fresh"`, value.Render(*res.outcome.Value))

	time.Sleep(20 * time.Millisecond)
	events, results := first.snapshot()
	assert.Empty(t, events)
	assert.Empty(t, results)

	events, results = second.snapshot()
	assert.Empty(t, events)
	assert.Len(t, results, 1)
}

func TestTeardownIsIdempotent(t *testing.T) {
	spawner := newFakeSpawner()
	h := NewHost(spawner)
	rec := &recorder{}

	h.Teardown()

	done := start(h, "x", rec)
	c := spawner.next(t)
	require.Eventually(t, h.Busy, time.Second, time.Millisecond)

	h.Teardown()
	h.Teardown()
	require.NoError(t, h.Close())

	res := wait(t, done)
	assert.ErrorIs(t, res.err, ErrTornDown)
	assert.Equal(t, 1, c.closed())
	assert.False(t, h.Busy())

	c.out <- sandbox.Ready()
	c.out <- sandbox.Success(value.JSON([]byte("1")), 1)
	time.Sleep(20 * time.Millisecond)
	_, results := rec.snapshot()
	assert.Empty(t, results)
}

func TestExecuteContextCancel(t *testing.T) {
	spawner := newFakeSpawner()
	h := NewHost(spawner)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := h.Execute(ctx, "x", nil, nil)
		errCh <- err
	}()
	c := spawner.next(t)
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Execute ignored cancellation")
	}
	assert.Equal(t, 1, c.closed())
}

func TestExecuteContextExitWithoutResult(t *testing.T) {
	spawner := newFakeSpawner()
	h := NewHost(spawner)
	rec := &recorder{}

	done := start(h, "x", rec)
	c := spawner.next(t)
	c.out <- sandbox.Ready()
	<-c.sent
	close(c.out)

	res := wait(t, done)
	require.NoError(t, res.err)
	assert.False(t, res.outcome.Success)
	assert.Equal(t, "SandboxError", res.outcome.Error.Name)
}

type spawnError struct{}

func (spawnError) Spawn(context.Context) (sandbox.Context, error) {
	return nil, errors.New("no sandbox")
}

func TestExecuteSpawnFailure(t *testing.T) {
	h := NewHost(spawnError{})
	_, err := h.Execute(context.Background(), "1", nil, nil)
	assert.ErrorContains(t, err, "failed to spawn sandbox")
	assert.False(t, h.Busy())
}

func TestExecuteInProcess(t *testing.T) {
	h := NewHost(sandbox.NewInProcess(sandbox.DefaultConfig(), nil), WithTimeout(2*time.Second))
	rec := &recorder{}

	out, err := h.Execute(context.Background(), `console.log("Hello, World!"); ({a: [1, "x", null]})`, rec.output, rec.result)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, `{ a: [1, "x", null] }`, value.Render(*out.Value))

	events, _ := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, `"Hello, World!"`, value.RenderArgs(events[0].Args))

	out, err = h.Execute(context.Background(), `throw new Error("boom")`, nil, nil)
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "boom", out.Error.Message)
}

func TestExecuteInProcessTimeoutStopsRuntime(t *testing.T) {
	h := NewHost(sandbox.NewInProcess(sandbox.DefaultConfig(), nil), WithTimeout(100*time.Millisecond))

	out, err := h.Execute(context.Background(), "while (true) {}", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "TimeoutError", out.Error.Name)
	assert.Equal(t, int64(100), out.ExecutionTime)

	// The host is immediately usable again
	out, err = h.Execute(context.Background(), "'next'", nil, nil)
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestExecuteInProcessPendingTimerTimesOut(t *testing.T) {
	scripts := map[string]string{
		"longer than budget": `setTimeout(() => console.log("late"), 5000); 1`,
		"past duration range": `setTimeout(() => console.log("late"), 1e13); 1`,
	}
	for name, script := range scripts {
		t.Run(name, func(t *testing.T) {
			h := NewHost(sandbox.NewInProcess(sandbox.DefaultConfig(), nil), WithTimeout(100*time.Millisecond))
			defer h.Close()
			rec := &recorder{}

			out, err := h.Execute(context.Background(), script, rec.output, rec.result)
			require.NoError(t, err)
			assert.False(t, out.Success)
			assert.Equal(t, "TimeoutError", out.Error.Name)

			events, _ := rec.snapshot()
			assert.Empty(t, events)
		})
	}
}
