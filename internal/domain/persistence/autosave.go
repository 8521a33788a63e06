package persistence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period before a scheduled save is written
const DefaultDebounce = 1500 * time.Millisecond

// SaveObserver is told about every autosave attempt
type SaveObserver interface {
	AutosaveFinished(err error, elapsed time.Duration)
}

// Saver is the write side of an Adapter
type Saver interface {
	SaveRecord(ctx context.Context, saved []SavedCell) error
}

// Autosaver writes the latest scheduled snapshot once no new snapshot has
// arrived for the debounce period. Failures are logged and never returned.
type Autosaver struct {
	saver    Saver
	debounce time.Duration
	logger   *zap.Logger
	observer SaveObserver

	mu      sync.Mutex
	pending []SavedCell
	dirty   bool
	timer   *time.Timer
	closed  bool

	// serializes writes so an older snapshot never lands after a newer one
	writeMu sync.Mutex
}

// AutosaveOption configures an Autosaver
type AutosaveOption func(*Autosaver)

// WithDebounce overrides DefaultDebounce
func WithDebounce(d time.Duration) AutosaveOption {
	return func(a *Autosaver) {
		if d > 0 {
			a.debounce = d
		}
	}
}

// WithSaveObserver registers an observer, typically the metrics collector
func WithSaveObserver(o SaveObserver) AutosaveOption {
	return func(a *Autosaver) {
		if o != nil {
			a.observer = o
		}
	}
}

// NewAutosaver creates an autosaver writing through saver
func NewAutosaver(saver Saver, logger *zap.Logger, opts ...AutosaveOption) *Autosaver {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Autosaver{
		saver:    saver,
		debounce: DefaultDebounce,
		logger:   logger,
		observer: nopSaveObserver{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Schedule replaces the pending snapshot and restarts the quiet period
func (a *Autosaver) Schedule(saved []SavedCell) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.pending = saved
	a.dirty = true
	if a.timer == nil {
		a.timer = time.AfterFunc(a.debounce, a.fire)
		return
	}
	a.timer.Reset(a.debounce)
}

// Pending reports whether a snapshot is waiting to be written
func (a *Autosaver) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dirty
}

func (a *Autosaver) fire() {
	a.write(context.Background())
}

// Flush writes the pending snapshot now, if any
func (a *Autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.mu.Unlock()
	return a.write(ctx)
}

// Close flushes and stops accepting snapshots
func (a *Autosaver) Close(ctx context.Context) error {
	err := a.Flush(ctx)
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return err
}

func (a *Autosaver) write(ctx context.Context) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	if !a.dirty {
		a.mu.Unlock()
		return nil
	}
	saved := a.pending
	a.pending = nil
	a.dirty = false
	a.mu.Unlock()

	start := time.Now()
	err := a.saver.SaveRecord(ctx, saved)
	a.observer.AutosaveFinished(err, time.Since(start))
	if err != nil {
		a.logger.Warn("Autosave failed", zap.Int("cells", len(saved)), zap.Error(err))
		return err
	}
	return nil
}

type nopSaveObserver struct{}

func (nopSaveObserver) AutosaveFinished(error, time.Duration) {}
