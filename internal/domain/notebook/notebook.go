package notebook

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook/internal/domain/cell"
	"github.com/GriffinCanCode/notebook/internal/domain/persistence"
	"github.com/GriffinCanCode/notebook/internal/execution"
	"github.com/GriffinCanCode/notebook/internal/sandbox/value"
)

// ErrAlreadyOpen is returned by a second Open
var ErrAlreadyOpen = errors.New("notebook already open")

// Loader reads and writes the persisted record
type Loader interface {
	Load(ctx context.Context) (persistence.Record, error)
	SaveRecord(ctx context.Context, saved []persistence.SavedCell) error
}

// LoadState describes what Open found
type LoadState string

const (
	LoadRestored LoadState = "restored" // saved cells replaced the initial cell
	LoadEmpty    LoadState = "empty"    // nothing saved, welcome cell kept
	LoadFailed   LoadState = "failed"   // load error, reset to one blank cell
	LoadSkipped  LoadState = "skipped"  // no persistence configured
)

// Config wires a notebook together. Loader and Autosaver may be nil for an
// unpersisted notebook.
type Config struct {
	Store     *cell.Store
	Host      *execution.Host
	Loader    Loader
	Autosaver *persistence.Autosaver
	Logger    *zap.Logger
}

// Notebook runs cells through the execution host and keeps the persisted
// record in step with the store.
type Notebook struct {
	store     *cell.Store
	host      *execution.Host
	loader    Loader
	autosaver *persistence.Autosaver
	logger    *zap.Logger

	mu       sync.Mutex
	opened   bool
	unsub    func()
	watching sync.WaitGroup
}

// New creates a notebook. Nothing is loaded until Open.
func New(cfg Config) *Notebook {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notebook{
		store:     cfg.Store,
		host:      cfg.Host,
		loader:    cfg.Loader,
		autosaver: cfg.Autosaver,
		logger:    logger,
	}
}

// Store returns the cell store
func (n *Notebook) Store() *cell.Store { return n.store }

// Host returns the execution host
func (n *Notebook) Host() *execution.Host { return n.host }

// Open loads the saved record and then starts autosaving. Load problems are
// logged and never returned; the notebook is usable either way.
func (n *Notebook) Open(ctx context.Context) (LoadState, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.opened {
		return "", ErrAlreadyOpen
	}
	n.opened = true

	state := n.load(ctx)

	// Subscribing only now keeps the restore itself from being saved back
	if n.autosaver != nil {
		dirty, unsub := n.store.SubscribeDirty()
		n.unsub = unsub
		n.watching.Add(1)
		go n.watch(dirty)
	}
	return state, nil
}

func (n *Notebook) load(ctx context.Context) LoadState {
	if n.loader == nil {
		return LoadSkipped
	}

	rec, err := n.loader.Load(ctx)
	switch {
	case errors.Is(err, persistence.ErrNoRecord):
		n.logger.Info("No saved notebook, starting fresh")
		return LoadEmpty
	case err != nil:
		n.logger.Error("Failed to load notebook, starting blank", zap.Error(err))
		n.store.Reset()
		return LoadFailed
	case len(rec.Cells) == 0:
		n.logger.Info("Saved notebook is empty, starting fresh")
		return LoadEmpty
	}

	n.store.Restore(persistence.Restore(rec.Cells))
	n.logger.Info("Notebook restored", zap.Int("cells", len(rec.Cells)))
	return LoadRestored
}

// watch snapshots on every dirty signal. The snapshot is read after the
// signal, so coalesced edits are saved with their latest code.
func (n *Notebook) watch(dirty <-chan struct{}) {
	defer n.watching.Done()
	for range dirty {
		n.autosaver.Schedule(persistence.Snapshot(n.store.Cells()))
	}
}

// RunCell executes a cell's current code and blocks until it finishes.
// Console events and the outcome are written to the store as they arrive.
// A run that is superseded, torn down or cancelled still leaves the cell in
// the error state.
func (n *Notebook) RunCell(ctx context.Context, cellID string) (execution.Outcome, error) {
	run, err := n.store.StartExecution(cellID)
	if err != nil {
		return execution.Outcome{}, err
	}

	out, err := n.host.Execute(ctx, run.Code,
		func(ev execution.ConsoleEvent) { n.store.AppendOutput(run, ev) },
		func(o execution.Outcome) { n.store.FinishExecution(run, o) },
	)
	if err != nil {
		aborted := abortedOutcome(err)
		n.store.FinishExecution(run, aborted)
		n.logger.Debug("Run ended without a result", zap.String("cell_id", cellID), zap.Error(err))
		return aborted, err
	}
	return out, nil
}

// RunSelected runs the selected cell
func (n *Notebook) RunSelected(ctx context.Context) (string, execution.Outcome, error) {
	cellID := n.store.SelectedID()
	out, err := n.RunCell(ctx, cellID)
	return cellID, out, err
}

// Export returns the persisted shape of the current cells
func (n *Notebook) Export(key string) persistence.Record {
	return persistence.Record{
		ID:    key,
		Cells: persistence.Snapshot(n.store.Cells()),
	}
}

// Import replaces every cell with rec's cells and saves immediately
func (n *Notebook) Import(ctx context.Context, rec persistence.Record) error {
	if err := persistence.Validate(rec.Cells); err != nil {
		return err
	}
	n.host.Teardown()
	n.store.Restore(persistence.Restore(rec.Cells))
	if n.loader == nil {
		return nil
	}
	if err := n.loader.SaveRecord(ctx, persistence.Snapshot(n.store.Cells())); err != nil {
		return fmt.Errorf("failed to save imported notebook: %w", err)
	}
	return nil
}

// Close tears down any live run and flushes the pending save
func (n *Notebook) Close(ctx context.Context) error {
	n.host.Teardown()

	n.mu.Lock()
	unsub := n.unsub
	n.unsub = nil
	n.mu.Unlock()

	if unsub != nil {
		unsub()
		n.watching.Wait()
	}
	if n.autosaver == nil {
		return nil
	}
	if err := n.autosaver.Close(ctx); err != nil {
		return fmt.Errorf("failed to flush notebook: %w", err)
	}
	return nil
}

func abortedOutcome(err error) execution.Outcome {
	switch {
	case errors.Is(err, execution.ErrSuperseded),
		errors.Is(err, execution.ErrTornDown),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return execution.CancelledOutcome(err)
	}
	return execution.Outcome{
		Error: &value.ErrorPayload{Name: "SandboxError", Message: err.Error()},
	}
}
