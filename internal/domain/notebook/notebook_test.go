package notebook

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/notebook/internal/domain/cell"
	"github.com/GriffinCanCode/notebook/internal/domain/persistence"
	"github.com/GriffinCanCode/notebook/internal/execution"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/storage"
	"github.com/GriffinCanCode/notebook/internal/sandbox"
	"github.com/GriffinCanCode/notebook/internal/sandbox/value"
)

const welcome = "// welcome\nconsole.log('hi')"

type fixture struct {
	nb      *Notebook
	store   *cell.Store
	adapter *persistence.Adapter
	db      *storage.DB
}

func newFixture(t *testing.T, db *storage.DB) fixture {
	t.Helper()
	if db == nil {
		var err error
		db, err = storage.Open(filepath.Join(t.TempDir(), "notebook.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
	}

	store := cell.NewStore(welcome)
	adapter := persistence.NewAdapter(db, "", nil)
	host := execution.NewHost(sandbox.NewInProcess(sandbox.DefaultConfig(), nil), execution.WithTimeout(2*time.Second))
	nb := New(Config{
		Store:     store,
		Host:      host,
		Loader:    adapter,
		Autosaver: persistence.NewAutosaver(adapter, nil, persistence.WithDebounce(20*time.Millisecond)),
	})
	return fixture{nb: nb, store: store, adapter: adapter, db: db}
}

func TestOpenWithoutRecordKeepsWelcome(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	state, err := f.nb.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, LoadEmpty, state)

	cells := f.store.Cells()
	require.Len(t, cells, 1)
	assert.Equal(t, welcome, cells[0].Code)

	_, err = f.nb.Open(ctx)
	assert.ErrorIs(t, err, ErrAlreadyOpen)

	// Nothing is written until the user changes something
	time.Sleep(50 * time.Millisecond)
	_, err = f.adapter.Load(ctx)
	assert.ErrorIs(t, err, persistence.ErrNoRecord)

	require.NoError(t, f.store.UpdateCode(cells[0].ID, "1 + 1"))
	require.Eventually(t, func() bool {
		rec, err := f.adapter.Load(ctx)
		return err == nil && len(rec.Cells) == 1 && rec.Cells[0].Code == "1 + 1"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.nb.Close(ctx))
}

func TestOpenRestoresSavedCells(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.adapter.SaveRecord(ctx, []persistence.SavedCell{{ID: "abc", Code: "1+1"}, {ID: "def", Code: "2"}}))

	state, err := f.nb.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, LoadRestored, state)

	cells := f.store.Cells()
	require.Len(t, cells, 2)
	assert.Equal(t, "abc", cells[0].ID)
	assert.Equal(t, "1+1", cells[0].Code)
	assert.Equal(t, cell.StatusIdle, cells[0].Status)
	assert.Equal(t, "abc", f.store.SelectedID())

	require.NoError(t, f.nb.Close(ctx))
}

type brokenLoader struct{}

func (brokenLoader) Load(context.Context) (persistence.Record, error) {
	return persistence.Record{}, errors.New("corrupt")
}

func (brokenLoader) SaveRecord(context.Context, []persistence.SavedCell) error { return nil }

func TestOpenLoadFailureStartsBlank(t *testing.T) {
	store := cell.NewStore(welcome)
	nb := New(Config{
		Store:  store,
		Host:   execution.NewHost(sandbox.NewInProcess(sandbox.DefaultConfig(), nil)),
		Loader: brokenLoader{},
	})

	state, err := nb.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LoadFailed, state)

	cells := store.Cells()
	require.Len(t, cells, 1)
	assert.Equal(t, "", cells[0].Code)
	require.NoError(t, nb.Close(context.Background()))
}

func TestOpenEmptyRecordKeepsWelcome(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.adapter.SaveRecord(ctx, []persistence.SavedCell{}))
	version := f.store.Version()

	state, err := f.nb.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, LoadEmpty, state)

	cells := f.store.Cells()
	require.Len(t, cells, 1)
	assert.Equal(t, welcome, cells[0].Code)
	assert.Equal(t, version, f.store.Version())
	require.NoError(t, f.nb.Close(ctx))
}

func TestOpenDuplicateIDsStartsBlank(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.adapter.SaveRecord(ctx, []persistence.SavedCell{{ID: "x", Code: "1"}, {ID: "x", Code: "2"}}))

	state, err := f.nb.Open(ctx)
	require.NoError(t, err)
	assert.Equal(t, LoadFailed, state)

	cells := f.store.Cells()
	require.Len(t, cells, 1)
	assert.Equal(t, "", cells[0].Code)
	assert.NotEqual(t, "x", cells[0].ID)
	require.NoError(t, f.nb.Close(ctx))
}

// recordingSaver keeps every saved snapshot in memory
type recordingSaver struct {
	mu    sync.Mutex
	saves [][]persistence.SavedCell
}

func (r *recordingSaver) Load(context.Context) (persistence.Record, error) {
	return persistence.Record{}, persistence.ErrNoRecord
}

func (r *recordingSaver) SaveRecord(_ context.Context, saved []persistence.SavedCell) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, saved)
	return nil
}

func (r *recordingSaver) Saves() [][]persistence.SavedCell {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]persistence.SavedCell(nil), r.saves...)
}

func openRecording(t *testing.T, debounce time.Duration) (*Notebook, *cell.Store, *recordingSaver) {
	t.Helper()
	saver := &recordingSaver{}
	store := cell.NewStore(welcome)
	nb := New(Config{
		Store:     store,
		Host:      execution.NewHost(sandbox.NewInProcess(sandbox.DefaultConfig(), nil)),
		Loader:    saver,
		Autosaver: persistence.NewAutosaver(saver, nil, persistence.WithDebounce(debounce)),
	})
	_, err := nb.Open(context.Background())
	require.NoError(t, err)
	return nb, store, saver
}

func TestRapidEditsSaveOnce(t *testing.T) {
	for _, interleave := range []bool{false, true} {
		name := "edits"
		if interleave {
			name = "edits with output"
		}
		t.Run(name, func(t *testing.T) {
			nb, store, saver := openRecording(t, 100*time.Millisecond)
			id := store.SelectedID()
			run, err := store.StartExecution(id)
			require.NoError(t, err)

			for i := 1; i <= 5; i++ {
				if interleave {
					for j := 0; j < 100; j++ {
						store.AppendOutput(run, execution.ConsoleEvent{Method: sandbox.ConsoleLog})
					}
				}
				require.NoError(t, store.UpdateCode(id, fmt.Sprintf("x = %d", i)))
			}

			require.Eventually(t, func() bool { return len(saver.Saves()) > 0 }, 2*time.Second, 10*time.Millisecond)
			time.Sleep(250 * time.Millisecond)

			saves := saver.Saves()
			require.Len(t, saves, 1)
			assert.Equal(t, []persistence.SavedCell{{ID: id, Code: "x = 5"}}, saves[0])
			require.NoError(t, nb.Close(context.Background()))
			assert.Len(t, saver.Saves(), 1)
		})
	}
}

func TestEditAfterOutputFloodIsSaved(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.nb.Open(ctx)
	require.NoError(t, err)
	defer f.nb.Close(ctx)

	id := f.store.SelectedID()
	run, err := f.store.StartExecution(id)
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		f.store.AppendOutput(run, execution.ConsoleEvent{Method: sandbox.ConsoleLog})
	}
	require.NoError(t, f.store.UpdateCode(id, "edited"))

	require.Eventually(t, func() bool {
		rec, err := f.adapter.Load(ctx)
		return err == nil && len(rec.Cells) == 1 && rec.Cells[0].Code == "edited"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunCell(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.nb.Open(ctx)
	require.NoError(t, err)
	defer f.nb.Close(ctx)

	id := f.store.SelectedID()
	require.NoError(t, f.store.UpdateCode(id, `console.log("Hello, World!"); ({a: [1, "x", null]})`))

	out, err := f.nb.RunCell(ctx, id)
	require.NoError(t, err)
	assert.True(t, out.Success)

	c, _ := f.store.Get(id)
	assert.Equal(t, cell.StatusSuccess, c.Status)
	require.Len(t, c.Output, 1)
	assert.Equal(t, sandbox.ConsoleLog, c.Output[0].Method)
	assert.Equal(t, `"Hello, World!"`, value.RenderArgs(c.Output[0].Args))
	assert.Equal(t, `{ a: [1, "x", null] }`, value.Render(*c.Result))
	require.NotNil(t, c.ExecutionTime)

	require.NoError(t, f.store.UpdateCode(id, `throw new Error("boom")`))
	_, err = f.nb.RunCell(ctx, id)
	require.NoError(t, err)
	c, _ = f.store.Get(id)
	assert.Equal(t, cell.StatusError, c.Status)
	p, ok := c.Result.Err()
	require.True(t, ok)
	assert.Equal(t, "boom", p.Message)

	_, err = f.nb.RunCell(ctx, "missing")
	assert.ErrorIs(t, err, cell.ErrCellNotFound)
}

func TestRunCellSupersededEndsInError(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.nb.Open(ctx)
	require.NoError(t, err)
	defer f.nb.Close(ctx)

	first := f.store.SelectedID()
	require.NoError(t, f.store.UpdateCode(first, "while (true) {}"))
	second := f.store.Create("", "'second'")

	errCh := make(chan error, 1)
	go func() {
		_, err := f.nb.RunCell(ctx, first)
		errCh <- err
	}()
	require.Eventually(t, f.nb.Host().Busy, time.Second, time.Millisecond)

	_, err = f.nb.RunCell(ctx, first)
	assert.ErrorIs(t, err, cell.ErrCellRunning)

	out, err := f.nb.RunCell(ctx, second)
	require.NoError(t, err)
	assert.True(t, out.Success)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, execution.ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded run did not return")
	}

	c, _ := f.store.Get(first)
	assert.Equal(t, cell.StatusError, c.Status)
	p, _ := c.Result.Err()
	assert.Equal(t, "CancelledError", p.Name)
}

func TestImportMidRunKeepsRerunResult(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.nb.Open(ctx)
	require.NoError(t, err)
	defer f.nb.Close(ctx)

	id := f.store.SelectedID()
	require.NoError(t, f.store.UpdateCode(id, "setTimeout(() => {}, 1000)"))

	errCh := make(chan error, 1)
	go func() {
		_, err := f.nb.RunCell(ctx, id)
		errCh <- err
	}()
	require.Eventually(t, f.nb.Host().Busy, time.Second, time.Millisecond)

	require.NoError(t, f.store.UpdateCode(id, "42"))
	require.NoError(t, f.nb.Import(ctx, f.nb.Export("")))

	out, err := f.nb.RunCell(ctx, id)
	require.NoError(t, err)
	assert.True(t, out.Success)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, execution.ErrTornDown)
	case <-time.After(2 * time.Second):
		t.Fatal("torn down run did not return")
	}

	c, _ := f.store.Get(id)
	assert.Equal(t, cell.StatusSuccess, c.Status)
	require.NotNil(t, c.Result)
	assert.Equal(t, "42", value.Render(*c.Result))
}

func TestExportImport(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.nb.Open(ctx)
	require.NoError(t, err)

	rec := persistence.Record{Cells: []persistence.SavedCell{{ID: "abc", Code: "1+1"}}}
	require.NoError(t, f.nb.Import(ctx, rec))

	exported := f.nb.Export("default")
	assert.Equal(t, rec.Cells, exported.Cells)

	saved, err := f.adapter.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.Cells, saved.Cells)

	require.NoError(t, f.nb.Close(ctx))
}

func TestImportRejectsDuplicateIDs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.nb.Open(ctx)
	require.NoError(t, err)
	defer f.nb.Close(ctx)

	rec := persistence.Record{Cells: []persistence.SavedCell{{ID: "x", Code: "1"}, {ID: "x", Code: "2"}}}
	err = f.nb.Import(ctx, rec)
	assert.ErrorIs(t, err, persistence.ErrInvalidRecord)

	cells := f.store.Cells()
	require.Len(t, cells, 1)
	assert.Equal(t, welcome, cells[0].Code)
}

func TestCloseFlushesPendingSave(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.nb.Open(ctx)
	require.NoError(t, err)

	f.store.Create("", "const y = 2")
	require.NoError(t, f.nb.Close(ctx))

	rec, err := f.adapter.Load(ctx)
	require.NoError(t, err)
	require.Len(t, rec.Cells, 2)
	assert.Equal(t, "const y = 2", rec.Cells[1].Code)
}
