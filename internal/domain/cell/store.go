package cell

import (
	"fmt"
	"sync"

	"github.com/GriffinCanCode/notebook/internal/execution"
	"github.com/GriffinCanCode/notebook/internal/sandbox/value"
	"github.com/GriffinCanCode/notebook/internal/shared/id"
)

// Store is the single writer of the notebook's cells. It always holds at
// least one cell and exactly one selected cell. Readers get copies.
type Store struct {
	mu       sync.RWMutex
	cells    []*Cell
	selected string
	focus    string
	version  uint64
	runSeq   uint64
	newID    func() string

	subs    map[int]chan Change
	dirty   map[int]chan struct{}
	nextSub int
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithIDGenerator replaces ULID cell identifiers, mainly for tests
func WithIDGenerator(fn func() string) StoreOption {
	return func(s *Store) { s.newID = fn }
}

// NewStore creates a store holding one idle cell with initialCode
func NewStore(initialCode string, opts ...StoreOption) *Store {
	s := &Store{
		newID: func() string { return id.NewCellID().String() },
		subs:  make(map[int]chan Change),
		dirty: make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	first := New(s.newID(), initialCode)
	s.cells = []*Cell{&first}
	s.selected = first.ID
	return s
}

// Subscribe registers for change notifications. A subscriber that falls
// more than buffer notifications behind misses the overflow; Version lets
// it notice. The returned func unsubscribes and closes the channel.
func (s *Store) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)

	s.mu.Lock()
	key := s.nextSub
	s.nextSub++
	s.subs[key] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, key)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// SubscribeDirty registers for structure and code changes. Signals
// coalesce: any number of changes between two receives leave exactly one
// pending signal, so a slow reader never misses the latest edit. The
// returned func unsubscribes and closes the channel.
func (s *Store) SubscribeDirty() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	key := s.nextSub
	s.nextSub++
	s.dirty[key] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.dirty, key)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) notifyLocked(t ChangeType, cellID string) {
	s.version++
	change := Change{Type: t, CellID: cellID, Version: s.version}
	for _, ch := range s.subs {
		select {
		case ch <- change:
		default:
		}
	}
	if !change.Persistent() {
		return
	}
	for _, ch := range s.dirty {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) indexLocked(cellID string) int {
	for i, c := range s.cells {
		if c.ID == cellID {
			return i
		}
	}
	return -1
}

// Create inserts a cell after afterID, or at the end when afterID is empty
// or unknown. The new cell is selected and receives focus.
func (s *Store) Create(afterID, code string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := New(s.newID(), code)
	idx := len(s.cells)
	if afterID != "" {
		if i := s.indexLocked(afterID); i >= 0 {
			idx = i + 1
		}
	}

	s.cells = append(s.cells, nil)
	copy(s.cells[idx+1:], s.cells[idx:])
	s.cells[idx] = &c

	s.selected = c.ID
	s.focus = c.ID
	s.notifyLocked(ChangeStructure, c.ID)
	return c.ID
}

// Delete removes a cell. Deleting the only cell resets it to a fresh blank
// one. Selection and focus move to the predecessor, or the first cell.
func (s *Store) Delete(cellID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(cellID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrCellNotFound, cellID)
	}

	if len(s.cells) == 1 {
		fresh := New(s.newID(), "")
		s.cells = []*Cell{&fresh}
		s.selected = fresh.ID
		s.focus = fresh.ID
		s.notifyLocked(ChangeStructure, fresh.ID)
		return nil
	}

	s.cells = append(s.cells[:idx], s.cells[idx+1:]...)

	next := 0
	if idx > 0 {
		next = idx - 1
	}
	s.selected = s.cells[next].ID
	s.focus = s.cells[next].ID
	s.notifyLocked(ChangeStructure, cellID)
	return nil
}

// Move reorders cells. Identifiers never change and selection stays on the
// same cell identifier.
func (s *Store) Move(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.cells)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("%w: move %d -> %d with %d cells", ErrIndexOutOfRange, from, to, n)
	}
	if from == to {
		return nil
	}

	moved := s.cells[from]
	s.cells = append(s.cells[:from], s.cells[from+1:]...)
	s.cells = append(s.cells, nil)
	copy(s.cells[to+1:], s.cells[to:])
	s.cells[to] = moved

	s.notifyLocked(ChangeStructure, moved.ID)
	return nil
}

// UpdateCode replaces a cell's source. Status, output and result are left
// alone, including for a running cell whose run already captured its code.
func (s *Store) UpdateCode(cellID, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(cellID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrCellNotFound, cellID)
	}
	if s.cells[idx].Code == code {
		return nil
	}
	s.cells[idx].Code = code
	s.notifyLocked(ChangeCode, cellID)
	return nil
}

// StartExecution moves a cell to running, clears its previous outcome and
// selects it. The returned Run carries the code to execute and must be
// passed back with the run's output and outcome.
func (s *Store) StartExecution(cellID string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(cellID)
	if idx < 0 {
		return Run{}, fmt.Errorf("%w: %s", ErrCellNotFound, cellID)
	}
	c := s.cells[idx]
	if c.Status == StatusRunning {
		return Run{}, fmt.Errorf("%w: %s", ErrCellRunning, cellID)
	}

	s.runSeq++
	c.run = s.runSeq
	c.Output = []execution.ConsoleEvent{}
	c.Result = nil
	c.Status = StatusRunning
	c.ExecutionTime = nil
	s.selected = cellID

	s.notifyLocked(ChangeExecution, cellID)
	return Run{CellID: cellID, Code: c.Code, Seq: c.run}, nil
}

// liveLocked returns the cell run belongs to, or nil when the cell is gone,
// not running, or running a newer run
func (s *Store) liveLocked(run Run) *Cell {
	idx := s.indexLocked(run.CellID)
	if idx < 0 {
		return nil
	}
	c := s.cells[idx]
	if c.Status != StatusRunning || c.run != run.Seq {
		return nil
	}
	return c
}

// AppendOutput adds a console event to a live run. Events for deleted
// cells or superseded runs are ignored.
func (s *Store) AppendOutput(run Run, ev execution.ConsoleEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.liveLocked(run)
	if c == nil {
		return
	}
	c.Output = append(c.Output, ev)
	s.notifyLocked(ChangeOutput, run.CellID)
}

// FinishExecution records a run's terminal outcome. Deleted cells, cells
// restored mid-run and runs that were started again are left alone.
func (s *Store) FinishExecution(run Run, out execution.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.liveLocked(run)
	if c == nil {
		return
	}

	if out.Success {
		c.Status = StatusSuccess
		c.Result = out.Value
	} else {
		c.Status = StatusError
		if out.Error != nil {
			v := value.Error(*out.Error)
			c.Result = &v
		}
	}
	ms := out.ExecutionTime
	c.ExecutionTime = &ms

	s.notifyLocked(ChangeExecution, run.CellID)
}

// Select makes a cell the selected one
func (s *Store) Select(cellID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(cellID) < 0 {
		return fmt.Errorf("%w: %s", ErrCellNotFound, cellID)
	}
	s.selected = cellID
	s.notifyLocked(ChangeSelection, cellID)
	return nil
}

// FocusCell selects a cell and requests input focus for it
func (s *Store) FocusCell(cellID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(cellID) < 0 {
		return fmt.Errorf("%w: %s", ErrCellNotFound, cellID)
	}
	s.selected = cellID
	s.focus = cellID
	s.notifyLocked(ChangeSelection, cellID)
	return nil
}

// SelectPrev moves selection and focus one cell up. It returns false at the top.
func (s *Store) SelectPrev() bool {
	return s.step(-1)
}

// SelectNext moves selection and focus one cell down. It returns false at the bottom.
func (s *Store) SelectNext() bool {
	return s.step(1)
}

func (s *Store) step(delta int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(s.selected)
	next := idx + delta
	if idx < 0 || next < 0 || next >= len(s.cells) {
		return false
	}
	s.selected = s.cells[next].ID
	s.focus = s.selected
	s.notifyLocked(ChangeSelection, s.selected)
	return true
}

// ConsumeFocus returns and clears the pending focus request
func (s *Store) ConsumeFocus() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.focus
	s.focus = ""
	return f, f != ""
}

// ClearFocus drops the pending focus request
func (s *Store) ClearFocus() {
	s.mu.Lock()
	s.focus = ""
	s.mu.Unlock()
}

// Focus returns the pending focus request without consuming it
func (s *Store) Focus() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focus
}

// SelectedID returns the selected cell identifier
func (s *Store) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedLocked().ID
}

// Selected returns a copy of the selected cell, falling back to the first
func (s *Store) Selected() Cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedLocked().clone()
}

func (s *Store) selectedLocked() *Cell {
	if idx := s.indexLocked(s.selected); idx >= 0 {
		return s.cells[idx]
	}
	return s.cells[0]
}

// Get returns a copy of one cell
func (s *Store) Get(cellID string) (Cell, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(cellID)
	if idx < 0 {
		return Cell{}, false
	}
	return s.cells[idx].clone(), true
}

// Cells returns a copy of every cell in order
func (s *Store) Cells() []Cell {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Cell, len(s.cells))
	for i, c := range s.cells {
		out[i] = c.clone()
	}
	return out
}

// Len returns the number of cells
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cells)
}

// Version increases on every mutation
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Restore replaces every cell, selecting and focusing the first. An empty
// list resets the store instead.
func (s *Store) Restore(cells []Cell) {
	if len(cells) == 0 {
		s.Reset()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cells = make([]*Cell, len(cells))
	for i := range cells {
		c := cells[i].clone()
		s.cells[i] = &c
	}
	s.selected = s.cells[0].ID
	s.focus = s.cells[0].ID
	s.notifyLocked(ChangeStructure, "")
}

// Reset replaces every cell with one blank cell
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := New(s.newID(), "")
	s.cells = []*Cell{&fresh}
	s.selected = fresh.ID
	s.focus = fresh.ID
	s.notifyLocked(ChangeStructure, "")
}
