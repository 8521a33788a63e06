package cell

import (
	"errors"

	"github.com/GriffinCanCode/notebook/internal/execution"
	"github.com/GriffinCanCode/notebook/internal/sandbox/value"
)

var (
	ErrCellNotFound    = errors.New("cell not found")
	ErrCellRunning     = errors.New("cell is already running")
	ErrIndexOutOfRange = errors.New("cell index out of range")
)

// Status is the execution state of a cell
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Cell is one unit of code plus its last execution outcome
type Cell struct {
	ID            string                   `json:"id"`
	Code          string                   `json:"code"`
	Output        []execution.ConsoleEvent `json:"output"`
	Result        *value.Value             `json:"result"`
	Status        Status                   `json:"status"`
	ExecutionTime *int64                   `json:"executionTime"`

	run uint64 // sequence of the live or last run, 0 before any
}

// Run identifies one execution of a cell. Output and outcomes that carry
// a superseded Run are dropped by the store.
type Run struct {
	CellID string
	Code   string
	Seq    uint64
}

// New creates an idle cell
func New(id, code string) Cell {
	return Cell{
		ID:     id,
		Code:   code,
		Output: []execution.ConsoleEvent{},
		Status: StatusIdle,
	}
}

// clone copies c so callers can't reach store-owned slices
func (c *Cell) clone() Cell {
	out := *c
	out.Output = append([]execution.ConsoleEvent{}, c.Output...)
	if c.Result != nil {
		r := *c.Result
		out.Result = &r
	}
	if c.ExecutionTime != nil {
		ms := *c.ExecutionTime
		out.ExecutionTime = &ms
	}
	return out
}

// ChangeType describes what a store mutation touched
type ChangeType string

const (
	ChangeStructure ChangeType = "structure" // create, delete, move, restore
	ChangeCode      ChangeType = "code"
	ChangeExecution ChangeType = "execution" // start or finish
	ChangeOutput    ChangeType = "output"
	ChangeSelection ChangeType = "selection"
)

// Change is a store notification
type Change struct {
	Type    ChangeType `json:"type"`
	CellID  string     `json:"cell_id,omitempty"`
	Version uint64     `json:"version"`
}

// Persistent reports whether the change affects persisted state ({id, code})
func (c Change) Persistent() bool {
	return c.Type == ChangeStructure || c.Type == ChangeCode
}
