package notebook

import (
	"time"

	"github.com/GriffinCanCode/notebook/internal/domain/cell"
	"github.com/GriffinCanCode/notebook/internal/sandbox"
	"github.com/GriffinCanCode/notebook/internal/sandbox/value"
)

// OutputLine is a console event with its rendered text
type OutputLine struct {
	Method    sandbox.ConsoleMethod `json:"method"`
	Args      []value.Value         `json:"args"`
	Text      string                `json:"text"`
	Timestamp time.Time             `json:"timestamp"`
}

// CellView is the read projection of one cell
type CellView struct {
	ID            string       `json:"id"`
	Code          string       `json:"code"`
	Status        cell.Status  `json:"status"`
	Output        []OutputLine `json:"output"`
	Result        *value.Value `json:"result"`
	ResultText    string       `json:"result_text,omitempty"`
	ExecutionTime *int64       `json:"executionTime"`
	Selected      bool         `json:"selected"`
}

// View is the read projection of the whole notebook
type View struct {
	Cells      []CellView `json:"cells"`
	SelectedID string     `json:"selected_id"`
	Focus      string     `json:"focus,omitempty"`
	Version    uint64     `json:"version"`
	Running    bool       `json:"running"`
}

// NewCellView renders c
func NewCellView(c cell.Cell, selected bool) CellView {
	v := CellView{
		ID:            c.ID,
		Code:          c.Code,
		Status:        c.Status,
		Output:        make([]OutputLine, len(c.Output)),
		Result:        c.Result,
		ExecutionTime: c.ExecutionTime,
		Selected:      selected,
	}
	for i, ev := range c.Output {
		v.Output[i] = OutputLine{
			Method:    ev.Method,
			Args:      ev.Args,
			Text:      value.RenderArgs(ev.Args),
			Timestamp: ev.Timestamp,
		}
	}
	if c.Result != nil {
		v.ResultText = value.Render(*c.Result)
	}
	return v
}

// View returns the current projection
func (n *Notebook) View() View {
	cells := n.store.Cells()
	selected := n.store.SelectedID()

	out := View{
		Cells:      make([]CellView, len(cells)),
		SelectedID: selected,
		Focus:      n.store.Focus(),
		Version:    n.store.Version(),
		Running:    n.host.Busy(),
	}
	for i, c := range cells {
		out.Cells[i] = NewCellView(c, c.ID == selected)
	}
	return out
}

// CellView returns the projection of one cell
func (n *Notebook) CellView(cellID string) (CellView, bool) {
	c, ok := n.store.Get(cellID)
	if !ok {
		return CellView{}, false
	}
	return NewCellView(c, c.ID == n.store.SelectedID()), true
}
