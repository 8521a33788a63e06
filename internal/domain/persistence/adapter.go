package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook/internal/domain/cell"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/storage"
)

// DefaultKey is the record key used when a notebook has no explicit name
const DefaultKey = "default"

var (
	// ErrNoRecord means nothing has been saved under the adapter's key yet
	ErrNoRecord = errors.New("no saved notebook")
	// ErrInvalidRecord is returned for cell lists with empty or repeated ids
	ErrInvalidRecord = errors.New("invalid notebook record")
)

// SavedCell is the persisted shape of a cell. Output, result and status are
// never stored.
type SavedCell struct {
	ID   string `json:"id" yaml:"id" toml:"id"`
	Code string `json:"code" yaml:"code" toml:"code"`
}

// Record is one persisted notebook
type Record struct {
	ID        string      `json:"id" yaml:"id" toml:"id"`
	Cells     []SavedCell `json:"cells" yaml:"cells" toml:"cells"`
	UpdatedAt int64       `json:"updatedAt" yaml:"updatedAt" toml:"updatedAt"`
}

// Backend stores opaque documents by key
type Backend interface {
	Put(ctx context.Context, key string, data []byte, updatedAt time.Time) error
	Get(ctx context.Context, key string) (storage.Record, error)
}

// Adapter saves and loads the {id, code} snapshot of one notebook
type Adapter struct {
	backend Backend
	key     string
	logger  *zap.Logger
	now     func() time.Time
}

// NewAdapter creates an adapter for the record under key
func NewAdapter(backend Backend, key string, logger *zap.Logger) *Adapter {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{backend: backend, key: key, logger: logger, now: time.Now}
}

// Key returns the record key
func (a *Adapter) Key() string { return a.key }

// Snapshot reduces cells to their persisted shape
func Snapshot(cells []cell.Cell) []SavedCell {
	saved := make([]SavedCell, len(cells))
	for i, c := range cells {
		saved[i] = SavedCell{ID: c.ID, Code: c.Code}
	}
	return saved
}

// Save overwrites the record with the current cell sequence
func (a *Adapter) Save(ctx context.Context, cells []cell.Cell) error {
	return a.SaveRecord(ctx, Snapshot(cells))
}

// SaveRecord overwrites the record with already reduced cells
func (a *Adapter) SaveRecord(ctx context.Context, saved []SavedCell) error {
	now := a.now()
	data, err := sonic.Marshal(saved)
	if err != nil {
		return fmt.Errorf("failed to marshal cells: %w", err)
	}
	if err := a.backend.Put(ctx, a.key, data, now); err != nil {
		return fmt.Errorf("failed to save notebook %s: %w", a.key, err)
	}
	a.logger.Debug("Notebook saved", zap.String("key", a.key), zap.Int("cells", len(saved)))
	return nil
}

// Load returns the saved record, or ErrNoRecord
func (a *Adapter) Load(ctx context.Context) (Record, error) {
	rec, err := a.backend.Get(ctx, a.key)
	if errors.Is(err, storage.ErrNotFound) {
		return Record{}, ErrNoRecord
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load notebook %s: %w", a.key, err)
	}

	var saved []SavedCell
	if err := sonic.Unmarshal(rec.Data, &saved); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal notebook %s: %w", a.key, err)
	}
	if err := Validate(saved); err != nil {
		return Record{}, fmt.Errorf("notebook %s: %w", a.key, err)
	}

	return Record{ID: a.key, Cells: saved, UpdatedAt: rec.UpdatedAt.UnixMilli()}, nil
}

// Validate checks that every cell has an id and no id appears twice
func Validate(saved []SavedCell) error {
	seen := make(map[string]int, len(saved))
	for i, c := range saved {
		if c.ID == "" {
			return fmt.Errorf("%w: cell %d has empty id", ErrInvalidRecord, i)
		}
		if j, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: cells %d and %d share id %q", ErrInvalidRecord, j, i, c.ID)
		}
		seen[c.ID] = i
	}
	return nil
}

// Restore builds idle cells from saved ones, keeping their identifiers
func Restore(saved []SavedCell) []cell.Cell {
	cells := make([]cell.Cell, len(saved))
	for i, s := range saved {
		cells[i] = cell.New(s.ID, s.Code)
	}
	return cells
}
