// Package id provides centralized ID generation for the notebook.
//
// This package offers type-safe ULID generation with:
//   - Lexicographic sortability: cells created later sort later
//   - Prefixed types: cell_*, run_*, sbx_*, req_* make logs readable
//   - Type safety: Separate types prevent ID misuse
//
// Restored cells keep whatever identifier was persisted, so callers must
// not assume every CellID parses as a ULID.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// CellID identifies a notebook cell
type CellID string

// RunID identifies one execution of a cell
type RunID string

// ContextID identifies an isolated execution context
type ContextID string

const (
	CellPrefix    = "cell"
	RunPrefix     = "run"
	ContextPrefix = "sbx"
	RequestPrefix = "req"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator. Monotonic entropy keeps IDs
// minted within the same millisecond strictly increasing.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(ulid.Monotonic(rand.Reader, 0))
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewCellID generates a new cell ID
func NewCellID() CellID {
	return CellID(Default().GenerateWithPrefix(CellPrefix))
}

// NewRunID generates a new run ID
func NewRunID() RunID {
	return RunID(Default().GenerateWithPrefix(RunPrefix))
}

// NewContextID generates a new sandbox context ID
func NewContextID() ContextID {
	return ContextID(Default().GenerateWithPrefix(ContextPrefix))
}

// NewRequestID generates an HTTP request ID
func NewRequestID() string {
	return Default().GenerateWithPrefix(RequestPrefix)
}

func (id CellID) String() string    { return string(id) }
func (id RunID) String() string     { return string(id) }
func (id ContextID) String() string { return string(id) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Timestamp extracts the creation time from a ULID, prefixed or not
func Timestamp(id string) (time.Time, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
