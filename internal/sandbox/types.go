package sandbox

import (
	"context"
	"errors"
)

var (
	ErrClosed = errors.New("sandbox context is closed")
	ErrBusy   = errors.New("sandbox context already received code")
)

// Config defines sandbox configuration
type Config struct {
	MaxCallStackSize int  // Maximum JS call stack depth, 0 keeps the goja default
	EnableConsole    bool // Install console.log/warn/error/info
	EnableTimers     bool // Install setTimeout/clearTimeout
}

// DefaultConfig returns the configuration every notebook run uses
func DefaultConfig() Config {
	return Config{
		MaxCallStackSize: 1024,
		EnableConsole:    true,
		EnableTimers:     true,
	}
}

// Context is one isolated execution context. It runs at most one
// execute message and reports back through Messages in send order.
type Context interface {
	// ID identifies the context; the host uses it as the message origin.
	ID() string
	// Messages delivers context->host messages. It is closed when the
	// context exits.
	Messages() <-chan Message
	// Send delivers a host->context message.
	Send(msg Message) error
	// Close tears the context down. Safe to call more than once.
	Close() error
}

// Spawner creates fresh, stateless contexts
type Spawner interface {
	Spawn(ctx context.Context) (Context, error)
}
