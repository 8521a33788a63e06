package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// Threshold is the number of consecutive failures that opens the circuit
	Threshold uint32
	// Cooldown is how long the circuit stays open before a single probe is let through
	Cooldown time.Duration
	// OnStateChange is called whenever the state changes, outside the lock
	OnStateChange func(name string, from State, to State)
}

// Breaker trips after consecutive failures and lets one probe through per
// cooldown until a call succeeds again.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu       sync.Mutex
	state    State
	failures uint32
	openedAt time.Time
	probing  bool
}

// New creates a new circuit breaker with the given settings
func New(name string, settings Settings) *Breaker {
	if settings.Threshold == 0 {
		settings.Threshold = 5
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 10 * time.Second
	}
	return &Breaker{
		name:     name,
		settings: settings,
		now:      time.Now,
		state:    StateClosed,
	}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentLocked()
}

// Failures returns the current run of consecutive failures
func (b *Breaker) Failures() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Allow reserves a call. Every successful Allow must be followed by Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentLocked() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

// Record reports the outcome of a call reserved with Allow
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	from := b.currentLocked()
	b.probing = false

	to := from
	if success {
		b.failures = 0
		to = StateClosed
	} else {
		b.failures++
		if from == StateHalfOpen || b.failures >= b.settings.Threshold {
			to = StateOpen
			b.openedAt = b.now()
		}
	}
	b.state = to
	b.mu.Unlock()

	if to != from && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}

// Do runs fn if the breaker accepts it and records the result
func (b *Breaker) Do(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Record(err == nil)
	return err
}

// currentLocked moves an expired open circuit to half-open
func (b *Breaker) currentLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.settings.Cooldown {
		b.state = StateHalfOpen
	}
	return b.state
}
