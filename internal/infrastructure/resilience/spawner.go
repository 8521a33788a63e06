package resilience

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook/internal/sandbox"
)

// Spawner guards a sandbox spawner with a breaker, so a broken worker
// binary fails runs immediately instead of forking on every request.
type Spawner struct {
	next    sandbox.Spawner
	breaker *Breaker
}

// GuardSpawner wraps next. A nil breaker gets the default settings and logs
// state changes to logger.
func GuardSpawner(next sandbox.Spawner, breaker *Breaker, logger *zap.Logger) *Spawner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if breaker == nil {
		breaker = New("sandbox-spawn", Settings{
			OnStateChange: func(name string, from, to State) {
				logger.Warn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		})
	}
	return &Spawner{next: next, breaker: breaker}
}

// Breaker returns the guarding breaker
func (s *Spawner) Breaker() *Breaker { return s.breaker }

// Spawn implements sandbox.Spawner. Cancelled spawns don't count as failures.
func (s *Spawner) Spawn(ctx context.Context) (sandbox.Context, error) {
	if err := s.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("%s: %w", s.breaker.Name(), err)
	}
	c, err := s.next.Spawn(ctx)
	s.breaker.Record(err == nil || ctx.Err() != nil)
	return c, err
}
