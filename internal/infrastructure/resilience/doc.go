/*
Package resilience provides a circuit breaker and a breaker-guarded sandbox
spawner.

The breaker has three states:
  - Closed: calls pass; consecutive failures are counted
  - Open: calls fail with ErrCircuitOpen until the cooldown elapses
  - Half-Open: a single probe call is let through; success closes the
    circuit, failure opens it again

Usage:

	spawner := resilience.GuardSpawner(sandbox.NewProcess(nil, cfg, logger), nil, logger)
	host := execution.NewHost(spawner)
*/
package resilience
