// Package circuitbreaker implements the circuit breaker pattern for
// protecting calls to failing targets.
//
// A circuit breaker stops sending calls to a target once repeated failures
// are observed, then periodically lets limited probe calls through to test
// recovery. It has three states:
//
//   - CLOSED: Normal operation, calls pass through
//   - OPEN: Target failing, calls rejected
//   - HALF-OPEN: Limited probes testing recovery
//
// All time-based transitions are computed lazily when state is queried, so
// no background timer runs. A Registry shares one breaker per target name
// across the process.
//
// Usage:
//
//	registry, _ := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
//	cb := registry.GetOrCreate("svc-a")
//	err := cb.Do(ctx, func(ctx context.Context) error {
//	    return callRemote(ctx)
//	})
//	var openErr *circuitbreaker.OpenError
//	if errors.As(err, &openErr) {
//	    // Circuit is open; skip and retry after openErr.RetryAfter.
//	}
package circuitbreaker
