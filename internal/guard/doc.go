// Package guard wires the rate limiter and the circuit breaker registry
// into one protected call path.
//
// The guard decides admission in call order: the token bucket first, then
// the target's circuit breaker. A denial at either gate returns
// immediately without touching the other primitive's internals. Retry and
// backoff policy belongs to the caller.
package guard
