package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/angeloszaimis/callguard/internal/circuitbreaker"
	"github.com/angeloszaimis/callguard/internal/metrics"
	"github.com/angeloszaimis/callguard/internal/ratelimit"
)

// ErrRateLimited is returned by Do when the rate limiter denies the call.
var ErrRateLimited = errors.New("rate limit exceeded")

// Guard composes the rate limiter and the breaker registry into the
// canonical call path: ask the limiter, fetch the target's breaker, run
// the call inside the breaker's guarded scope. The two primitives stay
// independent; only the call order here ties them together.
type Guard struct {
	logger    *slog.Logger
	limiter   *ratelimit.RateLimiter
	registry  *circuitbreaker.Registry
	collector *metrics.Collector
}

// New creates a Guard. The collector may be nil; the guard then runs
// without emitting events.
func New(logger *slog.Logger, limiter *ratelimit.RateLimiter, registry *circuitbreaker.Registry, collector *metrics.Collector) *Guard {
	return &Guard{
		logger:    logger,
		limiter:   limiter,
		registry:  registry,
		collector: collector,
	}
}

// Do runs fn against the named target under rate-limit and circuit-breaker
// protection. It returns ErrRateLimited when the limiter denies the call,
// an *circuitbreaker.OpenError when the circuit is open, and otherwise
// fn's own error unchanged. The guard never retries and never sleeps.
func (g *Guard) Do(ctx context.Context, target string, fn func(context.Context) error) error {
	if !g.limiter.Allow(target) {
		g.logger.Warn("Rate limit exceeded", slog.String("target", target))
		g.emit(metrics.MetricEvent{
			Type:      metrics.EventCallRejected,
			Timestamp: time.Now(),
			Target:    target,
			Reason:    metrics.ReasonRateLimited,
		})
		return fmt.Errorf("target %q: %w", target, ErrRateLimited)
	}

	g.emit(metrics.MetricEvent{
		Type:      metrics.EventCallStarted,
		Timestamp: time.Now(),
		Target:    target,
	})

	cb := g.registry.GetOrCreate(target)

	start := time.Now()
	err := cb.Do(ctx, fn)
	duration := time.Since(start)

	var openErr *circuitbreaker.OpenError
	if errors.As(err, &openErr) {
		g.logger.Warn("Circuit open, call skipped",
			slog.String("target", target),
			slog.Duration("retry_after", openErr.RetryAfter))
		g.emit(metrics.MetricEvent{
			Type:      metrics.EventCallRejected,
			Timestamp: time.Now(),
			Target:    target,
			Reason:    metrics.ReasonCircuitOpen,
		})
		return err
	}

	if err != nil {
		g.logger.Debug("Protected call failed",
			slog.String("target", target),
			slog.Duration("duration", duration),
			slog.Any("err", err))
		g.emit(metrics.MetricEvent{
			Type:      metrics.EventCallFailed,
			Timestamp: time.Now(),
			Target:    target,
			Duration:  duration,
		})
		return err
	}

	g.emit(metrics.MetricEvent{
		Type:      metrics.EventCallSucceeded,
		Timestamp: time.Now(),
		Target:    target,
		Duration:  duration,
	})
	return nil
}

func (g *Guard) emit(event metrics.MetricEvent) {
	if g.collector == nil {
		return
	}
	g.collector.Emit(event)
}
