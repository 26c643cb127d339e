// Package metrics is the observability sink for the resilience layer.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Calls started, succeeded, and failed per target
//   - Rejections per target, split by reason (rate limit vs open circuit)
//   - Circuit breaker state per target
//   - Call durations with percentile calculations (P50, P95, P99)
//
// The collector runs in a dedicated goroutine and processes events without
// blocking the call path. Emit drops events when the buffer is full rather
// than stalling the caller. Counters are mirrored into prometheus
// collectors for scraping; the JSON snapshot handler serves the same data
// for ad-hoc inspection.
//
// Example usage:
//
//	collector, _ := metrics.NewCollector(1000, prometheus.DefaultRegisterer, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//	    Type:     metrics.EventCallSucceeded,
//	    Target:   "svc-a",
//	    Duration: 150 * time.Millisecond,
//	})
//
//	snapshot := collector.Snapshot()
//
// The sink is not required for correctness: the breaker and limiter work
// identically with no collector attached.
package metrics
