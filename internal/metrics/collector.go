package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EventType string

const (
	EventCallStarted         EventType = "call_started"
	EventCallRejected        EventType = "call_rejected"
	EventCallSucceeded       EventType = "call_succeeded"
	EventCallFailed          EventType = "call_failed"
	EventBreakerStateChanged EventType = "breaker_state_changed"
)

// Rejection reasons carried by EventCallRejected.
const (
	ReasonRateLimited = "rate_limited"
	ReasonCircuitOpen = "circuit_open"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Target    string
	Reason    string
	Duration  time.Duration
	State     string
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, reg prometheus.Registerer, logger *slog.Logger) (*Collector, error) {
	m, err := NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: m,
		logger:  logger,
	}, nil
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit sends an event without blocking. Events are dropped when the buffer
// is full so the call path never stalls on observability.
func (c *Collector) Emit(event MetricEvent) {
	select {
	case c.eventCh <- event:
	default:
		c.logger.Debug("metric event dropped", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventCallStarted:
		c.metrics.RecordCallStarted(event.Target)

	case EventCallRejected:
		c.metrics.RecordRejection(event.Target, event.Reason)

	case EventCallSucceeded:
		c.metrics.RecordSuccess(event.Target, event.Duration)

	case EventCallFailed:
		c.metrics.RecordFailure(event.Target, event.Duration)

	case EventBreakerStateChanged:
		c.metrics.UpdateBreakerState(event.Target, event.State)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
