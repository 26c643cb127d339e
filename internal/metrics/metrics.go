package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the in-process store behind the observability endpoints. It
// keeps per-target counters and call durations for the JSON snapshot and
// mirrors them into prometheus collectors for scraping.
type Metrics struct {
	mutex         sync.RWMutex
	started       map[string]int64
	rejected      map[string]map[string]int64
	succeeded     map[string]int64
	failed        map[string]int64
	callDurations map[string][]time.Duration
	breakerStates map[string]string
	startTime     time.Time

	promStarted   *prometheus.CounterVec
	promRejected  *prometheus.CounterVec
	promSucceeded *prometheus.CounterVec
	promFailed    *prometheus.CounterVec
	promState     *prometheus.GaugeVec
	promDuration  *prometheus.HistogramVec
}

type Snapshot struct {
	TotalCalls int64                    `json:"total_calls"`
	Uptime     time.Duration            `json:"uptime"`
	Targets    map[string]TargetMetrics `json:"targets"`
}

type TargetMetrics struct {
	Started      int64            `json:"started"`
	Rejected     map[string]int64 `json:"rejected,omitempty"`
	Succeeded    int64            `json:"succeeded"`
	Failed       int64            `json:"failed"`
	BreakerState string           `json:"breaker_state,omitempty"`
	AvgDuration  time.Duration    `json:"avg_duration"`
	P50Duration  time.Duration    `json:"p50_duration"`
	P95Duration  time.Duration    `json:"p95_duration"`
	P99Duration  time.Duration    `json:"p99_duration"`
}

// NewMetrics creates the store and registers its prometheus collectors
// against reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		started:       make(map[string]int64),
		rejected:      make(map[string]map[string]int64),
		succeeded:     make(map[string]int64),
		failed:        make(map[string]int64),
		callDurations: make(map[string][]time.Duration),
		breakerStates: make(map[string]string),
		startTime:     time.Now(),

		promStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callguard_calls_started_total",
			Help: "Total number of calls admitted past the rate limiter",
		}, []string{"target"}),

		promRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callguard_calls_rejected_total",
			Help: "Total number of calls rejected, by reason",
		}, []string{"target", "reason"}),

		promSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callguard_calls_succeeded_total",
			Help: "Total number of protected calls that completed successfully",
		}, []string{"target"}),

		promFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "callguard_calls_failed_total",
			Help: "Total number of protected calls that returned an error",
		}, []string{"target"}),

		promState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "callguard_breaker_state",
			Help: "Circuit breaker state per target (0=closed, 1=open, 2=half-open)",
		}, []string{"target"}),

		promDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "callguard_call_duration_seconds",
			Help:    "Duration of protected calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"target"}),
	}

	collectors := []prometheus.Collector{
		m.promStarted,
		m.promRejected,
		m.promSucceeded,
		m.promFailed,
		m.promState,
		m.promDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) RecordCallStarted(target string) {
	m.mutex.Lock()
	m.started[target]++
	m.mutex.Unlock()

	m.promStarted.WithLabelValues(target).Inc()
}

func (m *Metrics) RecordRejection(target, reason string) {
	m.mutex.Lock()
	if m.rejected[target] == nil {
		m.rejected[target] = make(map[string]int64)
	}
	m.rejected[target][reason]++
	m.mutex.Unlock()

	m.promRejected.WithLabelValues(target, reason).Inc()
}

func (m *Metrics) RecordSuccess(target string, duration time.Duration) {
	m.mutex.Lock()
	m.succeeded[target]++
	m.recordDuration(target, duration)
	m.mutex.Unlock()

	m.promSucceeded.WithLabelValues(target).Inc()
	m.promDuration.WithLabelValues(target).Observe(duration.Seconds())
}

func (m *Metrics) RecordFailure(target string, duration time.Duration) {
	m.mutex.Lock()
	m.failed[target]++
	m.recordDuration(target, duration)
	m.mutex.Unlock()

	m.promFailed.WithLabelValues(target).Inc()
	m.promDuration.WithLabelValues(target).Observe(duration.Seconds())
}

func (m *Metrics) UpdateBreakerState(target, state string) {
	m.mutex.Lock()
	m.breakerStates[target] = state
	m.mutex.Unlock()

	m.promState.WithLabelValues(target).Set(stateValue(state))
}

// recordDuration keeps the most recent 1000 samples per target.
// Caller must hold the mutex.
func (m *Metrics) recordDuration(target string, duration time.Duration) {
	m.callDurations[target] = append(m.callDurations[target], duration)
	if len(m.callDurations[target]) > 1000 {
		m.callDurations[target] = m.callDurations[target][1:]
	}
}

func stateValue(state string) float64 {
	switch state {
	case "OPEN":
		return 1
	case "HALF-OPEN":
		return 2
	default:
		return 0
	}
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:  time.Since(m.startTime),
		Targets: make(map[string]TargetMetrics),
	}

	// Collect all unique target names
	allTargets := make(map[string]bool)
	for target := range m.started {
		allTargets[target] = true
	}
	for target := range m.rejected {
		allTargets[target] = true
	}
	for target := range m.succeeded {
		allTargets[target] = true
	}
	for target := range m.failed {
		allTargets[target] = true
	}
	for target := range m.breakerStates {
		allTargets[target] = true
	}

	for target := range allTargets {
		snap.TotalCalls += m.started[target]

		tm := TargetMetrics{
			Started:      m.started[target],
			Succeeded:    m.succeeded[target],
			Failed:       m.failed[target],
			BreakerState: m.breakerStates[target],
		}

		// Copy so the caller never shares a map with the writers
		if reasons := m.rejected[target]; len(reasons) > 0 {
			tm.Rejected = make(map[string]int64, len(reasons))
			for reason, count := range reasons {
				tm.Rejected[reason] = count
			}
		}

		durations := m.callDurations[target]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			tm.AvgDuration = average(sorted)
			tm.P50Duration = percentile(sorted, 0.50)
			tm.P95Duration = percentile(sorted, 0.95)
			tm.P99Duration = percentile(sorted, 0.99)
		}

		snap.Targets[target] = tm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
