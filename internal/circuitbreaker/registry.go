package circuitbreaker

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is a process-wide map from target name to CircuitBreaker so
// that every call site addressing the same target observes the same
// breaker state. The registry lock only guards the create-if-absent
// lookup; once a breaker handle is obtained, its own mutex takes over.
type Registry struct {
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults Config
}

func NewRegistry(defaults Config) (*Registry, error) {
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("registry defaults: %w", err)
	}
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
	}, nil
}

// GetOrCreate returns the breaker for the given target, creating it with
// the registry defaults on first lookup. Idempotent per name.
func (r *Registry) GetOrCreate(name string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	cb = newBreaker(name, r.defaults)
	r.breakers[name] = cb
	return cb
}

// GetOrCreateWithConfig is GetOrCreate with a per-target configuration.
// If the breaker already exists its original configuration wins and cfg
// is ignored.
func (r *Registry) GetOrCreateWithConfig(name string, cfg Config) (*CircuitBreaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("circuit breaker %q: %w", name, err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if cb, exists := r.breakers[name]; exists {
		return cb, nil
	}

	cb := newBreaker(name, cfg)
	r.breakers[name] = cb
	return cb, nil
}

// Stats returns the stored state of every registered breaker without
// triggering lazy transitions.
func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		cb.mutex.Lock()
		stats[name] = cb.state
		cb.mutex.Unlock()
	}
	return stats
}

// AllMetrics returns a snapshot of every registered breaker, sorted by
// name. Snapshots report the state as stored; reading never advances the
// state machine.
func (r *Registry) AllMetrics() []Snapshot {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	snapshots := make([]Snapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		snapshots = append(snapshots, cb.Snapshot())
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Name < snapshots[j].Name
	})
	return snapshots
}

// ResetAll forces every registered breaker back to CLOSED. Breakers are
// reset in place rather than dropped so handles held by callers stay
// valid.
func (r *Registry) ResetAll() {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// Len reports how many breakers have been created.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.breakers)
}
