package ratelimit

import (
	"fmt"
	"sync"
)

const (
	DefaultRate  = 50.0
	DefaultBurst = 100
)

// Limit is a rate/burst pair for one bucket.
type Limit struct {
	Rate  float64
	Burst int
}

func (l Limit) validate() error {
	if l.Rate < 0 {
		return fmt.Errorf("rate must be non-negative, got %v", l.Rate)
	}
	if l.Burst < 1 {
		return fmt.Errorf("burst must be at least 1, got %d", l.Burst)
	}
	return nil
}

type Config struct {
	// Rate and Burst configure the global bucket shared by all targets.
	Rate  float64
	Burst int

	// PerTarget holds optional per-target overrides. A bucket is created
	// lazily for a target the first time it is checked.
	PerTarget map[string]Limit
}

func DefaultConfig() Config {
	return Config{
		Rate:  DefaultRate,
		Burst: DefaultBurst,
	}
}

func (c Config) Validate() error {
	if err := (Limit{Rate: c.Rate, Burst: c.Burst}).validate(); err != nil {
		return fmt.Errorf("global limit: %w", err)
	}
	for target, limit := range c.PerTarget {
		if err := limit.validate(); err != nil {
			return fmt.Errorf("target %q: %w", target, err)
		}
	}
	return nil
}

// RateLimiter owns one global TokenBucket plus lazily-created per-target
// buckets for targets with a configured override. It decides admission
// without blocking; callers wanting backoff must sleep themselves.
type RateLimiter struct {
	global    *TokenBucket
	overrides map[string]Limit

	mutex   sync.RWMutex
	buckets map[string]*TokenBucket
}

func NewRateLimiter(cfg Config) (*RateLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	overrides := make(map[string]Limit, len(cfg.PerTarget))
	for target, limit := range cfg.PerTarget {
		overrides[target] = limit
	}

	return &RateLimiter{
		global:    newBucket(cfg.Rate, cfg.Burst),
		overrides: overrides,
		buckets:   make(map[string]*TokenBucket),
	}, nil
}

// Allow reports whether one call to the given target may proceed. When the
// target has a configured override its bucket is checked first and its
// denial is authoritative: the global bucket is not touched, so a target
// that exhausted its own limit cannot waste shared capacity. An empty
// target name checks only the global bucket.
func (rl *RateLimiter) Allow(target string) bool {
	if tb := rl.targetBucket(target); tb != nil {
		if !tb.Consume(1) {
			return false
		}
	}
	return rl.global.Consume(1)
}

// targetBucket returns the override bucket for target, creating it on
// first use, or nil when no override is configured.
func (rl *RateLimiter) targetBucket(target string) *TokenBucket {
	if target == "" {
		return nil
	}

	limit, configured := rl.overrides[target]
	if !configured {
		return nil
	}

	rl.mutex.RLock()
	tb, exists := rl.buckets[target]
	rl.mutex.RUnlock()

	if exists {
		return tb
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if tb, exists = rl.buckets[target]; exists {
		return tb
	}

	tb = newBucket(limit.Rate, limit.Burst)
	rl.buckets[target] = tb
	return tb
}

// Snapshot is a read-only view of the limiter's buckets.
type Snapshot struct {
	Global  BucketSnapshot            `json:"global"`
	Targets map[string]BucketSnapshot `json:"targets,omitempty"`
}

// Snapshot reports the global bucket and every per-target bucket created
// so far. Overridden targets that have never been checked do not appear.
func (rl *RateLimiter) Snapshot() Snapshot {
	rl.mutex.RLock()
	defer rl.mutex.RUnlock()

	snap := Snapshot{Global: rl.global.Snapshot()}
	if len(rl.buckets) > 0 {
		snap.Targets = make(map[string]BucketSnapshot, len(rl.buckets))
		for target, tb := range rl.buckets {
			snap.Targets[target] = tb.Snapshot()
		}
	}
	return snap
}
