package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// TokenBucket is a single capacity/refill counter. Tokens accumulate at a
// fixed rate up to the burst capacity; each permitted action consumes one.
// Refill is computed lazily at each access, so no timer runs.
type TokenBucket struct {
	rate  float64
	burst float64

	mutex      sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucket creates a full bucket. The rate is tokens added per
// second; a zero rate yields a pure burst allowance that never refills.
func NewTokenBucket(rate float64, burst int) (*TokenBucket, error) {
	if rate < 0 {
		return nil, fmt.Errorf("rate must be non-negative, got %v", rate)
	}
	if burst < 1 {
		return nil, fmt.Errorf("burst must be at least 1, got %d", burst)
	}
	return newBucket(rate, burst), nil
}

// newBucket assumes rate and burst have already been validated.
func newBucket(rate float64, burst int) *TokenBucket {
	return &TokenBucket{
		rate:       rate,
		burst:      float64(burst),
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

// Consume takes n tokens from the bucket. It refills first, then succeeds
// and decrements only when at least n tokens are available; a denied
// consume leaves the token count unchanged.
func (tb *TokenBucket) Consume(n float64) bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()

	if tb.tokens < n {
		return false
	}
	tb.tokens -= n
	return true
}

// refill applies tokens = min(burst, tokens + elapsed*rate).
// Caller must hold the mutex.
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed < 0 {
		elapsed = 0
	}

	tb.tokens += elapsed.Seconds() * tb.rate
	if tb.tokens > tb.burst {
		tb.tokens = tb.burst
	}
	tb.lastRefill = now
}

// BucketSnapshot is a read-only view of a bucket's state.
type BucketSnapshot struct {
	Tokens float64 `json:"tokens"`
	Rate   float64 `json:"rate"`
	Burst  int     `json:"burst"`
}

// Snapshot reports the current token count after refill. The refill is
// the only state change a read performs.
func (tb *TokenBucket) Snapshot() BucketSnapshot {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()

	return BucketSnapshot{
		Tokens: tb.tokens,
		Rate:   tb.rate,
		Burst:  int(tb.burst),
	}
}
