package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Blocking calls
	StateHalfOpen              // Probing for recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
	DefaultHalfOpenMaxCalls = 1
	DefaultSuccessThreshold = 2
)

type Config struct {
	// FailureThreshold is the number of consecutive failures in CLOSED
	// before the breaker opens.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays OPEN before a probe
	// call is allowed.
	ResetTimeout time.Duration

	// HalfOpenMaxCalls bounds how many probe calls may be in flight
	// concurrently while HALF-OPEN.
	HalfOpenMaxCalls int

	// SuccessThreshold is the number of consecutive HALF-OPEN successes
	// required to close the breaker again.
	SuccessThreshold int

	// OnStateChange, if set, is invoked on every state transition.
	// It runs while the breaker lock is held and must not call back
	// into the breaker.
	OnStateChange func(name string, from, to State)
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: DefaultFailureThreshold,
		ResetTimeout:     DefaultResetTimeout,
		HalfOpenMaxCalls: DefaultHalfOpenMaxCalls,
		SuccessThreshold: DefaultSuccessThreshold,
	}
}

func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("reset timeout must be positive, got %v", c.ResetTimeout)
	}
	if c.HalfOpenMaxCalls < 1 {
		return fmt.Errorf("half-open max calls must be at least 1, got %d", c.HalfOpenMaxCalls)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("success threshold must be at least 1, got %d", c.SuccessThreshold)
	}
	return nil
}

// OpenError is returned by TryEnter and Do when the breaker is OPEN or
// all HALF-OPEN probe slots are taken. It is an expected, recoverable
// condition; callers should skip the remote call and retry later.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Name, e.RetryAfter)
}

type CircuitBreaker struct {
	name string
	cfg  Config

	mutex         sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailure   time.Time
	halfOpenCalls int
}

func New(name string, cfg Config) (*CircuitBreaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("circuit breaker %q: %w", name, err)
	}
	return newBreaker(name, cfg), nil
}

// newBreaker assumes cfg has already been validated.
func newBreaker(name string, cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
	}
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state. If the breaker is OPEN and the reset
// timeout has elapsed it first transitions to HALF-OPEN, so no background
// timer is needed.
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.maybeTransition()
	return cb.state
}

// maybeTransition performs the lazy OPEN to HALF-OPEN transition.
// Caller must hold the mutex.
func (cb *CircuitBreaker) maybeTransition() {
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.cfg.ResetTimeout {
		cb.transitionTo(StateHalfOpen)
	}
}

// transitionTo changes state and resets the counters the new state starts
// from. Caller must hold the mutex.
func (cb *CircuitBreaker) transitionTo(next State) {
	prev := cb.state
	if prev == next {
		return
	}

	cb.state = next

	switch next {
	case StateHalfOpen:
		cb.successes = 0
		cb.halfOpenCalls = 0
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
		cb.halfOpenCalls = 0
	case StateOpen:
		cb.halfOpenCalls = 0
	}

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, prev, next)
	}
}

// TryEnter is the gate a caller must pass before attempting the protected
// call. It returns nil when the call may proceed, or an *OpenError carrying
// the remaining wait time when it may not. A nil return while HALF-OPEN
// reserves one probe slot; the caller must follow up with exactly one
// RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) TryEnter() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.maybeTransition()

	switch cb.state {
	case StateOpen:
		return &OpenError{Name: cb.name, RetryAfter: cb.retryAfter()}
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			return &OpenError{Name: cb.name, RetryAfter: cb.retryAfter()}
		}
		cb.halfOpenCalls++
		return nil
	default:
		return nil
	}
}

// retryAfter reports how long until the reset timeout elapses.
// Caller must hold the mutex.
func (cb *CircuitBreaker) retryAfter() time.Duration {
	remaining := cb.cfg.ResetTimeout - time.Since(cb.lastFailure)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// RecordSuccess records a successful call. In CLOSED it clears the
// consecutive-failure streak. In HALF-OPEN it releases the probe slot and,
// once SuccessThreshold consecutive successes have accumulated, closes the
// breaker and zeroes all counters.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateHalfOpen:
		if cb.halfOpenCalls > 0 {
			cb.halfOpenCalls--
		}
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transitionTo(StateClosed)
		}
	case StateClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed call. A single failure while HALF-OPEN
// reopens the circuit; in CLOSED the breaker opens once FailureThreshold
// consecutive failures accumulate.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transitionTo(StateOpen)
		}
	}
}

// Reset unconditionally forces the breaker to CLOSED and zeroes all
// counters. Operator override for manual recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	prev := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenCalls = 0
	cb.lastFailure = time.Time{}

	if prev != StateClosed && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, prev, StateClosed)
	}
}

// Do executes fn under the breaker's protection. When the breaker rejects
// the call an *OpenError is returned and fn never runs. Otherwise the
// outcome is recorded on every exit path: RecordSuccess on a nil error,
// RecordFailure on a non-nil error (including context cancellation
// surfaced by fn) or a panic, which is re-raised unchanged.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.TryEnter(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.RecordFailure()
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		cb.RecordFailure()
		return err
	}

	cb.RecordSuccess()
	return nil
}

// Snapshot is a read-only dump of a breaker's stored state, consumed by
// the observability endpoints.
type Snapshot struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	Failures      int       `json:"failures"`
	Successes     int       `json:"successes"`
	HalfOpenCalls int       `json:"half_open_calls"`
	LastFailure   time.Time `json:"last_failure"`
}

// Snapshot reports the state as currently stored. It does not run the
// lazy OPEN to HALF-OPEN check, so reading metrics never advances the
// state machine.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return Snapshot{
		Name:          cb.name,
		State:         cb.state.String(),
		Failures:      cb.failures,
		Successes:     cb.successes,
		HalfOpenCalls: cb.halfOpenCalls,
		LastFailure:   cb.lastFailure,
	}
}
