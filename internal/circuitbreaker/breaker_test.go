package circuitbreaker_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/callguard/internal/circuitbreaker"
)

func newBreaker(name string, mutate func(*circuitbreaker.Config)) *circuitbreaker.CircuitBreaker {
	cfg := circuitbreaker.Config{
		FailureThreshold: 3,
		ResetTimeout:     100 * time.Millisecond,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	cb, err := circuitbreaker.New(name, cfg)
	Expect(err).NotTo(HaveOccurred())
	return cb
}

var _ = Describe("CircuitBreaker", func() {
	var cb *circuitbreaker.CircuitBreaker

	Describe("New", func() {
		It("should create a circuit breaker in closed state", func() {
			cb, err := circuitbreaker.New("svc-a", circuitbreaker.DefaultConfig())
			Expect(err).NotTo(HaveOccurred())
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Name()).To(Equal("svc-a"))
		})

		DescribeTable("should reject invalid configuration",
			func(mutate func(*circuitbreaker.Config)) {
				cfg := circuitbreaker.DefaultConfig()
				mutate(&cfg)
				_, err := circuitbreaker.New("svc-a", cfg)
				Expect(err).To(HaveOccurred())
			},
			Entry("zero failure threshold", func(c *circuitbreaker.Config) { c.FailureThreshold = 0 }),
			Entry("negative failure threshold", func(c *circuitbreaker.Config) { c.FailureThreshold = -1 }),
			Entry("zero reset timeout", func(c *circuitbreaker.Config) { c.ResetTimeout = 0 }),
			Entry("zero half-open max calls", func(c *circuitbreaker.Config) { c.HalfOpenMaxCalls = 0 }),
			Entry("zero success threshold", func(c *circuitbreaker.Config) { c.SuccessThreshold = 0 }),
		)
	})

	Describe("State transitions", func() {
		BeforeEach(func() {
			cb = newBreaker("svc-a", nil)
		})

		Context("when in CLOSED state", func() {
			It("should allow calls", func() {
				Expect(cb.TryEnter()).To(Succeed())
			})

			It("should remain closed after failures below threshold", func() {
				cb.RecordFailure()
				cb.RecordFailure()
				Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
				Expect(cb.TryEnter()).To(Succeed())
			})

			It("should transition to OPEN after reaching failure threshold", func() {
				cb.RecordFailure()
				cb.RecordFailure()
				cb.RecordFailure()
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			})
		})

		Context("when in OPEN state", func() {
			BeforeEach(func() {
				// Trip the circuit
				cb.RecordFailure()
				cb.RecordFailure()
				cb.RecordFailure()
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			})

			It("should reject calls with the remaining wait time", func() {
				err := cb.TryEnter()
				Expect(err).To(HaveOccurred())

				var openErr *circuitbreaker.OpenError
				Expect(errors.As(err, &openErr)).To(BeTrue())
				Expect(openErr.Name).To(Equal("svc-a"))
				Expect(openErr.RetryAfter).To(BeNumerically(">", 0))
				Expect(openErr.RetryAfter).To(BeNumerically("<=", 100*time.Millisecond))
			})

			It("should remain OPEN before reset timeout expires", func() {
				time.Sleep(30 * time.Millisecond)
				Expect(cb.TryEnter()).NotTo(Succeed())
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			})

			It("should transition to HALF-OPEN after reset timeout", func() {
				time.Sleep(120 * time.Millisecond)
				Expect(cb.TryEnter()).To(Succeed())
				Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
			})

			It("should discover the transition through State as well", func() {
				time.Sleep(120 * time.Millisecond)
				Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
			})
		})

		Context("when in HALF-OPEN state", func() {
			BeforeEach(func() {
				cb.RecordFailure()
				cb.RecordFailure()
				cb.RecordFailure()
				time.Sleep(120 * time.Millisecond)
				Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
			})

			It("should allow up to half_open_max_calls concurrent probes", func() {
				Expect(cb.TryEnter()).To(Succeed())

				// Only one probe slot is configured
				err := cb.TryEnter()
				var openErr *circuitbreaker.OpenError
				Expect(errors.As(err, &openErr)).To(BeTrue())
			})

			It("should release the probe slot on success", func() {
				Expect(cb.TryEnter()).To(Succeed())
				cb.RecordSuccess()
				Expect(cb.TryEnter()).To(Succeed())
			})

			It("should transition back to OPEN on a single failure", func() {
				Expect(cb.TryEnter()).To(Succeed())
				cb.RecordFailure()
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			})

			It("should reopen on failure regardless of prior successes", func() {
				Expect(cb.TryEnter()).To(Succeed())
				cb.RecordSuccess()
				cb.RecordFailure()
				Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			})

			It("should close after success_threshold consecutive successes", func() {
				cb.RecordSuccess()
				Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))

				cb.RecordSuccess()
				Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			})

			It("should zero the failure count on recovery", func() {
				cb.RecordSuccess()
				cb.RecordSuccess()
				Expect(cb.Snapshot().Failures).To(BeZero())
				Expect(cb.Snapshot().Successes).To(BeZero())
			})
		})

		Context("with more probe slots", func() {
			It("should admit probes up to the configured limit", func() {
				cb = newBreaker("svc-a", func(c *circuitbreaker.Config) {
					c.HalfOpenMaxCalls = 2
				})
				cb.RecordFailure()
				cb.RecordFailure()
				cb.RecordFailure()
				time.Sleep(120 * time.Millisecond)

				Expect(cb.TryEnter()).To(Succeed())
				Expect(cb.TryEnter()).To(Succeed())
				Expect(cb.TryEnter()).NotTo(Succeed())
			})
		})
	})

	Describe("RecordSuccess", func() {
		BeforeEach(func() {
			cb = newBreaker("svc-a", nil)
		})

		It("should reset the consecutive failure count while closed", func() {
			cb.RecordFailure()
			cb.RecordFailure()
			cb.RecordSuccess()
			// Should not open after one more failure
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})
	})

	Describe("Reset", func() {
		BeforeEach(func() {
			cb = newBreaker("svc-a", nil)
		})

		It("should force an open breaker back to closed", func() {
			cb.RecordFailure()
			cb.RecordFailure()
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))

			cb.Reset()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.TryEnter()).To(Succeed())
		})

		It("should be idempotent", func() {
			cb.RecordFailure()
			cb.Reset()
			cb.Reset()

			snap := cb.Snapshot()
			Expect(snap.State).To(Equal("CLOSED"))
			Expect(snap.Failures).To(BeZero())
			Expect(snap.Successes).To(BeZero())
			Expect(snap.HalfOpenCalls).To(BeZero())
		})
	})

	Describe("Do", func() {
		BeforeEach(func() {
			cb = newBreaker("svc-a", nil)
		})

		It("should run the call and record success", func() {
			called := false
			err := cb.Do(context.Background(), func(ctx context.Context) error {
				called = true
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(called).To(BeTrue())
		})

		It("should propagate the call's error unchanged", func() {
			boom := errors.New("boom")
			err := cb.Do(context.Background(), func(ctx context.Context) error {
				return boom
			})
			Expect(err).To(MatchError(boom))
		})

		It("should count call errors toward the failure threshold", func() {
			boom := errors.New("boom")
			for i := 0; i < 3; i++ {
				_ = cb.Do(context.Background(), func(ctx context.Context) error {
					return boom
				})
			}
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should not run the call when the circuit is open", func() {
			cb.RecordFailure()
			cb.RecordFailure()
			cb.RecordFailure()

			called := false
			err := cb.Do(context.Background(), func(ctx context.Context) error {
				called = true
				return nil
			})

			var openErr *circuitbreaker.OpenError
			Expect(errors.As(err, &openErr)).To(BeTrue())
			Expect(called).To(BeFalse())
		})

		It("should count cancellation as a failure", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err := cb.Do(ctx, func(ctx context.Context) error {
				return ctx.Err()
			})
			Expect(err).To(MatchError(context.Canceled))
			Expect(cb.Snapshot().Failures).To(Equal(1))
		})

		It("should record a failure and re-raise on panic", func() {
			Expect(func() {
				_ = cb.Do(context.Background(), func(ctx context.Context) error {
					panic("boom")
				})
			}).To(PanicWith("boom"))
			Expect(cb.Snapshot().Failures).To(Equal(1))
		})

		It("should release the probe slot on every exit path", func() {
			cb.RecordFailure()
			cb.RecordFailure()
			cb.RecordFailure()
			time.Sleep(120 * time.Millisecond)
			Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))

			// A failed probe reopens; after the next timeout the slot
			// must be free again rather than leaked.
			_ = cb.Do(context.Background(), func(ctx context.Context) error {
				return errors.New("probe failed")
			})
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))

			time.Sleep(120 * time.Millisecond)
			Expect(cb.TryEnter()).To(Succeed())
		})
	})

	Describe("OnStateChange", func() {
		It("should notify on every transition", func() {
			type change struct{ from, to circuitbreaker.State }
			var changes []change

			cb = newBreaker("svc-a", func(c *circuitbreaker.Config) {
				c.FailureThreshold = 1
				c.SuccessThreshold = 1
				c.OnStateChange = func(name string, from, to circuitbreaker.State) {
					changes = append(changes, change{from, to})
				}
			})

			cb.RecordFailure()
			time.Sleep(120 * time.Millisecond)
			Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
			cb.RecordSuccess()

			Expect(changes).To(Equal([]change{
				{circuitbreaker.StateClosed, circuitbreaker.StateOpen},
				{circuitbreaker.StateOpen, circuitbreaker.StateHalfOpen},
				{circuitbreaker.StateHalfOpen, circuitbreaker.StateClosed},
			}))
		})
	})

	Describe("Snapshot", func() {
		It("should not trigger the lazy transition", func() {
			cb = newBreaker("svc-a", nil)
			cb.RecordFailure()
			cb.RecordFailure()
			cb.RecordFailure()
			time.Sleep(120 * time.Millisecond)

			// Snapshot reports the stored state even though the reset
			// timeout has elapsed.
			Expect(cb.Snapshot().State).To(Equal("OPEN"))
			Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
		})
	})

	Describe("State.String", func() {
		It("should return correct string representation", func() {
			Expect(circuitbreaker.StateClosed.String()).To(Equal("CLOSED"))
			Expect(circuitbreaker.StateOpen.String()).To(Equal("OPEN"))
			Expect(circuitbreaker.StateHalfOpen.String()).To(Equal("HALF-OPEN"))
		})
	})
})
