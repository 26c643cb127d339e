// Package ratelimit provides token-bucket rate limiting per target and
// globally.
//
// A RateLimiter owns one global bucket that caps the sustained and burst
// call rate for the whole process, plus per-target buckets created lazily
// for targets with a configured override. Admission is non-blocking:
// Allow returns false immediately and never sleeps or queues.
//
// State is local to the process. This is not a distributed rate limiter.
//
// Usage:
//
//	limiter, _ := ratelimit.NewRateLimiter(ratelimit.Config{
//	    Rate:  50,
//	    Burst: 100,
//	    PerTarget: map[string]ratelimit.Limit{
//	        "svc-a": {Rate: 10, Burst: 20},
//	    },
//	})
//	if limiter.Allow("svc-a") {
//	    // Make the call...
//	}
package ratelimit
