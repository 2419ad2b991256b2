// Package syncutil holds the concurrency and synchronization primitives
// the rest of the runtime relies on for correctness under concurrent
// load: a token-bucket rate limiter, a minimum-interval limiter, a
// generic debouncer, a circuit breaker, a timeout wrapper, and a bounded
// queue.
package syncutil

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-adapter token-bucket limiter: tokens accrue at a
// fixed rate up to a burst cap, and Acquire blocks the caller until n
// tokens are available. Built directly on golang.org/x/time/rate, the
// idiom the corpus reaches for instead of a hand-rolled bucket.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter that refills at refillPerSecond tokens
// per second up to burst tokens.
func NewRateLimiter(refillPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(refillPerSecond), burst)}
}

// Acquire blocks until n tokens are available or ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context, n int) error {
	return r.limiter.WaitN(ctx, n)
}

// TryAcquire reports whether n tokens were available immediately,
// consuming them if so, without blocking.
func (r *RateLimiter) TryAcquire(n int) bool {
	return r.limiter.AllowN(time.Now(), n)
}

// SetLimit adjusts the refill rate and burst, e.g. after a provider's
// get_rate_limits() response changes the known quota.
func (r *RateLimiter) SetLimit(refillPerSecond float64, burst int) {
	r.limiter.SetLimit(rate.Limit(refillPerSecond))
	r.limiter.SetBurst(burst)
}

// IntervalLimiter is the "simpler minimum-interval limiter" noted in
// spec §4.1, for endpoints where only request rate (not token cost)
// matters: each Wait enforces at least Interval since the previous one.
type IntervalLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewIntervalLimiter builds a limiter enforcing at least interval between
// successive Wait returns.
func NewIntervalLimiter(interval time.Duration) *IntervalLimiter {
	return &IntervalLimiter{interval: interval}
}

// Wait blocks until at least Interval has elapsed since the previous
// call's return, or ctx is done first.
func (l *IntervalLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	wait := l.interval - now.Sub(l.last)
	if wait < 0 {
		wait = 0
	}
	l.last = now.Add(wait)
	l.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
