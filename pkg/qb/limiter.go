package qb

import (
	"context"
	"sync"
	"time"
)

// RateLimiter allows a maximum number of requests within a fixed window.
// It is safe for concurrent use; the admit-and-increment sequence is
// serialized so two callers can never both consume the last permit.
//
// Admit rejects instead of sleeping: a shared context must not silently
// stall unrelated callers, so waiting is an explicit opt-in via WaitAdmit.
type RateLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	requests    int
	windowStart time.Time
}

func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		windowStart: time.Now(),
	}
}

// Admit consumes one permit, rolling the window over first if it has
// elapsed. When the budget is exhausted it returns a KindThrottle error
// without blocking. A consumed permit counts against the window regardless
// of whether the request it covers ultimately succeeds; that matches how
// the remote service counts.
func (r *RateLimiter) Admit() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.windowStart) >= r.window {
		r.windowStart = now
		r.requests = 0
	}
	if r.requests >= r.maxRequests {
		return newError(KindThrottle, "request budget exhausted, retry after the window resets")
	}
	r.requests++
	return nil
}

// WaitAdmit blocks until a permit is available or ctx is done. This is the
// opt-in convenience around Admit for callers that prefer waiting over
// handling KindThrottle themselves.
func (r *RateLimiter) WaitAdmit(ctx context.Context) error {
	for {
		err := r.Admit()
		if err == nil {
			return nil
		}
		if KindOf(err) != KindThrottle {
			return err
		}

		wait := r.resetIn()
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return wrapError(KindThrottle, "canceled while waiting for request budget", ctx.Err())
		case <-timer.C:
		}
	}
}

// Remaining reports how many permits are left in the current window.
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.windowStart) >= r.window {
		return r.maxRequests
	}
	return r.maxRequests - r.requests
}

// resetIn returns how long until the current window rolls over.
func (r *RateLimiter) resetIn() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := r.window - time.Since(r.windowStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}
