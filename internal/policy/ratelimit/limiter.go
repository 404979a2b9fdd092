// Package ratelimit spaces out manually requested snapshot runs with a token
// bucket, so refresh endpoints cannot launch browsers back to back.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter admits at most one manual refresh per interval.
type Limiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	interval time.Duration
	now      func() time.Time
}

// Reservation is an admitted request. Release hands the slot back when the
// request turned out not to start a run.
type Reservation struct {
	r  *rate.Reservation
	at time.Time
}

// New creates a Limiter. A non-positive interval admits everything.
func New(interval time.Duration) *Limiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Limiter{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
		now:      time.Now,
	}
}

// Interval returns the configured spacing.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Reserve claims the next slot. When none is free it returns ok=false and how
// long the caller should wait before retrying.
func (l *Limiter) Reserve() (res Reservation, retryAfter time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	r := l.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Reservation{}, delay, false
	}
	return Reservation{r: r, at: now}, 0, true
}

// Release returns the slot. Calling it on a zero Reservation is a no-op.
// The cancel is applied at the reservation instant; rate.Reservation ignores
// cancels made after the token was due.
func (r Reservation) Release() {
	if r.r == nil {
		return
	}
	r.r.CancelAt(r.at)
}
