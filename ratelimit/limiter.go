// Package ratelimit gates all outbound Steam traffic behind a single
// minimum-interval limiter shared by every import session.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxInterval = 60 * time.Second

// Limiter enforces a minimum gap between successive acquisitions. On HTTP 429
// the gap doubles (capped at 60s); each success halves it back toward the
// configured base. Waiters are served FIFO and wake promptly on cancellation.
type Limiter struct {
	mu       sync.Mutex
	base     time.Duration
	interval time.Duration
	limiter  *rate.Limiter
}

// New creates a limiter with the given minimum interval between requests
func New(interval time.Duration) *Limiter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Limiter{
		base:     interval,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Acquire blocks until the caller may proceed or ctx is cancelled
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Backoff inflates the interval after a 429 response
func (l *Limiter) Backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.interval * 2
	if next > maxInterval {
		next = maxInterval
	}
	l.setInterval(next)
}

// Success decays an inflated interval by half, never below the base
func (l *Limiter) Success() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.interval == l.base {
		return
	}
	next := l.interval / 2
	if next < l.base {
		next = l.base
	}
	l.setInterval(next)
}

// Interval returns the current minimum gap
func (l *Limiter) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

func (l *Limiter) setInterval(d time.Duration) {
	l.interval = d
	l.limiter.SetLimit(rate.Every(d))
}
