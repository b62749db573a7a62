package llmclient

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter serialises callers and enforces a minimum delay between
// successive acquisitions (spec §4.F "Rate limiter"). The mutex lets one
// caller through at a time; it does not admit waiting callers in the order
// they called Acquire. golang.org/x/time/rate.Limiter enforces the
// minDelayMs spacing once a caller holds the lock, so two back-to-back
// acquisitions are never closer together than minDelayMs apart.
type RateLimiter struct {
	mu  sync.Mutex
	lim *rate.Limiter
}

// NewRateLimiter builds a RateLimiter with minDelayMs from configuration. A
// zero value disables the wait (burst-through) but callers still serialise
// through the mutex, one at a time.
func NewRateLimiter(minDelayMs int) *RateLimiter {
	if minDelayMs <= 0 {
		return &RateLimiter{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	interval := time.Duration(minDelayMs) * time.Millisecond
	return &RateLimiter{lim: rate.NewLimiter(rate.Every(interval), 1)}
}

// Acquire blocks until it is this caller's turn under ctx's deadline.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lim.Wait(ctx)
}
