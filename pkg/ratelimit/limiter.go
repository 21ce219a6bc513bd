// Package ratelimit provides simple client-side call spacing for third-party
// terminology services with strict usage quotas.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a minimum interval between consecutive calls. It is a
// deliberate, simple form of client-side rate limiting: lookups may run on
// any goroutine, but calls to one provider never fire closer together than
// the configured interval.
type Limiter struct {
	interval time.Duration

	mu   sync.Mutex
	next time.Time
}

// New creates a limiter with the given minimum spacing between calls.
// A non-positive interval disables waiting.
func New(interval time.Duration) *Limiter {
	return &Limiter{interval: interval}
}

// Wait blocks until the next call slot is available or the context is
// cancelled. Slots are handed out in call order.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.interval <= 0 {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	at := l.next
	if at.Before(now) {
		at = now
	}
	l.next = at.Add(l.interval)
	l.mu.Unlock()

	delay := time.Until(at)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
