package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Throttle serializes callers and spaces them at least interval apart,
// measured from the moment one caller is released to the moment the next
// one is. Callers queue on a single-slot semaphore, so at most one of them
// is ever sleeping and no caller re-checks in a loop.
type Throttle struct {
	interval time.Duration
	sem      chan struct{}

	mu     sync.Mutex
	lastAt time.Time

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewThrottle returns a Throttle with the given minimum spacing. A
// non-positive interval makes Wait return immediately.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		sem:      make(chan struct{}, 1),
		now:      time.Now,
		after:    time.After,
	}
}

// Wait blocks until the caller may perform its upstream call. It returns
// the time spent waiting, or ctx.Err() if ctx is done first; in that case
// the slot is not consumed.
func (t *Throttle) Wait(ctx context.Context) (time.Duration, error) {
	if t.interval <= 0 {
		return 0, ctx.Err()
	}
	start := t.now()

	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return t.now().Sub(start), ctx.Err()
	}
	defer func() { <-t.sem }()

	t.mu.Lock()
	last := t.lastAt
	t.mu.Unlock()

	if !last.IsZero() {
		if remaining := t.interval - t.now().Sub(last); remaining > 0 {
			select {
			case <-t.after(remaining):
			case <-ctx.Done():
				return t.now().Sub(start), ctx.Err()
			}
		}
	}

	released := t.now()
	t.mu.Lock()
	t.lastAt = released
	t.mu.Unlock()
	return released.Sub(start), nil
}

// last returns the time the most recent caller was released.
func (t *Throttle) last() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastAt
}
