package llm

import (
	"context"
	"fmt"
	"time"
)

// rateWindow is the sliding window the limiter counts calls in.
const rateWindow = time.Minute

// RateLimiter allows at most N calls in any sliding 60 second window.
// Callers over the limit block until the oldest call in the window ages out.
//
// A one-slot channel serves as the lock so that a waiting caller can give
// up when its context is cancelled.
type RateLimiter struct {
	limit int
	gate  chan struct{}
	calls []time.Time // oldest first

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a limiter allowing callsPerMinute calls per window.
func NewRateLimiter(callsPerMinute int) (*RateLimiter, error) {
	if callsPerMinute <= 0 {
		return nil, fmt.Errorf("calls per minute must be positive, got %d", callsPerMinute)
	}
	return &RateLimiter{
		limit: callsPerMinute,
		gate:  make(chan struct{}, 1),
		now:   time.Now,
		sleep: sleepContext,
	}, nil
}

// Limit returns the configured calls per minute.
func (l *RateLimiter) Limit() int { return l.limit }

// Acquire blocks until a call slot is free, then records the call.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	select {
	case l.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.gate }()

	for {
		now := l.now()
		l.prune(now)
		if len(l.calls) < l.limit {
			l.calls = append(l.calls, now)
			return nil
		}
		wait := l.calls[0].Add(rateWindow).Sub(now)
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// InWindow returns the number of calls recorded in the current window.
func (l *RateLimiter) InWindow() int {
	l.gate <- struct{}{}
	defer func() { <-l.gate }()
	l.prune(l.now())
	return len(l.calls)
}

// prune drops timestamps that have left the window. Caller holds the gate.
func (l *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
