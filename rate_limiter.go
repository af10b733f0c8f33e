package apiclient

import (
	"context"
	"sync"
	"time"
)

// RateWindow is a snapshot of the limiter's current window.
type RateWindow struct {
	Start     time.Time
	Used      int
	Remaining int
	ResetsIn  time.Duration
}

// RateLimiter admits at most max requests per fixed window. Callers over the
// limit block until the window resets; nothing is dropped.
type RateLimiter struct {
	max    int
	window time.Duration

	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// NewRateLimiter creates a limiter admitting max requests per window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:         max,
		window:      window,
		windowStart: time.Now(),
	}
}

// Acquire takes a slot, waiting for the next window when the current one is
// full. It returns how long the caller waited. A cancelled ctx returns its
// error without taking a slot.
func (rl *RateLimiter) Acquire(ctx context.Context) (time.Duration, error) {
	started := time.Now()
	for {
		wait, ok := rl.reserve()
		if ok {
			return time.Since(started), nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Since(started), ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire takes a slot only if one is free right now.
func (rl *RateLimiter) TryAcquire() bool {
	_, ok := rl.reserve()
	return ok
}

// Stats returns the state of the current window.
func (rl *RateLimiter) Stats() RateWindow {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.rollLocked(now)
	return RateWindow{
		Start:     rl.windowStart,
		Used:      rl.count,
		Remaining: rl.max - rl.count,
		ResetsIn:  rl.windowStart.Add(rl.window).Sub(now),
	}
}

// reserve takes a slot or reports how long until the window resets.
func (rl *RateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.rollLocked(now)
	if rl.count < rl.max {
		rl.count++
		return 0, true
	}

	wait := rl.windowStart.Add(rl.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

func (rl *RateLimiter) rollLocked(now time.Time) {
	if now.Sub(rl.windowStart) >= rl.window {
		rl.windowStart = now
		rl.count = 0
	}
}
