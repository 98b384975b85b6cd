package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter paces requests to one provider with a token bucket.
//
// The bucket starts full, so up to burst requests go out immediately;
// after that requests are spaced at the configured per-minute rate. A nil
// *RateLimiter never waits.
type RateLimiter struct {
	capacity   float64   // Maximum tokens in bucket
	tokens     float64   // Current tokens; negative while callers are queued
	refillRate float64   // Tokens added per second
	lastRefill time.Time // Last time tokens were refilled
	now        func() time.Time
	mu         sync.Mutex
}

// NewRateLimiter returns a limiter allowing perMinute requests per minute
// with bursts up to burst. It returns nil when perMinute is not positive.
// A burst below 1 is treated as 1.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		capacity:   float64(burst),
		tokens:     float64(burst),
		refillRate: float64(perMinute) / 60,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Take consumes a token if one is available now.
func (rl *RateLimiter) Take() bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Wait consumes a token, blocking until it is due or ctx is done. A
// cancelled wait returns its token.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}

	d := rl.reserve()
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		rl.mu.Lock()
		rl.tokens++
		rl.mu.Unlock()
		return ctx.Err()
	}
}

// reserve takes a token, possibly going into debt, and returns how long the
// caller must wait for it.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	rl.tokens--
	if rl.tokens >= 0 {
		return 0
	}
	return time.Duration(-rl.tokens / rl.refillRate * float64(time.Second))
}

// refillLocked adds tokens based on elapsed time since last refill.
// Caller must hold lock.
func (rl *RateLimiter) refillLocked() {
	now := rl.now()
	elapsed := now.Sub(rl.lastRefill)
	if elapsed <= 0 {
		return
	}

	rl.tokens += elapsed.Seconds() * rl.refillRate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.lastRefill = now
}
