package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestLimiter(perMinute, burst int) (*RateLimiter, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(perMinute, burst)
	rl.now = func() time.Time { return now }
	rl.lastRefill = now
	return rl, &now
}

// ============================================================================
// RateLimiter
// ============================================================================

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 5)
	if rl != nil {
		t.Fatal("expected nil limiter for zero rate")
	}
	if !rl.Take() {
		t.Error("nil limiter should always allow")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter Wait returned %v", err)
	}
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	rl, now := newTestLimiter(60, 3) // one token per second

	for i := 0; i < 3; i++ {
		if !rl.Take() {
			t.Fatalf("expected take %d within burst to succeed", i+1)
		}
	}
	if rl.Take() {
		t.Fatal("expected bucket to be empty after burst")
	}

	*now = now.Add(500 * time.Millisecond)
	if rl.Take() {
		t.Error("expected half a token to be insufficient")
	}

	*now = now.Add(600 * time.Millisecond)
	if !rl.Take() {
		t.Error("expected a token after 1.1s")
	}
}

func TestRateLimiter_RefillCappedAtBurst(t *testing.T) {
	rl, now := newTestLimiter(60, 2)

	*now = now.Add(time.Hour)
	taken := 0
	for rl.Take() {
		taken++
	}
	if taken != 2 {
		t.Errorf("expected 2 tokens after idle period, got %d", taken)
	}
}

func TestRateLimiter_ReserveQueues(t *testing.T) {
	rl, _ := newTestLimiter(120, 1) // one token every 500ms

	if d := rl.reserve(); d != 0 {
		t.Fatalf("expected first reservation immediately, got %v", d)
	}
	if d := rl.reserve(); d != 500*time.Millisecond {
		t.Errorf("expected second reservation in 500ms, got %v", d)
	}
	if d := rl.reserve(); d != time.Second {
		t.Errorf("expected third reservation in 1s, got %v", d)
	}
}

func TestRateLimiter_WaitCancelled(t *testing.T) {
	rl, _ := newTestLimiter(1, 1) // one token per minute
	if !rl.Take() {
		t.Fatal("expected initial token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := rl.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Wait should return on cancellation, took %v", elapsed)
	}

	// The cancelled wait gave its token back.
	if d := rl.reserve(); d > time.Minute {
		t.Errorf("expected at most one queued token, wait %v", d)
	}
}
