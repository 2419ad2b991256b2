package syncutil

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterAcquireBlocksUntilRefill(t *testing.T) {
	rl := NewRateLimiter(10, 1) // 1 token burst, refill 10/s

	ctx := context.Background()
	if err := rl.Acquire(ctx, 1); err != nil {
		t.Fatalf("first acquire should succeed immediately: %v", err)
	}

	start := time.Now()
	if err := rl.Acquire(ctx, 1); err != nil {
		t.Fatalf("second acquire should eventually succeed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected second acquire to wait for refill, elapsed=%v", elapsed)
	}
}

func TestRateLimiterTryAcquireDoesNotBlock(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	if !rl.TryAcquire(1) {
		t.Fatalf("expected first try to succeed")
	}
	if rl.TryAcquire(1) {
		t.Fatalf("expected immediate retry to fail before refill")
	}
}

func TestIntervalLimiterEnforcesSpacing(t *testing.T) {
	il := NewIntervalLimiter(30 * time.Millisecond)
	ctx := context.Background()

	if err := il.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	start := time.Now()
	if err := il.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("expected spacing enforced, elapsed=%v", elapsed)
	}
}
