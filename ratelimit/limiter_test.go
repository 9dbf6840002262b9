package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestCheckRejectsBeyondLimit(t *testing.T) {
	l := NewLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := l.Check("wallet-a"); err != nil {
			t.Fatalf("request %d unexpectedly rejected: %v", i+1, err)
		}
	}

	err := l.Check("wallet-a")
	if err == nil {
		t.Fatalf("expected fourth request to be rejected")
	}
	le, ok := err.(*LimitError)
	if !ok {
		t.Fatalf("expected *LimitError, got %T", err)
	}
	if le.Key != "wallet-a" {
		t.Fatalf("unexpected key %q", le.Key)
	}
	if le.RetryAfter <= 0 || le.RetryAfter > time.Minute {
		t.Fatalf("retry-after %s outside window", le.RetryAfter)
	}
}

func TestKeysAreIsolated(t *testing.T) {
	l := NewLimiter(1, time.Minute)

	if err := l.Check("wallet-a"); err != nil {
		t.Fatalf("first request rejected: %v", err)
	}
	if err := l.Check("wallet-a"); err == nil {
		t.Fatalf("expected wallet-a to be limited")
	}
	if err := l.Check("wallet-b"); err != nil {
		t.Fatalf("wallet-b should have its own window: %v", err)
	}
}

func TestWindowResets(t *testing.T) {
	l := NewLimiter(1, 20*time.Millisecond)

	if err := l.Check("k"); err != nil {
		t.Fatalf("first request rejected: %v", err)
	}
	if err := l.Check("k"); err == nil {
		t.Fatalf("expected second request to be rejected")
	}

	time.Sleep(30 * time.Millisecond)
	if err := l.Check("k"); err != nil {
		t.Fatalf("expected request after reset to pass: %v", err)
	}
}

func TestEmptyKeyUsesGlobal(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	if err := l.Check(""); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	err := l.Check(GlobalKey)
	if err == nil {
		t.Fatalf("empty key and global key should share a window")
	}
}

func TestStatus(t *testing.T) {
	l := NewLimiter(5, time.Minute)

	remaining, _ := l.Status("fresh")
	if remaining != 5 {
		t.Fatalf("fresh key remaining = %d, want 5", remaining)
	}

	for i := 0; i < 2; i++ {
		if err := l.Check("used"); err != nil {
			t.Fatalf("unexpected rejection: %v", err)
		}
	}
	remaining, resetAt := l.Status("used")
	if remaining != 3 {
		t.Fatalf("remaining = %d, want 3", remaining)
	}
	if !resetAt.After(time.Now()) {
		t.Fatalf("resetAt should be in the future")
	}
}

func TestWaitForSlotBlocksUntilReset(t *testing.T) {
	l := NewLimiter(1, 20*time.Millisecond)
	if err := l.Check("bg"); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.WaitForSlot(ctx, "bg"); err != nil {
		t.Fatalf("WaitForSlot returned error: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("WaitForSlot returned before the window reset")
	}
}

func TestWaitForSlotHonorsContext(t *testing.T) {
	l := NewLimiter(1, time.Hour)
	if err := l.Check("bg"); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.WaitForSlot(ctx, "bg"); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestSweepDropsExpiredWindows(t *testing.T) {
	l := NewLimiter(1, 10*time.Millisecond)
	_ = l.Check("a")
	_ = l.Check("b")

	time.Sleep(20 * time.Millisecond)
	l.Sweep()

	l.mu.Lock()
	n := len(l.windows)
	l.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected all windows swept, %d remain", n)
	}
}
