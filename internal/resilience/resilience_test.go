package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	v, err := Retry(context.Background(), 3, time.Millisecond, func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 || attempts != 3 {
		t.Fatalf("expected 3 attempts yielding 42, got %d attempts, v=%d", attempts, v)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	attempts := 0
	_, err := Retry(context.Background(), 2, time.Millisecond, func() (int, error) {
		attempts++
		return 0, errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retry budget")
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestCircuitBreakerOpensOnFailureRate(t *testing.T) {
	cb := NewCircuitBreakerAdaptive(time.Minute, 6, 4, 0.5, 50*time.Millisecond, 1)
	for i := 0; i < 4; i++ {
		if !cb.Allow() {
			t.Fatalf("expected closed breaker to allow request %d", i)
		}
		cb.RecordResult(false)
	}
	if cb.Allow() {
		t.Fatal("expected breaker to be open after sustained failures")
	}
}

func TestRateLimiterTokenBucket(t *testing.T) {
	rl := NewRateLimiter(2, 0, time.Second, 0)
	if !rl.Allow() || !rl.Allow() {
		t.Fatal("expected first two requests to be allowed by burst capacity")
	}
	if rl.Allow() {
		t.Fatal("expected third request to be denied with no refill")
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(1, 100, time.Second, 0)
	if !rl.Allow() {
		t.Fatal("expected the burst token to be available")
	}
	if rl.Allow() {
		t.Fatal("expected an immediate second request to be denied")
	}
	time.Sleep(50 * time.Millisecond)
	if !rl.Allow() {
		t.Fatal("expected a token after refill")
	}
}
