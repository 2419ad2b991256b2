package syncutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, CoolOff: 50 * time.Millisecond})

	failing := func(context.Context) error { return errors.New("boom") }

	if err := cb.Execute(context.Background(), failing); err == nil {
		t.Fatalf("expected failure to propagate")
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected still closed after 1 failure, got %s", cb.State())
	}

	if err := cb.Execute(context.Background(), failing); err == nil {
		t.Fatalf("expected failure to propagate")
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after threshold reached, got %s", cb.State())
	}

	if err := cb.Execute(context.Background(), func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected calls to be rejected while open")
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, CoolOff: 10 * time.Millisecond})

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	ok := func(context.Context) error { return nil }
	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Fatalf("probe call in half-open should be allowed: %v", err)
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after one success, got %s", cb.State())
	}
	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Fatalf("second probe should be allowed: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed after success threshold met, got %s", cb.State())
	}
}
