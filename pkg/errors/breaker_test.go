package errors

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestNewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker(nil)
	if cb == nil {
		t.Fatal("NewCircuitBreaker returned nil")
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected initial state Closed, got %v", cb.State())
	}
}

func TestCircuitBreakerClosedState(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected circuit to remain closed, got %v", cb.State())
	}
}

func TestCircuitBreakerOpensOnMaxFailures(t *testing.T) {
	config := DefaultCircuitBreakerConfig()
	config.MaxFailures = 3
	cb := NewCircuitBreaker(config)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error {
			return New(KindPathBuildRejected, "hop declined")
		})
	}
	if cb.State() != StateOpen {
		t.Errorf("Expected circuit to open after %d failures, got %v", config.MaxFailures, cb.State())
	}
}

func TestCircuitBreakerOpenFailsFast(t *testing.T) {
	config := DefaultCircuitBreakerConfig()
	config.MaxFailures = 1
	config.Timeout = time.Hour
	cb := NewCircuitBreaker(config)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return fmt.Errorf("trip it") })
	if cb.State() != StateOpen {
		t.Fatalf("expected breaker to be open, got %v", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func() error {
		called = true
		return nil
	})
	if called {
		t.Error("fn should not be invoked while breaker is open")
	}
	if err == nil {
		t.Error("expected an error while breaker is open")
	}
	if !IsKind(err, KindCongested) {
		t.Errorf("expected KindCongested, got %v", GetKind(err))
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	config := DefaultCircuitBreakerConfig()
	config.MaxFailures = 1
	config.Timeout = time.Millisecond
	cb := NewCircuitBreaker(config)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return fmt.Errorf("trip it") })
	if cb.State() != StateOpen {
		t.Fatalf("expected breaker to be open, got %v", cb.State())
	}

	time.Sleep(5 * time.Millisecond)

	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Errorf("expected half-open trial to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected breaker to close after successful half-open trial, got %v", cb.State())
	}
}

func TestCircuitBreakerHalfOpenReopensOnFailure(t *testing.T) {
	config := DefaultCircuitBreakerConfig()
	config.MaxFailures = 1
	config.Timeout = time.Millisecond
	cb := NewCircuitBreaker(config)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return fmt.Errorf("trip it") })
	time.Sleep(5 * time.Millisecond)
	_ = cb.Execute(ctx, func() error { return fmt.Errorf("still bad") })

	if cb.State() != StateOpen {
		t.Errorf("expected breaker to reopen after half-open failure, got %v", cb.State())
	}
}

func TestCircuitBreakerManualReset(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	cb.ForceOpen()
	if cb.State() != StateOpen {
		t.Fatal("ForceOpen did not open the breaker")
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Error("Reset did not close the breaker")
	}
}

func TestCircuitBreakerStats(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	ctx := context.Background()
	_ = cb.Execute(ctx, func() error { return nil })
	_ = cb.Execute(ctx, func() error { return fmt.Errorf("fail") })

	stats := cb.Stats()
	if stats.TotalRequests != 2 {
		t.Errorf("expected 2 total requests, got %d", stats.TotalRequests)
	}
	if stats.Failures != 1 || stats.Successes != 1 {
		t.Errorf("expected 1 failure and 1 success, got %+v", stats)
	}
}

func TestCircuitBreakerExecuteWithRetry(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	ctx := context.Background()
	policy := &RetryPolicy{
		MaxAttempts:    3,
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2.0,
		RetryableKinds: map[Kind]bool{KindPathBuildTimeout: true},
	}

	attempts := 0
	err := cb.ExecuteWithRetry(ctx, policy, func() error {
		attempts++
		if attempts < 2 {
			return New(KindPathBuildTimeout, "no response")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}
