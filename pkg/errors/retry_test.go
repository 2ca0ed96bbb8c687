package errors

import (
	"context"
	"testing"
	"time"
)

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()

	if policy.MaxAttempts != 3 {
		t.Errorf("Expected MaxAttempts=3, got %d", policy.MaxAttempts)
	}
	if policy.InitialDelay != 1*time.Second {
		t.Errorf("Expected InitialDelay=1s, got %v", policy.InitialDelay)
	}
	if policy.MaxDelay != 30*time.Second {
		t.Errorf("Expected MaxDelay=30s, got %v", policy.MaxDelay)
	}
	if policy.Multiplier != 2.0 {
		t.Errorf("Expected Multiplier=2.0, got %f", policy.Multiplier)
	}
}

func TestRetrySuccess(t *testing.T) {
	ctx := context.Background()
	attempts := 0

	err := Retry(ctx, func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetrySuccessAfterRetries(t *testing.T) {
	ctx := context.Background()
	attempts := 0

	policy := &RetryPolicy{
		MaxAttempts:    5,
		InitialDelay:   time.Millisecond,
		MaxDelay:       10 * time.Millisecond,
		Multiplier:     2.0,
		RetryableKinds: map[Kind]bool{KindPathBuildTimeout: true},
	}

	err := RetryWithPolicy(ctx, policy, func() error {
		attempts++
		if attempts < 3 {
			return New(KindPathBuildTimeout, "hop did not respond")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryNonRetryableFailsFast(t *testing.T) {
	ctx := context.Background()
	attempts := 0

	err := RetryWithPolicy(ctx, DefaultRetryPolicy(), func() error {
		attempts++
		return New(KindAuthenticatorMismatch, "bad mac")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected a single attempt for a non-retryable kind, got %d", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	policy := &RetryPolicy{
		MaxAttempts:    2,
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2.0,
		RetryableKinds: map[Kind]bool{KindIntroSetLookupFailed: true},
	}
	attempts := 0

	err := RetryWithPolicy(ctx, policy, func() error {
		attempts++
		return New(KindIntroSetLookupFailed, "no endpoints responded")
	})

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("expected MaxAttempts+1=3 attempts, got %d", attempts)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, func() error {
		t.Fatal("fn should not be called with an already-cancelled context")
		return nil
	})
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestRetryWithStatsRecordsAttempts(t *testing.T) {
	ctx := context.Background()
	policy := &RetryPolicy{
		MaxAttempts:    3,
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2.0,
		RetryableKinds: map[Kind]bool{KindPathBuildTimeout: true},
	}
	attempts := 0

	stats, err := RetryWithStats(ctx, policy, func() error {
		attempts++
		if attempts < 2 {
			return New(KindPathBuildTimeout, "timed out")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stats.SuccessfulRetry {
		t.Error("expected SuccessfulRetry to be true")
	}
	if stats.TotalAttempts != 2 {
		t.Errorf("expected 2 total attempts, got %d", stats.TotalAttempts)
	}
}

func TestRetryWithCallbackFuncInvokedPerAttempt(t *testing.T) {
	ctx := context.Background()
	policy := &RetryPolicy{
		MaxAttempts:    2,
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2.0,
		RetryableKinds: map[Kind]bool{KindPathBuildRejected: true},
	}

	var calls []bool
	err := RetryWithCallbackFunc(ctx, policy, func() error {
		return New(KindPathBuildRejected, "hop declined")
	}, func(attempt int, err error, willRetry bool) {
		calls = append(calls, willRetry)
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if len(calls) != 3 {
		t.Fatalf("expected 3 callback invocations, got %d", len(calls))
	}
	if calls[len(calls)-1] {
		t.Error("final callback should report willRetry=false")
	}
}

func TestAggressiveRetryPolicyFasterThanDefault(t *testing.T) {
	d := DefaultRetryPolicy()
	a := AggressiveRetryPolicy()
	if a.InitialDelay >= d.InitialDelay {
		t.Errorf("expected aggressive initial delay (%v) < default (%v)", a.InitialDelay, d.InitialDelay)
	}
	if a.MaxAttempts <= d.MaxAttempts {
		t.Errorf("expected aggressive policy to allow more attempts than default")
	}
}
