package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines how retry attempts should be executed.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of retry attempts (0 = no retries)
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration

	// Multiplier is the factor to multiply the delay by after each attempt
	Multiplier float64

	// Jitter adds randomness to the delay to prevent thundering herd.
	// Value should be between 0.0 and 1.0: 0.0 = no jitter, 1.0 = full
	// jitter (delay can be 0 to 2x calculated delay).
	Jitter float64

	// RetryableKinds defines which error Kinds should be retried. If nil,
	// only errors whose Kind is marked Retryable() are retried.
	RetryableKinds map[Kind]bool
}

// DefaultRetryPolicy returns the policy used for path-build hop selection:
// exponential backoff across attempts that include a given hop.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
		RetryableKinds: map[Kind]bool{
			KindPathBuildTimeout:     true,
			KindPathBuildRejected:    true,
			KindIntroSetStale:        true,
			KindIntroSetLookupFailed: true,
		},
	}
}

// AggressiveRetryPolicy is a faster-cycling policy for introset lookups,
// which must converge across multiple DHT endpoints quickly.
func AggressiveRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		RetryableKinds: map[Kind]bool{
			KindIntroSetLookupFailed: true,
			KindIntroSetStale:        true,
		},
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func() error

// RetryWithPolicy executes fn with retry logic based on policy, returning
// the last error if all attempts fail.
func RetryWithPolicy(ctx context.Context, policy *RetryPolicy, fn RetryableFunc) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !policy.shouldRetry(err) {
			return err
		}
		if attempt >= policy.MaxAttempts {
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", policy.MaxAttempts, err)
		}

		delay := policy.calculateDelay(attempt)
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}

// Retry executes fn with the default retry policy.
func Retry(ctx context.Context, fn RetryableFunc) error {
	return RetryWithPolicy(ctx, DefaultRetryPolicy(), fn)
}

func (p *RetryPolicy) shouldRetry(err error) bool {
	if IsRetryable(err) {
		return true
	}
	if p.RetryableKinds != nil {
		return p.RetryableKinds[GetKind(err)]
	}
	return false
}

func (p *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		jitterAmount := delay * p.Jitter
		delay = delay + (rand.Float64()*2-1)*jitterAmount
		if delay < 0 {
			delay = 0
		}
	}
	return time.Duration(delay)
}

// RetryStats tracks retry attempt statistics.
type RetryStats struct {
	TotalAttempts   int
	SuccessfulRetry bool
	FinalError      error
	TotalDuration   time.Duration
}

// RetryWithStats executes fn with retry logic and returns statistics
// alongside the final result.
func RetryWithStats(ctx context.Context, policy *RetryPolicy, fn RetryableFunc) (*RetryStats, error) {
	startTime := time.Now()
	stats := &RetryStats{}
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxAttempts; attempt++ {
		stats.TotalAttempts++

		select {
		case <-ctx.Done():
			stats.FinalError = fmt.Errorf("retry cancelled: %w", ctx.Err())
			stats.TotalDuration = time.Since(startTime)
			return stats, stats.FinalError
		default:
		}

		err := fn()
		if err == nil {
			stats.SuccessfulRetry = attempt > 0
			stats.TotalDuration = time.Since(startTime)
			return stats, nil
		}
		lastErr = err

		if !policy.shouldRetry(err) {
			stats.FinalError = err
			stats.TotalDuration = time.Since(startTime)
			return stats, err
		}
		if attempt >= policy.MaxAttempts {
			stats.FinalError = fmt.Errorf("max retry attempts (%d) exceeded: %w", policy.MaxAttempts, err)
			stats.TotalDuration = time.Since(startTime)
			return stats, stats.FinalError
		}

		delay := policy.calculateDelay(attempt)
		select {
		case <-ctx.Done():
			stats.FinalError = fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
			stats.TotalDuration = time.Since(startTime)
			return stats, stats.FinalError
		case <-time.After(delay):
		}
	}

	stats.FinalError = lastErr
	stats.TotalDuration = time.Since(startTime)
	return stats, lastErr
}

// RetryCallback is invoked after each attempt, reporting whether another
// attempt will follow.
type RetryCallback func(attempt int, err error, willRetry bool)

// RetryWithCallbackFunc executes fn with retry logic, invoking callback
// after every attempt for monitoring (e.g. a path builder logging which
// hop attempt failed).
func RetryWithCallbackFunc(ctx context.Context, policy *RetryPolicy, fn RetryableFunc, callback RetryCallback) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			if callback != nil {
				callback(attempt, nil, false)
			}
			return nil
		}
		lastErr = err

		willRetry := policy.shouldRetry(err) && attempt < policy.MaxAttempts
		if callback != nil {
			callback(attempt, err, willRetry)
		}
		if !willRetry {
			return err
		}

		delay := policy.calculateDelay(attempt)
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}
