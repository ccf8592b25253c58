package ingest

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Default retry policy values.
const (
	DefaultMaxAttempts       = 3
	DefaultInitialDelay      = 100 * time.Millisecond
	DefaultMaxDelay          = 5 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// RetryPolicy configures bounded retry with capped exponential backoff.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Zero means DefaultMaxAttempts.
	MaxAttempts int
	// InitialDelay is the delay before the first retry. Zero means
	// DefaultInitialDelay.
	InitialDelay time.Duration
	// MaxDelay caps the backoff delay. Zero means DefaultMaxDelay.
	MaxDelay time.Duration
	// BackoffMultiplier multiplies the delay after each failed attempt.
	// Zero means DefaultBackoffMultiplier.
	BackoffMultiplier float64
	// Jitter randomizes each delay within [delay/2, delay] to avoid
	// synchronized retry storms when many duplicate requests back off in
	// lockstep.
	Jitter bool
	// Classify reports whether an error is retryable. A nil Classify treats
	// every error as fatal.
	Classify func(error) bool
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = DefaultBackoffMultiplier
	}
	return p
}

// Retry executes op up to policy.MaxAttempts times. Errors the policy
// classifies as fatal are returned immediately; retryable errors trigger a
// capped exponential backoff sleep before the next attempt. After the final
// attempt the last error is returned, never swallowed. The context cancels
// both the backoff sleep and the operation itself.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	policy = policy.withDefaults()

	var zero T
	var lastErr error
	delay := policy.InitialDelay

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		val, err := op(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if policy.Classify == nil || !policy.Classify(err) {
			return zero, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		sleep := delay
		if sleep > policy.MaxDelay {
			sleep = policy.MaxDelay
		}
		if policy.Jitter && sleep > 0 {
			sleep = sleep/2 + time.Duration(rand.Int63n(int64(sleep/2)+1))
		}
		slog.Debug("Retry: transient failure, backing off", "attempt", attempt, "delay", sleep, "error", err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * policy.BackoffMultiplier)
	}

	return zero, lastErr
}
