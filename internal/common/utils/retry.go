package utils

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"
)

// RetryConfig holds configuration for retry operations with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt)
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay caps exponential growth
	MaxDelay time.Duration

	// BackoffFactor is the multiplier for exponential backoff
	BackoffFactor float64

	// JitterFactor adds randomness to delays (0.0-1.0)
	JitterFactor float64

	// RetryableErrors determines which errors should trigger a retry.
	// If nil, all errors are considered retryable.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns a configuration suitable for backend calls:
// 3 attempts, 50ms initial delay doubling up to 2s, 10% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// RetryWithBackoff executes fn up to MaxAttempts times with exponentially
// increasing delays. Non-retryable errors propagate immediately. A cancelled
// context aborts the wait between attempts.
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err

			if config.RetryableErrors != nil && !config.RetryableErrors(err) {
				return err
			}

			if attempt == config.MaxAttempts {
				break
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}

			if config.JitterFactor > 0 {
				jitter := time.Duration(float64(delay) * config.JitterFactor)
				delay = delay + time.Duration(randomInt64n(int64(jitter)))
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Retry executes fn with fixed-delay retries and no backoff.
func Retry(attempts int, delay time.Duration, fn func() error) error {
	config := RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  delay,
		MaxDelay:      delay,
		BackoffFactor: 1.0,
	}
	return RetryWithBackoff(context.Background(), config, fn)
}

// randomInt64n returns a random int64 in [0, n), falling back to time-based
// randomness if crypto/rand fails.
func randomInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}

	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return time.Now().UnixNano() % n
	}

	val := int64(bytes[0])<<56 | int64(bytes[1])<<48 | int64(bytes[2])<<40 | int64(bytes[3])<<32 |
		int64(bytes[4])<<24 | int64(bytes[5])<<16 | int64(bytes[6])<<8 | int64(bytes[7])

	if val < 0 {
		val = -val
	}

	return val % n
}
