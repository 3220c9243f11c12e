package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Logger      *Logger

	// Retryable decides whether a failure earns another attempt.
	// A nil Retryable retries every error.
	Retryable func(error) bool

	// OnRetry, when set, is called before each repeated attempt.
	OnRetry func(err error)
}

// Do executes fn with a fixed delay between attempts. Errors rejected by
// Retryable are returned immediately without consuming further attempts.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func() error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		if r.OnRetry != nil {
			r.OnRetry(err)
		}
		if r.Logger != nil {
			r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
				operationName, attempt, attempts, err, next)
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.Delay), uint64(attempts-1)),
		ctx,
	)

	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		return nil
	}
	if attempt >= attempts {
		return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempt, err)
	}
	return err
}
