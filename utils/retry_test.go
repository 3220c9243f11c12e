package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	errFlaky = errors.New("flaky")
	errFatal = errors.New("fatal")
)

func TestRetryStopsOnSuccess(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 3, Delay: time.Millisecond, Logger: NewNopLogger()}

	calls := 0
	err := r.Do(context.Background(), "op", func() error {
		calls++
		if calls < 2 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 3, Delay: time.Millisecond, Logger: NewNopLogger()}

	calls := 0
	err := r.Do(context.Background(), "op", func() error {
		calls++
		return errFlaky
	})

	require.ErrorIs(t, err, errFlaky)
	require.Equal(t, 3, calls)
}

func TestRetrySkipsNonRetryable(t *testing.T) {
	r := &RetryConfig{
		MaxAttempts: 3,
		Delay:       time.Millisecond,
		Logger:      NewNopLogger(),
		Retryable:   func(err error) bool { return errors.Is(err, errFlaky) },
	}

	calls := 0
	err := r.Do(context.Background(), "op", func() error {
		calls++
		return errFatal
	})

	require.ErrorIs(t, err, errFatal)
	require.Equal(t, 1, calls)
}

func TestRetryWaitsFixedDelay(t *testing.T) {
	delay := 40 * time.Millisecond
	r := &RetryConfig{MaxAttempts: 3, Delay: delay, Logger: NewNopLogger()}

	var stamps []time.Time
	_ = r.Do(context.Background(), "op", func() error {
		stamps = append(stamps, time.Now())
		return errFlaky
	})

	require.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		require.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), delay)
	}
}

func TestRetryReportsEachRetry(t *testing.T) {
	var retried []error
	r := &RetryConfig{
		MaxAttempts: 3,
		Delay:       time.Millisecond,
		OnRetry:     func(err error) { retried = append(retried, err) },
	}

	_ = r.Do(context.Background(), "op", func() error { return errFlaky })

	require.Len(t, retried, 2)
	require.ErrorIs(t, retried[0], errFlaky)
}
