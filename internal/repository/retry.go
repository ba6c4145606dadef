package repository

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy retries operations that failed with a retryable kind
// (connectivity or server error) using exponential backoff. Repository
// operations never retry on their own; callers opt in with a policy.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy is used by the background monitor.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:  3,
	BaseDelay: 500 * time.Millisecond,
	MaxDelay:  10 * time.Second,
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultRetryPolicy.MaxDelay
	}
	delay := p.BaseDelay
	if delay <= 0 {
		delay = DefaultRetryPolicy.BaseDelay
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Retry runs fn until it succeeds, fails with a non-retryable error, the
// attempts are used up or ctx is done.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		var e *Error
		if !errors.As(err, &e) || !e.Retryable() || attempt >= attempts || ctx.Err() != nil {
			return v, err
		}
		if waitErr := waitWithContext(ctx, p.delay(attempt)); waitErr != nil {
			return v, err
		}
	}
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
