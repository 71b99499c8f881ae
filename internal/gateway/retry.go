package gateway

import (
	"context"
	"time"
)

// RetryOptions controls the exponential backoff executor.
type RetryOptions struct {
	MaxRetries   int
	InitialDelay time.Duration
	Factor       float64
	ShouldRetry  func(error) bool
	// OnRetry fires once per retried attempt, before the backoff sleep.
	OnRetry func()
}

// DefaultRetryOptions total attempts = 1 + MaxRetries, delays 200ms, 400ms, 800ms.
var DefaultRetryOptions = RetryOptions{
	MaxRetries:   3,
	InitialDelay: 200 * time.Millisecond,
	Factor:       2,
}

// sleepFn is swapped out in tests.
var sleepFn = sleep

// Retry runs fn with exponential backoff. The error propagates immediately
// when ShouldRetry reports false or attempts are exhausted; nothing is
// swallowed. Callers must only retry operations that are idempotent or carry
// an idempotency key.
func Retry(ctx context.Context, opts RetryOptions, fn func(ctx context.Context) error) error {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultRetryOptions.InitialDelay
	}
	if opts.Factor <= 0 {
		opts.Factor = DefaultRetryOptions.Factor
	}

	delay := opts.InitialDelay
	var err error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if opts.ShouldRetry != nil && !opts.ShouldRetry(err) {
			return err
		}
		if attempt == opts.MaxRetries {
			return err
		}
		if opts.OnRetry != nil {
			opts.OnRetry()
		}
		if serr := sleepFn(ctx, delay); serr != nil {
			return serr
		}
		delay = time.Duration(float64(delay) * opts.Factor)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
