package gateway

import (
	"context"
	"errors"
	"testing"
	"time"
)

func withRecordedSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	orig := sleepFn
	sleepFn = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	t.Cleanup(func() { sleepFn = orig })
	return &delays
}

func TestRetryBackoffDelays(t *testing.T) {
	delays := withRecordedSleeps(t)

	attempts := 0
	err := Retry(context.Background(), RetryOptions{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		Factor:       2,
	}, func(ctx context.Context) error {
		attempts++
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}

	if attempts != 4 {
		t.Fatalf("expected 4 attempts (1 + 3 retries), got %d", attempts)
	}
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %d", len(want), len(*delays))
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Fatalf("delay[%d]=%v, want %v", i, (*delays)[i], want[i])
		}
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	delays := withRecordedSleeps(t)

	terminal := errors.New("card declined")
	attempts := 0
	err := Retry(context.Background(), RetryOptions{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		Factor:       2,
		ShouldRetry:  func(err error) bool { return false },
	}, func(ctx context.Context) error {
		attempts++
		return terminal
	})

	if err != terminal {
		t.Fatalf("expected the original error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
	if len(*delays) != 0 {
		t.Fatalf("expected no sleeps, got %v", *delays)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	withRecordedSleeps(t)

	attempts := 0
	err := Retry(context.Background(), DefaultRetryOptions, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, RetryOptions{MaxRetries: 2, InitialDelay: time.Millisecond, Factor: 2}, func(ctx context.Context) error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRetryHookFiresPerRetriedAttempt(t *testing.T) {
	withRecordedSleeps(t)

	retries := 0
	err := Retry(context.Background(), RetryOptions{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		Factor:       2,
		OnRetry:      func() { retries++ },
	}, func(ctx context.Context) error {
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if retries != 3 {
		t.Fatalf("expected hook to fire 3 times, got %d", retries)
	}
}

func TestRetryHookSilentOnFirstAttemptSuccess(t *testing.T) {
	withRecordedSleeps(t)

	retries := 0
	err := Retry(context.Background(), RetryOptions{
		MaxRetries: 3,
		OnRetry:    func() { retries++ },
	}, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retries != 0 {
		t.Fatalf("hook must not fire on a clean first attempt, got %d", retries)
	}
}
