package fn

import (
	"context"
	"time"
)

// RetryOpts configures Retry.
type RetryOpts struct {
	MaxAttempts int
	// Delay returns the pause after the zero-based failed attempt. Nil means no pause.
	Delay func(attempt int) time.Duration
	// Sleep pauses for d or until ctx is done. Defaults to SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each pause with the error of the failed attempt.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Retry calls f up to MaxAttempts times, pausing between attempts.
// A cancelled ctx never starts a new attempt; an attempt already running
// is allowed to finish.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(ctx context.Context, attempt int) Result[T]) Result[T] {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var result Result[T]
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Err[T](err)
		}
		result = f(ctx, attempt)
		if result.IsOk() {
			return result
		}
		if attempt == opts.MaxAttempts-1 {
			break
		}

		var wait time.Duration
		if opts.Delay != nil {
			wait = opts.Delay(attempt)
		}
		if opts.OnRetry != nil {
			_, err := result.Unwrap()
			opts.OnRetry(attempt, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return Err[T](err)
		}
	}
	return result
}

// SleepContext blocks for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
