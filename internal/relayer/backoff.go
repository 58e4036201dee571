package relayer

import (
	"context"
	"math/rand"
	"time"
)

// backoffDelay returns the capped exponential delay for the given attempt
// (0-based), with up to 20% jitter added. A non-positive max falls back to
// a fixed ceiling so unbounded retry loops never overflow the doubling.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if max <= 0 {
		max = 5 * time.Minute
	}
	delay := base
	for i := 0; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/5 + 1))
	return delay + jitter
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// withRetry runs fn up to maxRetries+1 times with capped exponential backoff
// between attempts. The context aborts both the waits and the loop.
func withRetry(ctx context.Context, maxRetries int, base, max time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries {
			return err
		}
		if err := sleepCtx(ctx, backoffDelay(base, max, attempt)); err != nil {
			return err
		}
	}
}
