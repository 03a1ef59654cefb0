package analyzer

import (
	"context"
	"time"
)

// Retry defaults match the original deployment: three attempts spaced a
// minute apart, no backoff.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 60 * time.Second
)

// RetryPolicy retries an operation a bounded number of times with a fixed
// delay between attempts. There is no backoff and no jitter; the delay is
// sized for rate-limit recovery, not congestion avoidance.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration

	// sleep is replaced in tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy returns a policy with the given bounds, falling back to
// the defaults for non-positive values.
func NewRetryPolicy(maxAttempts int, delay time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return RetryPolicy{MaxAttempts: maxAttempts, Delay: delay, sleep: sleepContext}
}

// Do runs op until it succeeds or MaxAttempts is reached. It returns
// the last error on exhaustion, and the context error if the context ends
// while waiting between attempts. onRetry, if non-nil, observes the attempt
// number (1-based) and error before each wait.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, lastErr)
		}
		if err := sleep(ctx, p.Delay); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
