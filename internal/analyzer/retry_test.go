package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDefaults(t *testing.T) {
	p := NewRetryPolicy(0, 0)
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts)
	assert.Equal(t, DefaultRetryDelay, p.Delay)

	p = NewRetryPolicy(5, 2*time.Second)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.Delay)
}

func TestRetrySucceedsFirstTry(t *testing.T) {
	p := fastRetry(3)
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryStopsAtBound(t *testing.T) {
	boom := errors.New("boom")
	p := fastRetry(3)
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	}, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryFixedDelayNoBackoff(t *testing.T) {
	var delays []time.Duration
	p := NewRetryPolicy(4, 60*time.Second)
	p.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	err := p.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("always")
	}, nil)
	require.Error(t, err)
	// three waits between four attempts, all identical
	assert.Equal(t, []time.Duration{60 * time.Second, 60 * time.Second, 60 * time.Second}, delays)
}

func TestRetryNoSleepAfterFinalAttempt(t *testing.T) {
	sleeps := 0
	p := fastRetry(2)
	p.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}
	_ = p.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("always")
	}, nil)
	assert.Equal(t, 1, sleeps)
}

func TestRetryObserverSeesAttempts(t *testing.T) {
	var attempts []int
	p := fastRetry(3)
	_ = p.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("always")
	}, func(attempt int, err error) {
		attempts = append(attempts, attempt)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewRetryPolicy(3, time.Hour)
	p.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	calls := 0
	err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
