package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inletio/inlet/pkg/errors"
)

// recordedSleep captures delays instead of waiting.
func recordedSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestExhaustionInvokesExactlyMaxRetriesPlusOne(t *testing.T) {
	var delays []time.Duration
	p := &Policy{
		MaxRetries: 3,
		Backoff:    time.Second,
		MaxBackoff: 8 * time.Second,
		sleep:      recordedSleep(&delays),
	}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New(errors.ErrorTypeConnection, "boom")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
	assert.True(t, errors.IsType(err, errors.ErrorTypeIntegration))
	assert.False(t, errors.IsRetryable(err))
	assert.Equal(t, "RETRY_EXHAUSTED", errors.CodeOf(err))
}

func TestBackoffCap(t *testing.T) {
	p := &Policy{Backoff: time.Second, MaxBackoff: 8 * time.Second}

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 8*time.Second, p.Delay(5), "capped thereafter")
}

func TestNonRetryableReturnsImmediately(t *testing.T) {
	var delays []time.Duration
	p := &Policy{MaxRetries: 3, Backoff: time.Second, sleep: recordedSleep(&delays)}

	calls := 0
	orig := errors.New(errors.ErrorTypeValidation, "bad input")
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return orig
	})

	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
	assert.Same(t, orig, err.(*errors.Error))
}

func TestSuccessAfterRetries(t *testing.T) {
	var delays []time.Duration
	p := &Policy{MaxRetries: 5, Backoff: time.Second, sleep: recordedSleep(&delays)}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New(errors.ErrorTypeTimeout, "slow")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2)
}

func TestRetryAfterHintOverridesSmallerDelay(t *testing.T) {
	var delays []time.Duration
	p := &Policy{MaxRetries: 1, Backoff: time.Second, sleep: recordedSleep(&delays)}

	_ = p.Do(context.Background(), func(context.Context) error {
		return errors.New(errors.ErrorTypeRateLimit, "throttled").
			WithRetryAfter(30 * time.Second)
	})

	require.Len(t, delays, 1)
	assert.Equal(t, 30*time.Second, delays[0])
}

func TestOnRetryHook(t *testing.T) {
	var delays []time.Duration
	var attempts []int
	p := &Policy{
		MaxRetries: 2,
		Backoff:    time.Second,
		sleep:      recordedSleep(&delays),
		OnRetry: func(_ error, attempt int, _ time.Duration) {
			attempts = append(attempts, attempt)
		},
	}

	_ = p.Do(context.Background(), func(context.Context) error {
		return errors.New(errors.ErrorTypeConnection, "boom")
	})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestCancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(3, time.Second)
	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return errors.New(errors.ErrorTypeConnection, "boom")
	})

	assert.Zero(t, calls)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
}

func TestCancellationDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Policy{MaxRetries: 3, Backoff: time.Minute}
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context) error {
			return errors.New(errors.ErrorTypeConnection, "boom")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not abort on cancellation")
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	p := &Policy{Backoff: time.Second, MaxBackoff: time.Minute, Jitter: true}

	for i := 0; i < 100; i++ {
		d := p.Delay(2)
		assert.GreaterOrEqual(t, d, 1500*time.Millisecond)
		assert.LessOrEqual(t, d, 2500*time.Millisecond)
	}
}
