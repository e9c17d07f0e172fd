// Package retry provides the cross-cutting exponential-backoff executor
// used by transports and connectors. A Policy invokes an operation up to
// MaxRetries+1 times, classifying failures as retryable or terminal and
// waiting min(Backoff * 2^(n-1), MaxBackoff) before attempt n.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/inletio/inlet/pkg/errors"
	"github.com/inletio/inlet/pkg/metrics"
)

// Func is the retried operation.
type Func func(ctx context.Context) error

// Policy defines retry behavior.
type Policy struct {
	// MaxRetries is the number of retries beyond the first attempt.
	MaxRetries int
	// Backoff is the delay before the first retry.
	Backoff time.Duration
	// MaxBackoff caps the exponential delay.
	MaxBackoff time.Duration
	// Jitter randomizes each delay within ±25% when set.
	Jitter bool
	// ShouldRetry classifies errors; nil uses the default classification
	// (connection, timeout, and rate-limit errors are retryable).
	ShouldRetry func(error) bool
	// OnRetry is an observability hook invoked before each wait.
	OnRetry func(err error, attempt int, delay time.Duration)
	// Operation labels retry metrics; empty disables them.
	Operation string

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a policy with sensible defaults.
func New(maxRetries int, backoff time.Duration) *Policy {
	return &Policy{
		MaxRetries: maxRetries,
		Backoff:    backoff,
		MaxBackoff: 60 * time.Second,
		Jitter:     true,
	}
}

// Do invokes fn up to MaxRetries+1 times. Non-retryable errors return
// immediately; after exhaustion the last error is wrapped as a terminal
// integration error carrying retryable=false. Context cancellation during
// a wait aborts with a cancelled classification.
func (p *Policy) Do(ctx context.Context, fn Func) error {
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = errors.IsRetryable
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Cancelled(err, "retry aborted")
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.IsType(err, errors.ErrorTypeCancelled) {
			return err
		}
		if !shouldRetry(err) {
			return err
		}
		if attempt == p.MaxRetries {
			break
		}

		delay := p.Delay(attempt + 1)
		// A server-provided Retry-After hint wins when it asks for more.
		if hint := errors.RetryAfter(err); hint > delay {
			delay = hint
		}

		if p.OnRetry != nil {
			p.OnRetry(err, attempt+1, delay)
		}
		if p.Operation != "" {
			metrics.RetryAttempts.WithLabelValues(p.Operation).Inc()
		}

		if err := sleep(ctx, delay); err != nil {
			return errors.Cancelled(err, "retry wait interrupted")
		}
	}

	return errors.Terminal(lastErr, "RETRY_EXHAUSTED", "all retry attempts failed")
}

// Delay returns the backoff before retry attempt n (n >= 1), without the
// Retry-After override.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.Backoff) * math.Pow(2, float64(attempt-1))
	if p.MaxBackoff > 0 && delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}

	if p.Jitter && delay > 0 {
		delta := delay * 0.25
		delay = delay - delta + rand.Float64()*2*delta
	}

	return time.Duration(delay)
}

// sleepContext waits for d or until the context is cancelled.
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
