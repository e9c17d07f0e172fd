package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPClientGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token-123", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient(nil, zap.NewNop())
	defer client.Close()

	resp, err := client.Get(context.Background(), srv.URL, map[string]string{
		"Authorization": "token-123",
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	total, failed := client.Stats()
	assert.EqualValues(t, 1, total)
	assert.EqualValues(t, 0, failed)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	}, zap.NewNop())

	for i := 0; i < 3; i++ {
		assert.True(t, cb.Allow())
		cb.RecordFailure()
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	// After the timeout the breaker probes half-open.
	time.Sleep(60 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
	}, zap.NewNop())

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestClientBreakerBlocksAfterServerErrors(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.FailureThreshold = 2
	cfg.BreakerTimeout = time.Minute
	client := NewHTTPClient(cfg, zap.NewNop())
	defer client.Close()

	for i := 0; i < 2; i++ {
		resp, err := client.Get(context.Background(), srv.URL, nil)
		require.NoError(t, err)
		resp.Body.Close()
	}

	_, err := client.Get(context.Background(), srv.URL, nil)
	assert.ErrorContains(t, err, "circuit breaker open")
	assert.EqualValues(t, 2, atomic.LoadInt64(&hits))
}

func TestRateLimiterSmooths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.CircuitBreakerEnabled = false
	cfg.RateLimit = 50
	cfg.RateBurst = 1
	client := NewHTTPClient(cfg, zap.NewNop())
	defer client.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		resp, err := client.Get(context.Background(), srv.URL, nil)
		require.NoError(t, err)
		resp.Body.Close()
	}
	// Two waits at 50 rps means at least ~40ms total.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
