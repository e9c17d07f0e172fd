package ingest

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

	"github.com/inletio/inlet/pkg/clients"
	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/errors"
	"github.com/inletio/inlet/pkg/retry"
)

func newTestClient(url string, maxRetries int) *HTTPClient {
	httpClient := clients.NewHTTPClient(&clients.HTTPConfig{RequestTimeout: 5 * time.Second}, zap.NewNop())
	policy := &retry.Policy{MaxRetries: maxRetries, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	return NewHTTPClient(config.IngestConfig{URL: url, APIKey: "key-1"}, httpClient, policy, zap.NewNop())
}

func TestUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.Equal(t, "abc123", r.Header.Get("Idempotency-Key"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "abc123", r.FormValue("idempotency_key"))
		assert.JSONEq(t, `{"source":"orders"}`, r.FormValue("metadata"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()
		assert.Equal(t, "orders-000000.json", header.Filename)

		_, _ = w.Write([]byte(`{"document_ids":["doc-1","doc-2"]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	result, err := client.Upload(context.Background(), []byte(`{"id":1}`), "orders-000000.json",
		map[string]string{"source": "orders"}, "abc123")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1", "doc-2"}, result.DocumentIDs)
}

func TestUploadRetriesServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"document_ids":["doc-1"]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 2)
	result, err := client.Upload(context.Background(), []byte("x"), "f.json", nil, "k1")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, result.DocumentIDs)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestUploadClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	_, err := client.Upload(context.Background(), []byte("x"), "f.json", nil, "k1")
	require.Error(t, err)
	assert.False(t, errors.IsRetryable(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUploadValidation(t *testing.T) {
	client := newTestClient("http://localhost:1", 0)

	_, err := client.Upload(context.Background(), []byte("x"), "", nil, "k1")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = client.Upload(context.Background(), []byte("x"), "f.json", nil, "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}
