// Package ingest is the boundary to the downstream document ingestion
// service. The connector is its only caller: each normalized record is
// uploaded as one file with an idempotency key, and the service
// deduplicates re-submissions of the same key.
package ingest

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/inletio/inlet/pkg/clients"
	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/errors"
	"github.com/inletio/inlet/pkg/jsonutil"
	"github.com/inletio/inlet/pkg/retry"
)

// UploadResult reports the documents created by one upload.
type UploadResult struct {
	DocumentIDs []string `json:"document_ids"`
}

// Client accepts normalized files for ingestion.
type Client interface {
	// Upload submits one file. Submitting the same idempotencyKey twice
	// is safe; the service returns the original result.
	Upload(ctx context.Context, file []byte, filename string, metadata map[string]string, idempotencyKey string) (*UploadResult, error)
}

// HTTPClient uploads via multipart POST.
type HTTPClient struct {
	cfg    config.IngestConfig
	client *clients.HTTPClient
	policy *retry.Policy
	logger *zap.Logger
}

// NewHTTPClient builds the HTTP ingestion client. policy may be nil to
// disable retries.
func NewHTTPClient(cfg config.IngestConfig, client *clients.HTTPClient, policy *retry.Policy, logger *zap.Logger) *HTTPClient {
	if policy == nil {
		policy = &retry.Policy{}
	}
	return &HTTPClient{
		cfg:    cfg,
		client: client,
		policy: policy,
		logger: logger.With(zap.String("component", "ingest")),
	}
}

// Upload submits one file, retrying transient failures. The idempotency
// key travels both as a header and a form field.
func (c *HTTPClient) Upload(ctx context.Context, file []byte, filename string, metadata map[string]string, idempotencyKey string) (*UploadResult, error) {
	if filename == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "upload requires a filename")
	}
	if idempotencyKey == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "upload requires an idempotency key")
	}

	var result *UploadResult
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.upload(ctx, file, filename, metadata, idempotencyKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *HTTPClient) upload(ctx context.Context, file []byte, filename string, metadata map[string]string, idempotencyKey string) (*UploadResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build multipart body")
	}
	if _, err := part.Write(file); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to write multipart body")
	}
	if len(metadata) > 0 {
		meta, err := jsonutil.Marshal(metadata)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode upload metadata")
		}
		if err := writer.WriteField("metadata", string(meta)); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to write upload metadata")
		}
	}
	if err := writer.WriteField("idempotency_key", idempotencyKey); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to write idempotency key")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to finalize multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, &body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build upload request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Cancelled(err, "upload cancelled")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "upload request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read upload response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.New(errors.ErrorTypeAuthentication, "ingestion service rejected credentials")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.New(errors.ErrorTypeRateLimit, "ingestion service rate limited upload")
	case resp.StatusCode >= 500:
		return nil, errors.Newf(errors.ErrorTypeIntegration, "ingestion service error %d", resp.StatusCode).
			WithRetryable(true)
	default:
		return nil, errors.Newf(errors.ErrorTypeIntegration, "ingestion service rejected upload with status %d", resp.StatusCode).
			WithRetryable(false).
			WithDetail("body", string(data))
	}

	var result UploadResult
	if len(data) > 0 {
		if err := jsonutil.Unmarshal(data, &result); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to parse upload response")
		}
	}

	c.logger.Debug("uploaded file",
		zap.String("filename", filename),
		zap.Int("size", len(file)),
		zap.Int("documents", len(result.DocumentIDs)),
		zap.Duration("elapsed", time.Since(start)))
	return &result, nil
}
