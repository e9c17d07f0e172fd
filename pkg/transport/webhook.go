package transport

import (
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // G505: sha1 signatures are required by several webhook providers
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/errors"
	"github.com/inletio/inlet/pkg/metrics"
)

// WebhookHandler consumes one verified delivery.
type WebhookHandler func(ctx context.Context, event WebhookEvent) error

// WebhookReceiver accepts signed inbound deliveries. Signature
// verification is constant-time over the raw body; a mismatch is a
// silent reject: 401 with an empty body, no handler call.
type WebhookReceiver struct {
	cfg    config.WebhookConfig
	source string
	logger *zap.Logger

	mu      sync.Mutex
	handler WebhookHandler
	// dispatchMu serializes handler invocations.
	dispatchMu sync.Mutex

	maxBodyBytes int64
}

// NewWebhookReceiver builds a receiver for one endpoint. source labels
// emitted events and metrics.
func NewWebhookReceiver(cfg config.WebhookConfig, source string, logger *zap.Logger) *WebhookReceiver {
	return &WebhookReceiver{
		cfg:          cfg,
		source:       source,
		logger:       logger.With(zap.String("transport", "webhook"), zap.String("endpoint", cfg.Path)),
		maxBodyBytes: 10 << 20,
	}
}

// OnWebhook registers the handler. Exactly one handler is allowed; a
// second registration errors.
func (r *WebhookReceiver) OnWebhook(handler WebhookHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handler != nil {
		return errors.New(errors.ErrorTypeConfig, "webhook handler already registered")
	}
	r.handler = handler
	return nil
}

// Connect validates the receiver configuration.
func (r *WebhookReceiver) Connect(ctx context.Context) error {
	if r.cfg.Secret == "" {
		return errors.New(errors.ErrorTypeConfig, "webhook secret is required")
	}
	if _, err := newDigest(r.cfg.Algorithm); err != nil {
		return err
	}
	if r.cfg.SignatureHeader == "" {
		return errors.New(errors.ErrorTypeConfig, "webhook signature_header is required")
	}
	return nil
}

// Disconnect is a no-op; the receiver's lifetime is its HTTP server's.
func (r *WebhookReceiver) Disconnect(ctx context.Context) error {
	return nil
}

// Mount attaches the endpoint to a router.
func (r *WebhookReceiver) Mount(router *mux.Router) {
	router.HandleFunc(r.cfg.Path, r.handle).Methods(http.MethodPost)
}

// Serve runs a standalone HTTP server for the endpoint, blocking until
// ctx is cancelled.
func (r *WebhookReceiver) Serve(ctx context.Context) error {
	listen := r.cfg.Listen
	if listen == "" {
		listen = ":8090"
	}
	router := mux.NewRouter()
	r.Mount(router)

	server := &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	r.logger.Info("webhook receiver listening", zap.String("addr", listen))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, errors.ErrorTypeConnection, "webhook server failed")
		}
		return nil
	}
}

func (r *WebhookReceiver) handle(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, r.maxBodyBytes))
	if err != nil {
		metrics.WebhookRequests.WithLabelValues(r.cfg.Path, "error").Inc()
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !r.verify(body, req.Header.Get(r.cfg.SignatureHeader)) {
		metrics.WebhookRequests.WithLabelValues(r.cfg.Path, "rejected").Inc()
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	r.mu.Lock()
	handler := r.handler
	r.mu.Unlock()
	if handler == nil {
		metrics.WebhookRequests.WithLabelValues(r.cfg.Path, "unhandled").Inc()
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	headers := make(map[string]string, len(req.Header))
	for name := range req.Header {
		headers[name] = req.Header.Get(name)
	}
	event := WebhookEvent{
		ID:         uuid.NewString(),
		Source:     r.source,
		ReceivedAt: time.Now().UTC(),
		Headers:    headers,
		Body:       body,
	}

	r.dispatchMu.Lock()
	err = handler(req.Context(), event)
	r.dispatchMu.Unlock()

	if err != nil {
		metrics.WebhookRequests.WithLabelValues(r.cfg.Path, "handler_error").Inc()
		r.logger.Error("webhook handler failed", zap.String("delivery_id", event.ID), zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	metrics.WebhookRequests.WithLabelValues(r.cfg.Path, "accepted").Inc()
	w.WriteHeader(http.StatusAccepted)
}

// verify checks the signature header against an HMAC over the raw body.
// Validity is a pure function of (body, secret, algorithm, signature).
func (r *WebhookReceiver) verify(body []byte, header string) bool {
	if header == "" {
		return false
	}
	if r.cfg.SignaturePrefix != "" {
		if !strings.HasPrefix(header, r.cfg.SignaturePrefix) {
			return false
		}
		header = strings.TrimPrefix(header, r.cfg.SignaturePrefix)
	}

	provided, ok := decodeSignature(header)
	if !ok {
		return false
	}

	digest, err := newDigest(r.cfg.Algorithm)
	if err != nil {
		return false
	}
	mac := hmac.New(digest, []byte(r.cfg.Secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// decodeSignature accepts hex or base64 encodings.
func decodeSignature(s string) ([]byte, bool) {
	if b, err := hex.DecodeString(s); err == nil {
		return b, true
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, true
	}
	return nil, false
}

func newDigest(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case "sha1":
		return sha1.New, nil
	case "", "sha256":
		return sha256.New, nil
	case "sha512":
		return sha512.New, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported HMAC algorithm %q", algorithm)
	}
}
