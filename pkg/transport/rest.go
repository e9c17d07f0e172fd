package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inletio/inlet/pkg/auth"
	"github.com/inletio/inlet/pkg/clients"
	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/errors"
	"github.com/inletio/inlet/pkg/jsonutil"
	"github.com/inletio/inlet/pkg/retry"
)

// RequestOptions shapes one outbound REST call.
type RequestOptions struct {
	// Method defaults to GET.
	Method  string
	Query   map[string]string
	Headers map[string]string
	Body    []byte
	// Cursor resumes pagination from a previously returned Position.
	Cursor string
}

// Response is a fully-read REST response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RESTTransport pulls data from HTTP APIs with auth injection, retry,
// pagination, and SSE streaming.
type RESTTransport struct {
	cfg      config.RESTConfig
	client   *clients.HTTPClient
	provider auth.Provider
	policy   *retry.Policy
	logger   *zap.Logger
	baseURL  *url.URL
}

// NewRESTTransport builds a REST transport. provider may be nil for
// unauthenticated APIs; policy may be nil to disable retries.
func NewRESTTransport(cfg config.RESTConfig, client *clients.HTTPClient, provider auth.Provider, policy *retry.Policy, logger *zap.Logger) *RESTTransport {
	if policy == nil {
		policy = &retry.Policy{}
	}
	return &RESTTransport{
		cfg:      cfg,
		client:   client,
		provider: provider,
		policy:   policy,
		logger:   logger.With(zap.String("transport", "rest")),
	}
}

// Connect validates the base URL. No connection is held between calls;
// pooling lives in the HTTP client.
func (t *RESTTransport) Connect(ctx context.Context) error {
	u, err := url.Parse(t.cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Newf(errors.ErrorTypeConfig, "invalid base URL %q", t.cfg.BaseURL)
	}
	t.baseURL = u
	return nil
}

// Disconnect releases idle connections.
func (t *RESTTransport) Disconnect(ctx context.Context) error {
	return t.client.Close()
}

// Request performs one call with retry on retryable failures. An
// authentication failure triggers at most one forced credential
// invalidation followed by a second retried attempt.
func (t *RESTTransport) Request(ctx context.Context, path string, opts RequestOptions) (*Response, error) {
	resp, err := t.requestWithRetry(ctx, path, opts)
	if err == nil || !errors.IsType(err, errors.ErrorTypeAuthentication) {
		return resp, err
	}

	inv, ok := t.provider.(auth.Invalidator)
	if !ok {
		return nil, err
	}
	t.logger.Warn("authentication failure, invalidating credentials and retrying",
		zap.String("path", path))
	inv.Invalidate()
	return t.requestWithRetry(ctx, path, opts)
}

func (t *RESTTransport) requestWithRetry(ctx context.Context, path string, opts RequestOptions) (*Response, error) {
	var resp *Response
	err := t.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = t.do(ctx, path, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *RESTTransport) do(ctx context.Context, path string, opts RequestOptions) (*Response, error) {
	if t.baseURL == nil {
		if err := t.Connect(ctx); err != nil {
			return nil, err
		}
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	u := *t.baseURL
	u.Path = joinPath(u.Path, path)
	q := u.Query()
	for k, v := range t.cfg.Query {
		q.Set(k, v)
	}
	for k, v := range opts.Query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	headers := make(map[string]string, len(t.cfg.Headers)+len(opts.Headers)+1)
	for k, v := range t.cfg.Headers {
		headers[k] = v
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}
	if t.provider != nil {
		if err := t.provider.ApplyToHeaders(ctx, headers); err != nil {
			return nil, err
		}
	}

	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	httpResp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Cancelled(err, "request cancelled")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed").
			WithDetail("url", u.String())
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}

	if statusErr := classifyStatus(httpResp, data); statusErr != nil {
		return nil, statusErr
	}

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

// classifyStatus maps non-2xx responses to typed errors.
func classifyStatus(resp *http.Response, body []byte) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.Newf(errors.ErrorTypeAuthentication, "authentication rejected with status %d", code).
			WithCode("HTTP_" + strconv.Itoa(code))
	case code == http.StatusTooManyRequests:
		e := errors.New(errors.ErrorTypeRateLimit, "rate limited by upstream").
			WithCode("HTTP_429")
		if d := parseRetryAfter(resp.Header.Get("Retry-After")); d > 0 {
			e = e.WithRetryAfter(d)
		}
		return e
	case code >= 500:
		return errors.Newf(errors.ErrorTypeIntegration, "upstream server error %d", code).
			WithCode("HTTP_"+strconv.Itoa(code)).
			WithRetryable(true).
			WithDetail("body", truncate(body, 512))
	default:
		return errors.Newf(errors.ErrorTypeIntegration, "upstream rejected request with status %d", code).
			WithCode("HTTP_"+strconv.Itoa(code)).
			WithRetryable(false).
			WithDetail("body", truncate(body, 512))
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func joinPath(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// Paginate walks a paginated listing lazily. Pages arrive on the stream
// in order; the terminal element carries Err on failure. The consumer
// stops early by cancelling ctx.
func (t *RESTTransport) Paginate(ctx context.Context, path string, opts RequestOptions, pg config.PaginationConfig) *PageStream {
	pages := make(chan *Page)
	go func() {
		defer close(pages)
		if err := t.paginate(ctx, path, opts, pg, pages); err != nil {
			select {
			case pages <- &Page{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return &PageStream{pages: pages}
}

func (t *RESTTransport) paginate(ctx context.Context, path string, opts RequestOptions, pg config.PaginationConfig, pages chan<- *Page) error {
	state, err := newPaginationState(pg, opts.Cursor)
	if err != nil {
		return err
	}

	for number := 0; ; number++ {
		if pg.MaxPages > 0 && number >= pg.MaxPages {
			t.logger.Debug("page limit reached", zap.Int("max_pages", pg.MaxPages))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errors.Cancelled(err, "pagination cancelled")
		}

		pageOpts := opts
		pageOpts.Query = mergeQuery(opts.Query, state.query())
		resp, err := t.Request(ctx, path, pageOpts)
		if err != nil {
			return err
		}

		items, err := extractItems(resp.Body, pg.ItemsPath)
		if err != nil {
			return err
		}

		done, err := state.advance(resp.Body, len(items))
		if err != nil {
			return err
		}

		if len(items) > 0 || number == 0 {
			page := &Page{
				Number:   number,
				Items:    items,
				Raw:      resp.Body,
				Position: state.position(),
			}
			select {
			case pages <- page:
			case <-ctx.Done():
				return errors.Cancelled(ctx.Err(), "pagination cancelled")
			}
		}
		if done {
			return nil
		}
	}
}

func mergeQuery(base, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// extractItems pulls the item array at path out of a response body and
// re-serializes each element.
func extractItems(body []byte, path string) ([][]byte, error) {
	var root interface{}
	if err := jsonutil.Unmarshal(body, &root); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to parse listing response")
	}

	node, ok := lookupPath(root, path)
	if !ok {
		// A missing items path means an empty page, matching APIs that
		// omit the array entirely at exhaustion.
		return nil, nil
	}

	switch v := node.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		items := make([][]byte, 0, len(v))
		for _, item := range v {
			data, err := jsonutil.Marshal(item)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode listing item")
			}
			items = append(items, data)
		}
		return items, nil
	default:
		return nil, errors.New(errors.ErrorTypeData, "items path does not resolve to an array").
			WithDetail("path", path)
	}
}

// lookupPath walks a dot-separated path through decoded JSON.
func lookupPath(root interface{}, path string) (interface{}, bool) {
	if path == "" {
		return root, true
	}
	node := root
	for _, segment := range strings.Split(path, ".") {
		obj, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		node, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	return node, true
}
