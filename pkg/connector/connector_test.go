package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inletio/inlet/pkg/auth"
	"github.com/inletio/inlet/pkg/clients"
	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/errors"
	"github.com/inletio/inlet/pkg/ingest"
	"github.com/inletio/inlet/pkg/metrics"
	"github.com/inletio/inlet/pkg/retry"
	"github.com/inletio/inlet/pkg/transform"
)

// fakeSource replays a fixed unit sequence, honoring the resume cursor.
type fakeSource struct {
	units    []Unit
	failAt   int // unit index to fail at; -1 disables
	fetchErr error
}

func (s *fakeSource) Fetch(ctx context.Context, params SyncParams) (<-chan UnitResult, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	cursor := params.Cursor
	if cursor == "" && params.Since != nil {
		cursor = params.Since.Cursor
	}

	ch := make(chan UnitResult)
	go func() {
		defer close(ch)
		started := cursor == ""
		for i := range s.units {
			if !started {
				if s.units[i].Position == cursor {
					started = true
				}
				continue
			}
			if s.failAt == i {
				ch <- UnitResult{Err: errors.New(errors.ErrorTypeConnection, "listing failed")}
				return
			}
			unit := s.units[i]
			select {
			case ch <- UnitResult{Unit: &unit}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *fakeSource) Close(ctx context.Context) error { return nil }

// fakeIngest records uploads and can fail selected filenames.
type fakeIngest struct {
	mu      sync.Mutex
	uploads []upload
	fail    map[string]bool
}

type upload struct {
	filename string
	key      string
	metadata map[string]string
}

func (f *fakeIngest) Upload(ctx context.Context, file []byte, filename string, metadata map[string]string, key string) (*ingest.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[filename] {
		return nil, errors.New(errors.ErrorTypeIntegration, "upload rejected")
	}
	f.uploads = append(f.uploads, upload{filename: filename, key: key, metadata: metadata})
	return &ingest.UploadResult{DocumentIDs: []string{"doc-" + filename}}, nil
}

func (f *fakeIngest) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, len(f.uploads))
	for i, u := range f.uploads {
		keys[i] = u.key
	}
	return keys
}

func newTestConnector(t *testing.T, source Source, sink ingest.Client) *Connector {
	t.Helper()
	cfg := config.NewConfig("orders", "rest")
	cfg.Transport.REST.BaseURL = "http://upstream.invalid"
	cfg.Transform.JSON.ItemsPath = "items"
	cfg.Ingest.IDField = "id"

	transformer, err := transform.FromConfig(cfg.Transform)
	require.NoError(t, err)

	c := &Connector{
		cfg:         cfg,
		source:      source,
		transformer: transformer,
		ingest:      sink,
		logger:      zap.NewNop(),
		collector:   metrics.NewCollector("orders"),
	}
	c.state.Store(StateIdle)
	return c
}

func pageUnit(name, position string, ts time.Time, body string) Unit {
	return Unit{Name: name, Data: []byte(body), Position: position, Timestamp: ts}
}

func TestPullUploadsAllRecords(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	source := &fakeSource{
		failAt: -1,
		units: []Unit{
			pageUnit("page-0", "c1", ts, `{"items":[{"id":"1"},{"id":"2"}]}`),
			pageUnit("page-1", "c2", ts.Add(time.Minute), `{"items":[{"id":"3"}]}`),
		},
	}
	sink := &fakeIngest{}
	c := newTestConnector(t, source, sink)

	result, err := c.Pull(context.Background(), SyncParams{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.DocumentsProcessed)
	assert.Equal(t, 3, result.DocumentsUploaded)
	assert.Empty(t, result.Errors)
	assert.NotEmpty(t, result.PassID)
	require.NotNil(t, result.Checkpoint)
	assert.Equal(t, "c2", result.Checkpoint.Cursor)
	assert.Equal(t, ts.Add(time.Minute), result.Checkpoint.Timestamp)
	assert.Equal(t, StateCompleted, c.State())
}

func TestPullPartialSuccess(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	source := &fakeSource{
		failAt: -1,
		units: []Unit{
			pageUnit("page-0", "c1", ts, `{"items":[{"id":"1"},{"id":"2"}]}`),
			pageUnit("page-1", "c2", ts.Add(time.Minute), `{"items":[{"id":"3"}]}`),
		},
	}
	sink := &fakeIngest{fail: map[string]bool{"orders-000001.json": true}}
	c := newTestConnector(t, source, sink)

	result, err := c.Pull(context.Background(), SyncParams{})
	require.NoError(t, err)

	// Partial success: uploads alongside errors, pass still completes.
	assert.Equal(t, 3, result.DocumentsProcessed)
	assert.Equal(t, 2, result.DocumentsUploaded)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "upload", result.Errors[0].Stage)
	assert.Equal(t, "page-0", result.Errors[0].Unit)
	assert.Equal(t, StateCompleted, c.State())

	// The failed item is in the first unit, so the checkpoint never
	// advances even though the second unit processed cleanly.
	assert.Nil(t, result.Checkpoint)
}

func TestPullCheckpointStopsAtFirstFailedUnit(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	source := &fakeSource{
		failAt: -1,
		units: []Unit{
			pageUnit("page-0", "c1", ts, `{"items":[{"id":"1"}]}`),
			pageUnit("page-1", "c2", ts.Add(time.Minute), `{"items":[{"id":"2"}]}`),
			pageUnit("page-2", "c3", ts.Add(2*time.Minute), `{"items":[{"id":"3"}]}`),
		},
	}
	// The middle unit's only record fails; the later unit still processes.
	sink := &ruleIngest{failOnID: "2"}
	c := newTestConnector(t, source, sink)

	result, err := c.Pull(context.Background(), SyncParams{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.DocumentsProcessed)
	assert.Equal(t, 2, result.DocumentsUploaded)
	require.Len(t, result.Errors, 1)

	// Checkpoint covers page-0 only: page-1 failed and page-2, though
	// successful, must not advance it.
	require.NotNil(t, result.Checkpoint)
	assert.Equal(t, "c1", result.Checkpoint.Cursor)
	assert.Equal(t, ts, result.Checkpoint.Timestamp)
}

// ruleIngest fails any record whose id metadata matches failOnID.
type ruleIngest struct {
	mu       sync.Mutex
	failOnID string
	uploads  []upload
}

func (f *ruleIngest) Upload(ctx context.Context, file []byte, filename string, metadata map[string]string, key string) (*ingest.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if metadata["id"] == f.failOnID {
		return nil, errors.New(errors.ErrorTypeIntegration, "upload rejected")
	}
	f.uploads = append(f.uploads, upload{filename: filename, key: key, metadata: metadata})
	return &ingest.UploadResult{}, nil
}

func TestPullResumeSkipsProcessedUnits(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	units := []Unit{
		pageUnit("page-0", "c1", ts, `{"items":[{"id":"1"}]}`),
		pageUnit("page-1", "c2", ts.Add(time.Minute), `{"items":[{"id":"2"}]}`),
	}

	first := &fakeIngest{}
	c := newTestConnector(t, &fakeSource{failAt: -1, units: units}, first)
	result, err := c.Pull(context.Background(), SyncParams{})
	require.NoError(t, err)
	require.NotNil(t, result.Checkpoint)

	// Resuming from the final checkpoint re-fetches nothing.
	second := &fakeIngest{}
	c2 := newTestConnector(t, &fakeSource{failAt: -1, units: units}, second)
	resumed, err := c2.Pull(context.Background(), SyncParams{Since: result.Checkpoint})
	require.NoError(t, err)
	assert.Zero(t, resumed.DocumentsProcessed)
	assert.Empty(t, second.uploads)

	// The checkpoint survives an empty resumed pass.
	require.NotNil(t, resumed.Checkpoint)
	assert.Equal(t, result.Checkpoint.Cursor, resumed.Checkpoint.Cursor)
}

func TestPullResumeIsIdempotent(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	units := []Unit{
		pageUnit("page-0", "c1", ts, `{"items":[{"id":"1"}]}`),
		pageUnit("page-1", "c2", ts.Add(time.Minute), `{"items":[{"id":"2"}]}`),
	}
	cp := &Checkpoint{Cursor: "c1", Timestamp: ts}

	var keySets [][]string
	for i := 0; i < 2; i++ {
		sink := &fakeIngest{}
		c := newTestConnector(t, &fakeSource{failAt: -1, units: units}, sink)
		_, err := c.Pull(context.Background(), SyncParams{Since: cp})
		require.NoError(t, err)
		keySets = append(keySets, sink.keys())
	}

	// Same checkpoint twice yields the same uploads with the same
	// idempotency keys, so the ingestion service deduplicates them.
	require.Len(t, keySets[0], 1)
	assert.Equal(t, keySets[0], keySets[1])
}

func TestPullTransportFailureFailsPass(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	source := &fakeSource{
		failAt: 1,
		units: []Unit{
			pageUnit("page-0", "c1", ts, `{"items":[{"id":"1"}]}`),
			pageUnit("page-1", "c2", ts.Add(time.Minute), `{"items":[{"id":"2"}]}`),
		},
	}
	sink := &fakeIngest{}
	c := newTestConnector(t, source, sink)

	result, err := c.Pull(context.Background(), SyncParams{})
	require.Error(t, err)
	assert.Equal(t, StateFailed, c.State())

	// Progress before the failure is still reported.
	require.NotNil(t, result)
	assert.Equal(t, 1, result.DocumentsUploaded)
	require.NotNil(t, result.Checkpoint)
	assert.Equal(t, "c1", result.Checkpoint.Cursor)
}

func TestPullRejectsConcurrentPasses(t *testing.T) {
	release := make(chan struct{})
	source := &fakeSource{failAt: -1, units: []Unit{
		pageUnit("page-0", "c1", time.Now(), `{"items":[{"id":"1"}]}`),
	}}
	sink := &blockingIngest{entered: make(chan struct{}), release: release}
	c := newTestConnector(t, source, sink)

	done := make(chan error, 1)
	go func() {
		_, err := c.Pull(context.Background(), SyncParams{})
		done <- err
	}()

	<-sink.entered
	_, err := c.Pull(context.Background(), SyncParams{})
	require.Error(t, err)
	assert.Equal(t, "SYNC_IN_PROGRESS", errors.CodeOf(err))

	close(release)
	require.NoError(t, <-done)
}

type blockingIngest struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingIngest) Upload(ctx context.Context, file []byte, filename string, metadata map[string]string, key string) (*ingest.UploadResult, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return &ingest.UploadResult{}, nil
}

func TestPullCancellation(t *testing.T) {
	ts := time.Now()
	source := &fakeSource{failAt: -1, units: []Unit{
		pageUnit("page-0", "c1", ts, `{"items":[{"id":"1"},{"id":"2"}]}`),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestConnector(t, source, &fakeIngest{})
	_, err := c.Pull(ctx, SyncParams{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCancelled))
	assert.Equal(t, StateFailed, c.State())
}

func TestProcessPayload(t *testing.T) {
	sink := &fakeIngest{}
	c := newTestConnector(t, &fakeSource{failAt: -1}, sink)

	received := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	result, err := c.ProcessPayload(context.Background(), "delivery-1",
		[]byte(`{"items":[{"id":"9"}]}`), received)
	require.NoError(t, err)
	assert.Equal(t, 1, result.DocumentsUploaded)
	require.Len(t, sink.uploads, 1)
	assert.Equal(t, "9", sink.uploads[0].metadata["id"])
}

func TestIdempotencyKeyShape(t *testing.T) {
	sink := &fakeIngest{}
	c := newTestConnector(t, &fakeSource{failAt: -1}, sink)

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := c.ProcessPayload(context.Background(), "p", []byte(`{"items":[{"id":"7"}]}`), ts)
	require.NoError(t, err)

	require.Len(t, sink.uploads, 1)
	key := sink.uploads[0].key
	assert.Len(t, key, 32)
	assert.Regexp(t, "^[0-9a-f]{32}$", key)

	// Same inputs, same key.
	sink2 := &fakeIngest{}
	c2 := newTestConnector(t, &fakeSource{failAt: -1}, sink2)
	_, err = c2.ProcessPayload(context.Background(), "p", []byte(`{"items":[{"id":"7"}]}`), ts)
	require.NoError(t, err)
	assert.Equal(t, key, sink2.uploads[0].key)

	// A different item yields a different key.
	sink3 := &fakeIngest{}
	c3 := newTestConnector(t, &fakeSource{failAt: -1}, sink3)
	_, err = c3.ProcessPayload(context.Background(), "p", []byte(`{"items":[{"id":"8"}]}`), ts)
	require.NoError(t, err)
	assert.NotEqual(t, key, sink3.uploads[0].key)
}

func TestRESTSourceStampsUnitsDeterministically(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"1"}]}`))
	}))
	defer srv.Close()

	cfg := config.NewConfig("orders", "rest")
	cfg.Transport.REST.BaseURL = srv.URL
	cfg.Transport.REST.Path = "/orders"

	source, err := newRESTSource(cfg, Dependencies{
		HTTPClient: clients.NewHTTPClient(clients.DefaultHTTPConfig(), zap.NewNop()),
		Auth:       auth.NoopProvider{},
		Retry:      &retry.Policy{Backoff: time.Millisecond},
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)

	fetch := func() []Unit {
		ch, err := source.Fetch(context.Background(), SyncParams{})
		require.NoError(t, err)
		var units []Unit
		for ur := range ch {
			require.NoError(t, ur.Err)
			units = append(units, *ur.Unit)
		}
		return units
	}

	first := fetch()
	time.Sleep(5 * time.Millisecond)
	second := fetch()

	// Identical upstream data must produce identically stamped units, or
	// idempotency keys drift between passes and dedup never fires.
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Name, second[0].Name)
	assert.Equal(t, first[0].Position, second[0].Position)
	assert.True(t, first[0].Timestamp.Equal(second[0].Timestamp))
}

func TestRESTPullKeysStableAcrossPasses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"1"},{"id":"2"}]}`))
	}))
	defer srv.Close()

	pull := func() []string {
		cfg := config.NewConfig("orders", "rest")
		cfg.Transport.REST.BaseURL = srv.URL
		cfg.Transport.REST.Path = "/orders"
		cfg.Transform.JSON.ItemsPath = "items"
		cfg.Ingest.IDField = "id"

		sink := &fakeIngest{}
		c, err := New(cfg, sink)
		require.NoError(t, err)
		defer func() { _ = c.Close(context.Background()) }()

		result, err := c.Pull(context.Background(), SyncParams{})
		require.NoError(t, err)
		require.Equal(t, 2, result.DocumentsUploaded)
		return sink.keys()
	}

	first := pull()
	second := pull()

	// The same source and item must yield the same idempotency key on
	// every pass, so a re-pull of unchanged data deduplicates downstream.
	assert.Equal(t, first, second)
}

func TestCheckpointRoundTrip(t *testing.T) {
	cp := &Checkpoint{Cursor: "c42", Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	encoded, err := cp.Encode()
	require.NoError(t, err)

	decoded, err := DecodeCheckpoint(encoded)
	require.NoError(t, err)
	assert.Equal(t, cp.Cursor, decoded.Cursor)
	assert.True(t, cp.Timestamp.Equal(decoded.Timestamp))

	_, err = DecodeCheckpoint([]byte("{not json"))
	require.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := config.NewConfig("", "rest")
	_, err := New(cfg, &fakeIngest{})
	require.Error(t, err)

	cfg = config.NewConfig("orders", "rest")
	cfg.Transport.REST.BaseURL = "http://upstream.invalid"
	_, err = New(cfg, nil)
	require.Error(t, err)
}

func TestNewSourceUnknownType(t *testing.T) {
	cfg := config.NewConfig("orders", "rest")
	cfg.Source = "carrier-pigeon"
	_, err := NewSource(cfg, Dependencies{Logger: zap.NewNop()})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestWebhookSourceIsPushOnly(t *testing.T) {
	cfg := config.NewConfig("orders", "webhook")
	_, err := NewSource(cfg, Dependencies{Logger: zap.NewNop()})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
}
