// Package connector orchestrates one sync pass: pull units from a
// source, transform each into normalized records, upload every record
// with an idempotency key, and report a checkpoint marking how far the
// pass got. Item failures are isolated; the pass continues past them.
package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inletio/inlet/pkg/auth"
	"github.com/inletio/inlet/pkg/clients"
	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/errors"
	"github.com/inletio/inlet/pkg/ingest"
	"github.com/inletio/inlet/pkg/logger"
	"github.com/inletio/inlet/pkg/metrics"
	"github.com/inletio/inlet/pkg/retry"
	"github.com/inletio/inlet/pkg/transform"
)

// Connector runs sync passes for one configured integration.
type Connector struct {
	cfg         *config.Config
	source      Source
	transformer transform.Transformer
	ingest      ingest.Client
	provider    auth.Provider
	logger      *zap.Logger
	collector   *metrics.Collector

	state   atomic.Value
	running atomic.Bool
	// pushMu serializes push-path processing (webhook, watcher).
	pushMu sync.Mutex
}

// New wires a connector from config. The ingest client is injected so
// callers control the boundary; everything else is built here.
func New(cfg *config.Config, ingestClient ingest.Client) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid connector config")
	}
	if ingestClient == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "ingest client is required")
	}

	log := logger.Get().With(zap.String("connector", cfg.Name), zap.String("source", cfg.Source))

	httpCfg := clients.DefaultHTTPConfig()
	if cfg.Timeouts.Request > 0 {
		httpCfg.RequestTimeout = cfg.Timeouts.Request
	}
	if cfg.Timeouts.Connection > 0 {
		httpCfg.DialTimeout = cfg.Timeouts.Connection
	}
	if cfg.Transport.REST.RateLimitPerSec > 0 {
		httpCfg.RateLimit = cfg.Transport.REST.RateLimitPerSec
	}
	httpClient := clients.NewHTTPClient(httpCfg, log)

	provider, err := auth.FromConfig(cfg.Auth, httpClient, log)
	if err != nil {
		return nil, err
	}

	policy := &retry.Policy{
		MaxRetries: cfg.Reliability.MaxRetries,
		Backoff:    cfg.Reliability.Backoff,
		MaxBackoff: cfg.Reliability.MaxBackoff,
		Jitter:     cfg.Reliability.Jitter,
		Operation:  cfg.Name,
	}

	transformer, err := transform.FromConfig(cfg.Transform)
	if err != nil {
		return nil, err
	}

	source, err := NewSource(cfg, Dependencies{
		HTTPClient: httpClient,
		Auth:       provider,
		Retry:      policy,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	c := &Connector{
		cfg:         cfg,
		source:      source,
		transformer: transformer,
		ingest:      ingestClient,
		provider:    provider,
		logger:      log,
		collector:   metrics.NewCollector(cfg.Name),
	}
	c.state.Store(StateIdle)
	return c, nil
}

// Name returns the connector name.
func (c *Connector) Name() string {
	return c.cfg.Name
}

// State returns the current lifecycle state.
func (c *Connector) State() State {
	return c.state.Load().(State)
}

// Close releases the source.
func (c *Connector) Close(ctx context.Context) error {
	return c.source.Close(ctx)
}

// Pull runs one sync pass. Concurrent calls on the same instance are
// rejected. The returned SyncResult is populated even on a failed pass,
// so callers can persist whatever checkpoint progress was made.
func (c *Connector) Pull(ctx context.Context, params SyncParams) (*SyncResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, errors.New(errors.ErrorTypeValidation, "a sync pass is already in progress").
			WithCode("SYNC_IN_PROGRESS")
	}
	defer c.running.Store(false)

	passID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.PassIDKey, passID)
	log := c.logger.With(zap.String("pass_id", passID))

	result := &SyncResult{
		PassID:     passID,
		StartedAt:  time.Now().UTC(),
		Checkpoint: params.Since,
	}

	c.state.Store(StateSyncing)
	log.Info("sync pass started",
		zap.Bool("resume", params.Since != nil || params.Cursor != ""))

	err := c.run(ctx, params, result, log)
	result.CompletedAt = time.Now().UTC()
	duration := result.CompletedAt.Sub(result.StartedAt)

	if err != nil {
		c.state.Store(StateFailed)
		c.collector.PassCompleted("failed", duration)
		log.Error("sync pass failed",
			zap.Int("documents_uploaded", result.DocumentsUploaded),
			zap.Error(err))
		return result, err
	}

	c.state.Store(StateCompleted)
	c.collector.PassCompleted("completed", duration)
	c.collector.Uploaded(result.DocumentsUploaded)
	log.Info("sync pass completed",
		zap.Int("documents_processed", result.DocumentsProcessed),
		zap.Int("documents_uploaded", result.DocumentsUploaded),
		zap.Int("item_errors", len(result.Errors)),
		zap.Duration("duration", duration))
	return result, nil
}

func (c *Connector) run(ctx context.Context, params SyncParams, result *SyncResult, log *zap.Logger) error {
	units, err := c.source.Fetch(ctx, params)
	if err != nil {
		return err
	}

	blocked := false
	for ur := range units {
		if ur.Err != nil {
			go drain(units)
			return ur.Err
		}

		before := len(result.Errors)
		if err := c.processUnit(ctx, ur.Unit, result, log); err != nil {
			go drain(units)
			return err
		}

		if len(result.Errors) > before {
			// The checkpoint stops advancing at the first failed batch,
			// while processing continues to surface remaining errors.
			blocked = true
		}
		if !blocked {
			result.Checkpoint = c.advance(result.Checkpoint, ur.Unit)
		}
	}
	if err := ctx.Err(); err != nil {
		return errors.Cancelled(err, "sync pass cancelled")
	}
	return nil
}

// advance moves the checkpoint past a fully-processed unit, never
// backwards.
func (c *Connector) advance(cp *Checkpoint, unit *Unit) *Checkpoint {
	next := &Checkpoint{Cursor: unit.Position, Timestamp: unit.Timestamp}
	if cp != nil {
		if next.Timestamp.Before(cp.Timestamp) {
			next.Timestamp = cp.Timestamp
		}
		if next.Cursor == "" {
			next.Cursor = cp.Cursor
		}
	}
	return next
}

// processUnit transforms one unit and uploads every resulting record.
// Item failures are recorded and skipped; only cancellation or an
// internal fault aborts the pass.
func (c *Connector) processUnit(ctx context.Context, unit *Unit, result *SyncResult, log *zap.Logger) error {
	tc := transform.Context{
		Source:     c.cfg.Name,
		Format:     c.cfg.Transform.Format,
		ReceivedAt: unit.Timestamp,
	}

	rs, err := c.transformer.Transform(unit.Data, tc)
	if err != nil {
		if transform.IsItemError(err) {
			c.recordItemError(result, unit, "", "transform", err, log)
			return nil
		}
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return errors.Cancelled(err, "sync pass cancelled")
		}

		rec, err := rs.Next()
		if err != nil {
			if errors.IsType(err, errors.ErrorTypeCancelled) {
				return err
			}
			if err == io.EOF {
				return nil
			}
			if transform.IsItemError(err) {
				c.recordItemError(result, unit, "", "transform", err, log)
				continue
			}
			return err
		}

		result.DocumentsProcessed++
		key := c.idempotencyKey(rec, unit)
		if _, err := c.ingest.Upload(ctx, rec.Data, rec.Filename, rec.Metadata, key); err != nil {
			if errors.IsType(err, errors.ErrorTypeCancelled) {
				return err
			}
			c.recordItemError(result, unit, rec.Filename, "upload", err, log)
			continue
		}
		result.DocumentsUploaded++
	}
}

func (c *Connector) recordItemError(result *SyncResult, unit *Unit, filename, stage string, err error, log *zap.Logger) {
	result.Errors = append(result.Errors, ItemError{
		Unit:     unit.Name,
		Filename: filename,
		Stage:    stage,
		Err:      err,
	})
	c.collector.ItemError(stage)
	log.Warn("item failed, continuing pass",
		zap.String("unit", unit.Name),
		zap.String("stage", stage),
		zap.Error(err))
}

// idempotencyKey derives the dedup key for one record from the source
// name, the item identifier, and the unit's source timestamp (zero for
// sources without one, such as REST pages). The key must be a pure
// function of its inputs: the ingestion service deduplicates on it
// across passes.
func (c *Connector) idempotencyKey(rec *transform.Result, unit *Unit) string {
	itemID := rec.Filename
	if c.cfg.Ingest.IDField != "" {
		if v, ok := rec.Metadata[c.cfg.Ingest.IDField]; ok && v != "" {
			itemID = v
		}
	}
	h := sha256.New()
	h.Write([]byte(c.cfg.Name))
	h.Write([]byte{0})
	h.Write([]byte(itemID))
	h.Write([]byte{0})
	h.Write([]byte(unit.Timestamp.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// ProcessPayload runs the transform-and-upload pipeline on one pushed
// payload (webhook delivery or watched file). Processing is serialized
// per connector.
func (c *Connector) ProcessPayload(ctx context.Context, name string, data []byte, receivedAt time.Time) (*SyncResult, error) {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	passID := uuid.NewString()
	log := c.logger.With(zap.String("pass_id", passID), zap.String("payload", name))
	result := &SyncResult{PassID: passID, StartedAt: time.Now().UTC()}

	unit := &Unit{Name: name, Data: data, Timestamp: receivedAt.UTC()}
	err := c.processUnit(ctx, unit, result, log)
	result.CompletedAt = time.Now().UTC()
	if err != nil {
		return result, err
	}

	c.collector.Uploaded(result.DocumentsUploaded)
	log.Info("payload processed",
		zap.Int("documents_uploaded", result.DocumentsUploaded),
		zap.Int("item_errors", len(result.Errors)))
	return result, nil
}

func drain(units <-chan UnitResult) {
	for range units { //nolint:revive // intentionally discarding
	}
}
