package connector

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inletio/inlet/pkg/auth"
	"github.com/inletio/inlet/pkg/clients"
	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/errors"
	"github.com/inletio/inlet/pkg/retry"
	"github.com/inletio/inlet/pkg/transport"
)

// Unit is one batch of raw data pulled from a source: a page of a
// listing or a single file. The checkpoint advances unit by unit.
type Unit struct {
	// Name labels the unit for logs and item errors.
	Name string
	// Data is the raw payload handed to the transformer.
	Data []byte
	// Position is the resume cursor valid after this unit.
	Position string
	// Timestamp is the source timestamp of the unit.
	Timestamp time.Time
}

// UnitResult carries either a unit or a pass-fatal fetch error.
type UnitResult struct {
	Unit *Unit
	Err  error
}

// Source pulls units lazily. The channel closes at exhaustion; a fetch
// failure is delivered as a terminal UnitResult with Err set.
type Source interface {
	Fetch(ctx context.Context, params SyncParams) (<-chan UnitResult, error)
	Close(ctx context.Context) error
}

// Dependencies is the shared plumbing handed to source factories.
type Dependencies struct {
	HTTPClient *clients.HTTPClient
	Auth       auth.Provider
	Retry      *retry.Policy
	Logger     *zap.Logger
}

// SourceFactory builds a Source from connector config.
type SourceFactory func(cfg *config.Config, deps Dependencies) (Source, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]SourceFactory{}
)

// RegisterSource installs a factory for a source type. Later
// registrations for the same type win, which lets tests substitute
// sources.
func RegisterSource(name string, factory SourceFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// NewSource builds the source named by cfg.Source.
func NewSource(cfg *config.Config, deps Dependencies) (Source, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Source]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown source type %q", cfg.Source)
	}
	return factory(cfg, deps)
}

func init() {
	RegisterSource("rest", newRESTSource)
	RegisterSource("ftp", newFTPSource)
	RegisterSource("file", newFileSource)
	RegisterSource("webhook", func(cfg *config.Config, deps Dependencies) (Source, error) {
		return nil, errors.New(errors.ErrorTypeCapability, "webhook sources are push-only and cannot be pulled")
	})
}

// restSource pulls pages from a paginated HTTP listing. Each page is one
// unit; the page's pagination position is the unit's resume cursor.
type restSource struct {
	cfg config.RESTConfig
	tr  *transport.RESTTransport
}

func newRESTSource(cfg *config.Config, deps Dependencies) (Source, error) {
	tr := transport.NewRESTTransport(cfg.Transport.REST, deps.HTTPClient, deps.Auth, deps.Retry, deps.Logger)
	return &restSource{cfg: cfg.Transport.REST, tr: tr}, nil
}

func (s *restSource) Fetch(ctx context.Context, params SyncParams) (<-chan UnitResult, error) {
	if err := s.tr.Connect(ctx); err != nil {
		return nil, err
	}

	cursor := params.Cursor
	if cursor == "" && params.Since != nil {
		cursor = params.Since.Cursor
	}

	stream := s.tr.Paginate(ctx, s.cfg.Path, transport.RequestOptions{Cursor: cursor}, s.cfg.Pagination)
	units := make(chan UnitResult)
	go func() {
		defer close(units)
		for page := range stream.Pages() {
			if page.Err != nil {
				send(ctx, units, UnitResult{Err: page.Err})
				return
			}
			// Pages carry no source timestamp. Leaving it zero keeps
			// idempotency keys a pure function of (source, item), so a
			// resumed pass re-uploads the same items under the same keys
			// and the ingestion service deduplicates them.
			ok := send(ctx, units, UnitResult{Unit: &Unit{
				Name:     fmt.Sprintf("page-%d", page.Number),
				Data:     page.Raw,
				Position: page.Position,
			}})
			if !ok {
				return
			}
		}
	}()
	return units, nil
}

func (s *restSource) Close(ctx context.Context) error {
	return s.tr.Disconnect(ctx)
}

// ftpSource downloads remote files one at a time. Files at or before the
// checkpoint timestamp are skipped, so a resumed pass never reprocesses
// what an earlier pass fully handled.
type ftpSource struct {
	cfg config.FTPConfig
	tr  *transport.FTPTransport
}

func newFTPSource(cfg *config.Config, deps Dependencies) (Source, error) {
	return &ftpSource{
		cfg: cfg.Transport.FTP,
		tr:  transport.NewFTPTransport(cfg.Transport.FTP, deps.Logger),
	}, nil
}

func (s *ftpSource) Fetch(ctx context.Context, params SyncParams) (<-chan UnitResult, error) {
	if err := s.tr.Connect(ctx); err != nil {
		return nil, err
	}

	var since time.Time
	if params.Since != nil {
		since = params.Since.Timestamp
	}

	stream := s.tr.DownloadBatch(ctx, s.cfg.Pattern)
	units := make(chan UnitResult)
	go func() {
		defer close(units)
		for file := range stream.Files() {
			if file.Err != nil {
				send(ctx, units, UnitResult{Err: file.Err})
				return
			}
			if !since.IsZero() && !file.ModTime.After(since) {
				continue
			}
			ok := send(ctx, units, UnitResult{Unit: &Unit{
				Name:      file.Name,
				Data:      file.Data,
				Timestamp: file.ModTime,
			}})
			if !ok {
				return
			}
		}
	}()
	return units, nil
}

func (s *ftpSource) Close(ctx context.Context) error {
	return s.tr.Disconnect(ctx)
}

// fileSource scans a local directory once per pass, oldest files first.
type fileSource struct {
	cfg config.WatcherConfig
}

func newFileSource(cfg *config.Config, deps Dependencies) (Source, error) {
	if cfg.Transport.Watcher.Path == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "file sources require transport.watcher.path")
	}
	return &fileSource{cfg: cfg.Transport.Watcher}, nil
}

func (s *fileSource) Fetch(ctx context.Context, params SyncParams) (<-chan UnitResult, error) {
	var since time.Time
	if params.Since != nil {
		since = params.Since.Timestamp
	}

	type entry struct {
		path    string
		name    string
		modTime time.Time
	}
	var entries []entry
	err := filepath.WalkDir(s.cfg.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != s.cfg.Path && !s.cfg.Recursive {
				return fs.SkipDir
			}
			return nil
		}
		if s.cfg.Pattern != "" {
			matched, matchErr := filepath.Match(s.cfg.Pattern, d.Name())
			if matchErr != nil {
				return matchErr
			}
			if !matched {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !since.IsZero() && !info.ModTime().After(since) {
			return nil
		}
		entries = append(entries, entry{path: p, name: d.Name(), modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to scan source directory").
			WithDetail("path", s.cfg.Path)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime.Before(entries[j].modTime) })

	units := make(chan UnitResult)
	go func() {
		defer close(units)
		for _, e := range entries {
			if ctx.Err() != nil {
				return
			}
			data, err := os.ReadFile(e.path)
			if err != nil {
				send(ctx, units, UnitResult{Err: errors.Wrap(err, errors.ErrorTypeConnection, "failed to read source file").
					WithDetail("path", e.path)})
				return
			}
			if !send(ctx, units, UnitResult{Unit: &Unit{
				Name:      e.name,
				Data:      data,
				Timestamp: e.modTime,
			}}) {
				return
			}
		}
	}()
	return units, nil
}

func (s *fileSource) Close(ctx context.Context) error {
	return nil
}

// send delivers one result unless ctx is cancelled first.
func send(ctx context.Context, ch chan<- UnitResult, r UnitResult) bool {
	select {
	case ch <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
