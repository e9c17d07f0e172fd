package transport

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/errors"
)

// FileHandler consumes one observed file change.
type FileHandler func(ctx context.Context, event FileEvent) error

// DirectoryWatcher polls a directory on a fixed interval and invokes the
// registered handler at most once per distinct (path, mtime) pair. A file
// is redelivered only when its mtime changes. Dispatch happens on the
// single poll goroutine, so handler invocations never overlap.
type DirectoryWatcher struct {
	cfg    config.WatcherConfig
	logger *zap.Logger

	mu      sync.Mutex
	handler FileHandler
	seen    map[string]time.Time

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewDirectoryWatcher builds a watcher. Interval defaults to 30s.
func NewDirectoryWatcher(cfg config.WatcherConfig, logger *zap.Logger) *DirectoryWatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &DirectoryWatcher{
		cfg:    cfg,
		logger: logger.With(zap.String("transport", "watcher"), zap.String("path", cfg.Path)),
		seen:   make(map[string]time.Time),
	}
}

// OnFile registers the handler. Exactly one handler is allowed.
func (w *DirectoryWatcher) OnFile(handler FileHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handler != nil {
		return errors.New(errors.ErrorTypeConfig, "file handler already registered")
	}
	w.handler = handler
	return nil
}

// Connect verifies the watched path exists.
func (w *DirectoryWatcher) Connect(ctx context.Context) error {
	info, err := os.Stat(w.cfg.Path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "watched path not accessible").
			WithDetail("path", w.cfg.Path)
	}
	if !info.IsDir() {
		return errors.Newf(errors.ErrorTypeConfig, "watched path %q is not a directory", w.cfg.Path)
	}
	return nil
}

// Disconnect stops polling and waits for an in-flight scan to finish.
func (w *DirectoryWatcher) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Cancelled(ctx.Err(), "watcher shutdown interrupted")
	}
}

// Start begins polling. The initial scan delivers every existing
// matching file once.
func (w *DirectoryWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handler == nil {
		return errors.New(errors.ErrorTypeConfig, "no file handler registered")
	}
	if w.started {
		return errors.New(errors.ErrorTypeConfig, "watcher already started")
	}

	pollCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.started = true

	go w.poll(pollCtx, w.done)
	return nil
}

func (w *DirectoryWatcher) poll(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// scan walks the watched tree and dispatches new or modified files.
func (w *DirectoryWatcher) scan(ctx context.Context) {
	err := filepath.WalkDir(w.cfg.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("scan error", zap.String("entry", p), zap.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if p != w.cfg.Path && !w.cfg.Recursive {
				return fs.SkipDir
			}
			return nil
		}
		if w.cfg.Pattern != "" {
			matched, matchErr := filepath.Match(w.cfg.Pattern, d.Name())
			if matchErr != nil || !matched {
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if last, ok := w.seen[p]; ok && last.Equal(info.ModTime()) {
			return nil
		}
		w.seen[p] = info.ModTime()

		event := FileEvent{
			Path:    p,
			Name:    d.Name(),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		}
		if err := w.handler(ctx, event); err != nil {
			w.logger.Error("file handler failed",
				zap.String("name", event.Name),
				zap.Error(err))
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		w.logger.Warn("directory scan aborted", zap.Error(err))
	}
}
