package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/inletio/inlet/pkg/config"
	"github.com/inletio/inlet/pkg/connector"
	"github.com/inletio/inlet/pkg/logger"
	"github.com/inletio/inlet/pkg/schedule"
	"github.com/inletio/inlet/pkg/transport"
)

// checkpointStore persists the last checkpoint between scheduled passes.
// Passes within one process also share it so each tick resumes from the
// previous tick's position without re-reading the file.
type checkpointStore struct {
	mu   sync.Mutex
	path string
	last *connector.Checkpoint
}

func newCheckpointStore(path string) (*checkpointStore, error) {
	s := &checkpointStore{path: path}
	if path == "" {
		return s, nil
	}
	cp, err := readCheckpoint(path)
	if err != nil {
		return nil, err
	}
	s.last = cp
	return s, nil
}

func (s *checkpointStore) Load() *connector.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *checkpointStore) Save(cp *connector.Checkpoint) error {
	if cp == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = cp
	if s.path == "" {
		return nil
	}
	return writeCheckpoint(s.path, cp)
}

func readCheckpoint(path string) (*connector.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return connector.DecodeCheckpoint(data)
}

func writeCheckpoint(path string, cp *connector.Checkpoint) error {
	data, err := cp.Encode()
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// runService runs the connector until SIGINT/SIGTERM: scheduled pull
// passes, push inputs (webhook receiver or directory watcher), and the
// metrics endpoint.
func runService(cfg *config.Config, checkpointFile string) error {
	log := logger.Get().With(zap.String("connector", cfg.Name))

	c, err := buildConnector(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close(context.Background()) }()

	store, err := newCheckpointStore(checkpointFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 3)

	metricsSrv := startMetricsServer(cfg.Observability.MetricsListen, errs, log)

	var sched *schedule.Scheduler
	if cfg.Schedule.Enabled {
		sched, err = schedule.New(schedule.Config{
			Schedule: cfg.Schedule.Cron,
			Job:      cfg.Name,
			Logger:   log,
			OnTrigger: func(tctx context.Context) error {
				result, err := c.Pull(tctx, connector.SyncParams{Since: store.Load()})
				if result != nil {
					if serr := store.Save(result.Checkpoint); serr != nil {
						log.Warn("failed to persist checkpoint", zap.Error(serr))
					}
				}
				return err
			},
			OnError: func(err error) {
				log.Error("scheduled pass failed", zap.Error(err))
			},
		})
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	switch cfg.Source {
	case "webhook":
		receiver := transport.NewWebhookReceiver(cfg.Transport.Webhook, cfg.Name, log)
		if err := receiver.OnWebhook(func(hctx context.Context, event transport.WebhookEvent) error {
			_, err := c.ProcessPayload(hctx, event.ID, event.Body, event.ReceivedAt)
			return err
		}); err != nil {
			return err
		}
		if err := receiver.Connect(ctx); err != nil {
			return err
		}
		go func() {
			if err := receiver.Serve(ctx); err != nil {
				errs <- err
			}
		}()
		defer func() { _ = receiver.Disconnect(context.Background()) }()
	case "file":
		if cfg.Transport.Watcher.Path != "" {
			watcher := transport.NewDirectoryWatcher(cfg.Transport.Watcher, log)
			if err := watcher.OnFile(func(fctx context.Context, event transport.FileEvent) error {
				data, err := os.ReadFile(event.Path)
				if err != nil {
					return err
				}
				_, err = c.ProcessPayload(fctx, event.Name, data, event.ModTime)
				return err
			}); err != nil {
				return err
			}
			if err := watcher.Connect(ctx); err != nil {
				return err
			}
			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = watcher.Disconnect(context.Background()) }()
		}
	}

	log.Info("connector running",
		zap.String("source", cfg.Source),
		zap.Bool("scheduled", cfg.Schedule.Enabled))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errs:
		log.Error("service error", zap.Error(err))
		stop()
		shutdownMetrics(metricsSrv)
		return err
	}

	shutdownMetrics(metricsSrv)
	return nil
}

func startMetricsServer(listen string, errs chan<- error, log *zap.Logger) *http.Server {
	if listen == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: listen, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()
	log.Info("metrics endpoint listening", zap.String("address", listen))
	return srv
}

func shutdownMetrics(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
