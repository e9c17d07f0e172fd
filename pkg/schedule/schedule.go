// Package schedule triggers connector passes on a cron interval with
// skip-on-overlap: a tick that fires while the previous run is still in
// flight is skipped and logged, never queued.
package schedule

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/inletio/inlet/pkg/errors"
	"github.com/inletio/inlet/pkg/logger"
	"github.com/inletio/inlet/pkg/metrics"
)

// Config shapes one scheduler.
type Config struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string
	// Job labels the scheduler in logs and metrics.
	Job string
	// OnTrigger runs on each non-overlapping tick.
	OnTrigger func(ctx context.Context) error
	// OnError receives OnTrigger errors and recovered panics. Optional.
	OnError func(err error)
	// Logger defaults to the process logger.
	Logger *zap.Logger
}

// Scheduler runs a single job on a cron schedule.
type Scheduler struct {
	cfg    Config
	cron   *cron.Cron
	logger *zap.Logger

	running  atomic.Bool
	inFlight sync.WaitGroup
	mu       sync.Mutex
	started  bool
}

// New validates the expression and builds a scheduler. The clock does
// not start until Start.
func New(cfg Config) (*Scheduler, error) {
	if cfg.OnTrigger == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "scheduler requires an OnTrigger callback")
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid cron expression").
			WithDetail("schedule", cfg.Schedule)
	}
	if cfg.Job == "" {
		cfg.Job = "sync"
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	s := &Scheduler{
		cfg:    cfg,
		cron:   cron.New(),
		logger: log.With(zap.String("job", cfg.Job), zap.String("schedule", cfg.Schedule)),
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, s.tick); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to register cron job")
	}
	return s, nil
}

// Start begins firing ticks.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("description", Describe(s.cfg.Schedule)))
}

// Stop prevents further ticks and waits for an in-flight run to finish.
// The run itself is not cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	<-s.cron.Stop().Done()
	s.inFlight.Wait()
	s.logger.Info("scheduler stopped")
}

// tick runs one trigger, skipping if the previous one still runs.
func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		metrics.SchedulerSkips.WithLabelValues(s.cfg.Job).Inc()
		s.logger.Warn("previous run still in flight, skipping tick")
		return
	}
	s.inFlight.Add(1)
	defer s.inFlight.Done()
	defer s.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			err := errors.Newf(errors.ErrorTypeInternal, "trigger panicked: %v", r)
			s.logger.Error("trigger panicked", zap.Any("panic", r))
			if s.cfg.OnError != nil {
				s.cfg.OnError(err)
			}
		}
	}()

	if err := s.cfg.OnTrigger(context.Background()); err != nil {
		s.logger.Error("trigger failed", zap.Error(err))
		if s.cfg.OnError != nil {
			s.cfg.OnError(err)
		}
	}
}
