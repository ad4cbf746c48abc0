package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/example/weekpath/internal/platform/logger"
	"github.com/example/weekpath/internal/tracker"
)

// DefaultInterval is how often queued writes are retried and remote progress pulled
const DefaultInterval = time.Minute

// Syncer is the part of the tracker the scheduler drives
type Syncer interface {
	Flush(ctx context.Context) (tracker.FlushResult, error)
	Pull(ctx context.Context) (int, error)
}

// Connector makes the shared store reachable before a sync run. It returns
// nil once connected and is called on every run until then.
type Connector func(ctx context.Context) error

// Scheduler manages the periodic sync job
type Scheduler struct {
	scheduler *gocron.Scheduler
	syncer    Syncer
	connect   Connector
	interval  time.Duration
	timeout   time.Duration
	log       *logger.Logger
}

// New creates a scheduler. Each run is bounded by timeout; zero means the interval.
func New(syncer Syncer, interval, timeout time.Duration, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = interval
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		syncer:    syncer,
		interval:  interval,
		timeout:   timeout,
		log:       log.With("component", "Scheduler"),
	}
}

// WithConnector installs a hook that (re)connects the shared store before
// each run. A run whose connect fails is skipped; queued writes wait.
func (s *Scheduler) WithConnector(c Connector) *Scheduler {
	s.connect = c
	return s
}

// Start schedules the sync job and runs it once right away
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Every(s.interval).Do(s.runSync); err != nil {
		return fmt.Errorf("failed to schedule sync: %w", err)
	}
	s.scheduler.StartAsync()
	s.log.Info("sync scheduler started", "interval", s.interval.String())
	return nil
}

// Stop terminates the scheduled job, waiting for a running one to finish
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.log.Info("sync scheduler stopped")
}

func (s *Scheduler) runSync() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunNow(ctx); err != nil {
		s.log.Warn("scheduled sync failed", "error", err)
	}
}

// RunNow flushes the outbox and then pulls remote progress. A pull that
// fails because the remote is unreachable is reported but does not undo
// the flush result.
func (s *Scheduler) RunNow(ctx context.Context) (tracker.FlushResult, error) {
	if s.connect != nil {
		if err := s.connect(ctx); err != nil {
			return tracker.FlushResult{}, fmt.Errorf("connect: %w", err)
		}
	}
	res, err := s.syncer.Flush(ctx)
	if err != nil {
		return res, fmt.Errorf("flush: %w", err)
	}
	if _, err := s.syncer.Pull(ctx); err != nil && !errors.Is(err, tracker.ErrNoRemote) {
		return res, fmt.Errorf("pull: %w", err)
	}
	return res, nil
}
