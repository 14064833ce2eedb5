// Package scheduler runs the periodic season rollover and purchase
// reconciliation jobs.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"packmarket/internal/domain"
	"packmarket/internal/logger"

	"github.com/go-co-op/gocron/v2"
)

type SeasonRoller interface {
	Rollover(ctx context.Context) (*domain.Season, error)
}

type Reconciler interface {
	ReconcilePending(ctx context.Context, limit int) (completed, failed int, err error)
}

type Options struct {
	RolloverInterval  time.Duration
	ReconcileInterval time.Duration
	ReconcileBatch    int
	// JobTimeout bounds a single run of either job.
	JobTimeout time.Duration
}

type Scheduler struct {
	sched      gocron.Scheduler
	seasons    SeasonRoller
	reconciler Reconciler
	opts       Options
	log        *slog.Logger
}

func New(seasons SeasonRoller, reconciler Reconciler, opts Options) (*Scheduler, error) {
	if opts.RolloverInterval <= 0 {
		opts.RolloverInterval = 5 * time.Minute
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = time.Minute
	}
	if opts.ReconcileBatch <= 0 {
		opts.ReconcileBatch = 50
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Second
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		sched:      sched,
		seasons:    seasons,
		reconciler: reconciler,
		opts:       opts,
		log:        logger.Component("scheduler"),
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(opts.RolloverInterval),
		gocron.NewTask(s.runRollover),
		gocron.WithName("season-rollover"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	); err != nil {
		return nil, err
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(opts.ReconcileInterval),
		gocron.NewTask(s.runReconcile),
		gocron.WithName("purchase-reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
	s.log.Info("scheduler started",
		"rollover_interval", s.opts.RolloverInterval,
		"reconcile_interval", s.opts.ReconcileInterval)
}

// Shutdown waits for running jobs to finish
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

func (s *Scheduler) runRollover() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.JobTimeout)
	defer cancel()

	season, err := s.seasons.Rollover(ctx)
	if err != nil {
		s.log.Error("season rollover failed", "error", err)
		return
	}
	s.log.Debug("season rollover checked", "season_id", season.ID, "theme", season.Theme)
}

func (s *Scheduler) runReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.JobTimeout)
	defer cancel()

	completed, failed, err := s.reconciler.ReconcilePending(ctx, s.opts.ReconcileBatch)
	if err != nil {
		s.log.Error("reconciliation run failed", "error", err)
		return
	}
	if completed > 0 || failed > 0 {
		s.log.Info("reconciliation run", "completed", completed, "failed", failed)
	}
}
