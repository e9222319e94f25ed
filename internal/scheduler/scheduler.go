// Package scheduler runs the periodic adapt and partition maintenance loops.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pacer/internal/adapt"
	"github.com/xkilldash9x/pacer/internal/metrics"
	"github.com/xkilldash9x/pacer/internal/migration"
	"github.com/xkilldash9x/pacer/internal/partitioning"
)

// Adapter applies one pacing decision to a migration.
type Adapter interface {
	Adapt(ctx context.Context, m adapt.Migration, ind adapt.Indicator) (adapt.Signal, error)
}

// MigrationLister loads the migrations that are currently running.
type MigrationLister interface {
	ActiveMigrations(ctx context.Context) ([]*migration.Migration, error)
}

// PartitionSyncer converges partitioned tables.
type PartitionSyncer interface {
	SyncPartitions(ctx context.Context, models []partitioning.Model) error
}

// ExpiredDropper removes detached partitions past their retention.
type ExpiredDropper interface {
	DropExpired(ctx context.Context) (int, error)
}

// Database is one logical database whose migrations are paced.
type Database struct {
	Name       string
	Migrations MigrationLister
	Indicator  adapt.Indicator
	// Entity binds a loaded record to its transitions.
	Entity func(*migration.Migration) adapt.Migration
}

// Partitions groups what SyncOnce needs. A nil *Partitions disables partition maintenance.
type Partitions struct {
	Syncer  PartitionSyncer
	Dropper ExpiredDropper
	Models  []partitioning.Model
}

// Options tunes the scheduler.
type Options struct {
	AdaptInterval     time.Duration
	PartitionInterval time.Duration
	Concurrency       int
	// RateLimit caps indicator evaluations per second; zero means unlimited.
	RateLimit float64
}

// Scheduler drives Controller.Adapt for every active migration and keeps
// partitions in shape, each on its own interval.
type Scheduler struct {
	opts       Options
	controller Adapter
	databases  []Database
	partitions *Partitions
	limiter    *rate.Limiter
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a scheduler.
func New(opts Options, controller Adapter, databases []Database, partitions *Partitions, logger *zap.Logger) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.AdaptInterval <= 0 {
		opts.AdaptInterval = time.Minute
	}
	if opts.PartitionInterval <= 0 {
		opts.PartitionInterval = 6 * time.Hour
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	return &Scheduler{
		opts:       opts,
		controller: controller,
		databases:  databases,
		partitions: partitions,
		limiter:    rate.NewLimiter(limit, opts.Concurrency),
		logger:     logger.Named("scheduler"),
		now:        time.Now,
	}
}

type adaptJob struct {
	db     Database
	record *migration.Migration
}

// AdaptOnce runs one pacing decision for every active migration that is not
// on hold. Migrations are adapted concurrently, each at most once per call.
// Errors from individual migrations are aggregated and do not stop the others.
func (s *Scheduler) AdaptOnce(ctx context.Context) error {
	metrics.AdaptTicks.Inc()
	logger := s.logger.With(zap.String("tick_id", uuid.NewString()))
	now := s.now()

	var (
		errs error
		jobs []adaptJob
		seen = make(map[string]struct{})
	)
	for _, db := range s.databases {
		records, err := db.Migrations.ActiveMigrations(ctx)
		if err != nil {
			logger.Error("Failed to load active migrations", zap.String("database", db.Name), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", db.Name, err))
			continue
		}
		for _, rec := range records {
			key := fmt.Sprintf("%s/%d", db.Name, rec.ID)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if rec.OnHold(now) {
				logger.Debug("Migration on hold, skipping",
					zap.String("database", db.Name), zap.Int64("migration_id", rec.ID), zap.Timep("on_hold_until", rec.OnHoldUntil))
				continue
			}
			jobs = append(jobs, adaptJob{db: db, record: rec})
		}
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			if err := s.limiter.Wait(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				return nil
			}
			sig, err := s.controller.Adapt(ctx, job.db.Entity(job.record), job.db.Indicator)
			if err != nil {
				logger.Error("Adapt failed",
					zap.String("database", job.db.Name), zap.Int64("migration_id", job.record.ID), zap.Error(err))
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				return nil
			}
			if sig != nil {
				logger.Debug("Adapted migration",
					zap.String("database", job.db.Name), zap.Int64("migration_id", job.record.ID), zap.Stringer("signal", sig))
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("Adapt tick finished", zap.Int("migrations", len(jobs)), zap.Bool("failed", errs != nil))
	return errs
}

// SyncOnce syncs every registered partitioned table, then drops expired
// detached partitions. Both steps always run.
func (s *Scheduler) SyncOnce(ctx context.Context) error {
	if s.partitions == nil {
		return nil
	}
	logger := s.logger.With(zap.String("tick_id", uuid.NewString()))

	var errs error
	if s.partitions.Syncer != nil {
		errs = multierr.Append(errs, s.partitions.Syncer.SyncPartitions(ctx, s.partitions.Models))
	}
	if s.partitions.Dropper != nil {
		dropped, err := s.partitions.Dropper.DropExpired(ctx)
		errs = multierr.Append(errs, err)
		logger.Info("Dropped expired partitions", zap.Int("dropped", dropped))
	}
	if errs != nil {
		logger.Error("Partition maintenance finished with errors", zap.Error(errs))
	}
	return errs
}

// Run executes both loops until ctx is cancelled. The first pass of each loop
// starts immediately. Failed passes are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler started",
		zap.Duration("adapt_interval", s.opts.AdaptInterval),
		zap.Duration("partition_interval", s.opts.PartitionInterval))

	var g errgroup.Group
	g.Go(func() error {
		s.loop(ctx, s.opts.AdaptInterval, s.AdaptOnce)
		return nil
	})
	g.Go(func() error {
		s.loop(ctx, s.opts.PartitionInterval, s.SyncOnce)
		return nil
	})
	err := g.Wait()

	s.logger.Info("Scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, pass func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		// Errors are already logged by the pass itself.
		_ = pass(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
