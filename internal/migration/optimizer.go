// File: internal/migration/optimizer.go
package migration

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// OptimizerConfig tunes batch size optimization.
type OptimizerConfig struct {
	TargetEfficiencyMin float64
	TargetEfficiencyMax float64
	MinBatchSize        int
	MaxBatchSize        int
	MaxMultiplier       float64
	NumberOfJobs        int
	SmoothingAlpha      float64
}

// DefaultOptimizerConfig returns the production defaults.
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		TargetEfficiencyMin: 0.90,
		TargetEfficiencyMax: 0.95,
		MinBatchSize:        1_000,
		MaxBatchSize:        2_000_000,
		MaxMultiplier:       1.2,
		NumberOfJobs:        20,
		SmoothingAlpha:      0.2,
	}
}

// BatchOptimizer resizes a migration's batches so that each job uses a
// target share of the migration interval, assuming job duration grows
// linearly with batch size.
type BatchOptimizer struct {
	repo   Repository
	cfg    OptimizerConfig
	logger *zap.Logger
}

// NewBatchOptimizer creates an optimizer backed by repo.
func NewBatchOptimizer(repo Repository, cfg OptimizerConfig, logger *zap.Logger) *BatchOptimizer {
	return &BatchOptimizer{repo: repo, cfg: cfg, logger: logger.Named("optimizer")}
}

// Optimize updates m.BatchSize when recent jobs ran outside the target efficiency.
func (o *BatchOptimizer) Optimize(ctx context.Context, m *Migration) error {
	jobs, err := o.repo.SuccessfulJobs(ctx, m.ID, o.cfg.NumberOfJobs)
	if err != nil {
		return fmt.Errorf("failed to load jobs for migration %d: %w", m.ID, err)
	}

	efficiency, ok := SmoothedTimeEfficiency(jobs, m.Interval, o.cfg.NumberOfJobs, o.cfg.SmoothingAlpha)
	if !ok || efficiency == 0 {
		return nil
	}
	if efficiency >= o.cfg.TargetEfficiencyMin && efficiency <= o.cfg.TargetEfficiencyMax {
		return nil
	}

	multiplier := math.Min(o.cfg.TargetEfficiencyMax/efficiency, o.cfg.MaxMultiplier)

	ceiling := o.cfg.MaxBatchSize
	if m.MaxBatchSize > 0 {
		ceiling = m.MaxBatchSize
	}
	newSize := clamp(int(float64(m.BatchSize)*multiplier), o.cfg.MinBatchSize, ceiling)
	if newSize == m.BatchSize {
		return nil
	}

	if err := o.repo.UpdateBatchSize(ctx, m.ID, newSize); err != nil {
		return fmt.Errorf("failed to update batch size for migration %d: %w", m.ID, err)
	}
	o.logger.Info("Adjusted batch size",
		zap.Int64("migration_id", m.ID),
		zap.Float64("efficiency", efficiency),
		zap.Int("old_batch_size", m.BatchSize),
		zap.Int("new_batch_size", newSize))
	m.BatchSize = newSize
	return nil
}

// SmoothedTimeEfficiency computes an exponentially weighted average of job
// time efficiency, weighting the most recent job highest. jobs must be
// ordered most recent first. It returns false when fewer than n jobs are
// available or no job has a measurable efficiency.
func SmoothedTimeEfficiency(jobs []Job, interval time.Duration, n int, alpha float64) (float64, bool) {
	if len(jobs) < n {
		return 0, false
	}

	var dividend, divisor float64
	i := 0
	for _, j := range jobs[:n] {
		eff, ok := j.TimeEfficiency(interval)
		if !ok {
			continue
		}
		weight := math.Pow(1-alpha, float64(i))
		dividend += eff * weight
		divisor += weight
		i++
	}
	if divisor == 0 {
		return 0, false
	}
	return math.Round(dividend/divisor*100) / 100, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
