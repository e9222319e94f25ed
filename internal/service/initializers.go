// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pacer/internal/adapt"
	"github.com/xkilldash9x/pacer/internal/adapt/indicators"
	"github.com/xkilldash9x/pacer/internal/config"
	"github.com/xkilldash9x/pacer/internal/migration"
	"github.com/xkilldash9x/pacer/internal/partitioning"
	"github.com/xkilldash9x/pacer/internal/store"
)

// newPoolConfig translates one database section into pgxpool settings.
// Zero values keep the pgxpool defaults.
func newPoolConfig(db config.DatabaseConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(db.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	if db.MaxConns > 0 {
		poolConfig.MaxConns = db.MaxConns
	}
	if db.MinConns > 0 {
		poolConfig.MinConns = db.MinConns
	}
	if db.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = db.MaxConnLifetime
	}
	if db.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = db.MaxConnIdleTime
	}
	if db.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = db.HealthCheckPeriod
	}
	return poolConfig, nil
}

// InitializePools opens and pings one pool per logical database. If any
// database fails, the pools opened so far are closed. The returned cleanup
// closes every pool.
func InitializePools(ctx context.Context, dbs map[string]config.DatabaseConfig, logger *zap.Logger) (map[string]*pgxpool.Pool, func(), error) {
	pools := make(map[string]*pgxpool.Pool, len(dbs))
	cleanup := func() {
		for name, pool := range pools {
			pool.Close()
			logger.Debug("Database connection pool closed.", zap.String("database", name))
		}
	}

	for _, name := range sortedKeys(dbs) {
		poolConfig, err := newPoolConfig(dbs[name])
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("database %q: %w", name, err)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("database %q: unable to create PGX connection pool: %w", name, err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			cleanup()
			return nil, nil, fmt.Errorf("database %q: failed to ping PostgreSQL: %w", name, err)
		}
		pools[name] = pool
		logger.Info("Database connection pool initialized.", zap.String("database", name), zap.String("host", poolConfig.ConnConfig.Host))
	}
	return pools, cleanup, nil
}

// NewIndicator builds the indicator named by names. Several names are
// combined into a composite indicator evaluated in the given order.
func NewIndicator(names []string, pool store.DBPool, timeout time.Duration, logger *zap.Logger) (adapt.Indicator, error) {
	var built []adapt.Indicator
	for _, name := range names {
		switch name {
		case indicators.AutovacuumName:
			built = append(built, indicators.NewAutovacuum(pool, timeout, logger))
		default:
			return nil, fmt.Errorf("unknown indicator %q", name)
		}
	}
	switch len(built) {
	case 0:
		return nil, fmt.Errorf("no indicator configured")
	case 1:
		return built[0], nil
	}
	return indicators.NewComposite(built...), nil
}

// NewRegistry builds the partitioned model registry: core models followed by
// extension models.
func NewRegistry(cfg config.PartitioningConfig) (*partitioning.Registry, error) {
	core, err := toModels(cfg.CoreModels, cfg.DynamicSchema)
	if err != nil {
		return nil, err
	}
	ext, err := toModels(cfg.ExtensionModels, cfg.DynamicSchema)
	if err != nil {
		return nil, err
	}
	return partitioning.NewRegistry(core, ext)
}

func toModels(cfgs []config.ModelConfig, dynamicSchema string) ([]partitioning.Model, error) {
	models := make([]partitioning.Model, 0, len(cfgs))
	for _, mc := range cfgs {
		strategy, err := partitioning.NewStrategy(partitioning.StrategyOptions{
			Kind:          mc.Strategy,
			DynamicSchema: dynamicSchema,
			RetainFor:     mc.RetainFor,
			Headroom:      mc.Headroom,
			PartitionSize: mc.PartitionSize,
			Ahead:         mc.Ahead,
		})
		if err != nil {
			return nil, fmt.Errorf("partitioned table %s: %w", mc.Table, err)
		}
		schema := mc.Schema
		if schema == "" {
			schema = "public"
		}
		models = append(models, partitioning.Model{
			Database:     mc.Database,
			Schema:       schema,
			Table:        mc.Table,
			PartitionKey: mc.PartitionKey,
			Strategy:     strategy,
		})
	}
	return models, nil
}

func optimizerConfig(cfg config.OptimizerConfig) migration.OptimizerConfig {
	return migration.OptimizerConfig{
		TargetEfficiencyMin: cfg.TargetEfficiencyMin,
		TargetEfficiencyMax: cfg.TargetEfficiencyMax,
		MinBatchSize:        cfg.MinBatchSize,
		MaxBatchSize:        cfg.MaxBatchSize,
		MaxMultiplier:       cfg.MaxMultiplier,
		NumberOfJobs:        cfg.NumberOfJobs,
		SmoothingAlpha:      cfg.SmoothingAlpha,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
