// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pacer/internal/adapt"
	"github.com/xkilldash9x/pacer/internal/config"
	"github.com/xkilldash9x/pacer/internal/migration"
	"github.com/xkilldash9x/pacer/internal/observability"
	"github.com/xkilldash9x/pacer/internal/partitioning"
	"github.com/xkilldash9x/pacer/internal/scheduler"
	"github.com/xkilldash9x/pacer/internal/store"
)

// ComponentFactory creates the component graph. Commands depend on this
// interface so tests can substitute their own wiring.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory returns the factory that connects to the configured databases.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	pools, closePools, err := InitializePools(ctx, cfg.Databases(), logger)
	if err != nil {
		return nil, err
	}

	dbPools := make(map[string]store.DBPool, len(pools))
	for name, pool := range pools {
		dbPools[name] = pool
	}

	components, err := BuildComponents(ctx, cfg, dbPools, logger)
	if err != nil {
		logger.Warn("Initialization failed, closing database pools.", zap.Error(err))
		closePools()
		return nil, err
	}
	components.closePools = closePools
	return components, nil
}

// BuildComponents wires stores, indicators, the controller, partition
// management and the scheduler over already-open pools.
func BuildComponents(ctx context.Context, cfg config.Interface, pools map[string]store.DBPool, logger *zap.Logger) (*Components, error) {
	adaptCfg := cfg.Adapt()
	partCfg := cfg.Partitioning()
	optCfg := optimizerConfig(cfg.Optimizer())

	components := &Components{
		Controller: adapt.NewController(logger, observability.NewZapReporter(logger)),
		Pools:      pools,
		Stores:     make(map[string]*store.Store, len(pools)),
		Indicators: make(map[string]adapt.Indicator, len(pools)),
	}
	catalogs := make(map[string]partitioning.Catalog, len(pools))

	for _, name := range sortedKeys(pools) {
		pool := pools[name]
		dbLogger := logger.With(zap.String("database", name))

		st, err := store.New(ctx, pool, dbLogger)
		if err != nil {
			return nil, fmt.Errorf("database %q: failed to initialize store: %w", name, err)
		}
		ind, err := NewIndicator(adaptCfg.Indicators, pool, adaptCfg.IndicatorTimeout, dbLogger)
		if err != nil {
			return nil, err
		}
		optimizer := migration.NewBatchOptimizer(st, optCfg, dbLogger)
		holdDuration := adaptCfg.HoldDuration

		components.Stores[name] = st
		components.Indicators[name] = ind
		components.Databases = append(components.Databases, scheduler.Database{
			Name:       name,
			Migrations: st,
			Indicator:  ind,
			Entity: func(m *migration.Migration) adapt.Migration {
				return migration.NewEntity(m, st, optimizer, migration.WithHoldDuration(holdDuration))
			},
		})
		catalogs[name] = partitioning.NewPostgresCatalog(pool, partCfg.LockTimeout, dbLogger)
	}

	registry, err := NewRegistry(partCfg)
	if err != nil {
		return nil, fmt.Errorf("invalid partitioned table registry: %w", err)
	}
	components.Registry = registry
	components.Manager = partitioning.NewManager(catalogs, logger,
		partitioning.WithConcurrency(partCfg.Concurrency),
		partitioning.WithDetachRetention(partCfg.DetachRetention))
	components.Dropper = partitioning.NewDropper(pools, partCfg.LockTimeout, logger)

	schedCfg := cfg.Scheduler()
	components.Scheduler = scheduler.New(scheduler.Options{
		AdaptInterval:     schedCfg.AdaptInterval,
		PartitionInterval: schedCfg.PartitionInterval,
		Concurrency:       schedCfg.Concurrency,
		RateLimit:         schedCfg.RateLimit,
	}, components.Controller, components.Databases, &scheduler.Partitions{
		Syncer:  components.Manager,
		Dropper: components.Dropper,
		Models:  registry.Models(),
	}, logger)

	return components, nil
}
