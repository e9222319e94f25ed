package partitioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/pacer/internal/metrics"
)

// DefaultDetachRetention is how long a detached partition is kept before it may be dropped.
const DefaultDetachRetention = 7 * 24 * time.Hour

// DefaultConcurrency bounds how many tables are reconciled at once.
const DefaultConcurrency = 4

// TableReport is the outcome of reconciling one model.
type TableReport struct {
	Database string
	Table    string
	Created  []string
	Detached []string
	// Skipped is set when the table is not partitioned.
	Skipped bool
	Err     error
}

// SyncReport collects the per-table outcomes of one sync, in model order.
type SyncReport struct {
	Tables []TableReport
}

// Manager converges each model's partitions to what its strategy desires.
type Manager struct {
	catalogs        map[string]Catalog
	logger          *zap.Logger
	concurrency     int
	detachRetention time.Duration
	now             func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithConcurrency bounds concurrent table reconciliation.
func WithConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithDetachRetention sets how long detached partitions are kept.
func WithDetachRetention(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.detachRetention = d
		}
	}
}

// WithManagerClock overrides time.Now.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager. catalogs maps a logical database name to its catalog.
func NewManager(catalogs map[string]Catalog, logger *zap.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		catalogs:        catalogs,
		logger:          logger.Named("partitioning"),
		concurrency:     DefaultConcurrency,
		detachRetention: DefaultDetachRetention,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SyncPartitions reconciles every model and returns the aggregated per-table errors.
func (m *Manager) SyncPartitions(ctx context.Context, models []Model) error {
	_, err := m.SyncPartitionsWithReport(ctx, models)
	return err
}

// SyncPartitionsWithReport reconciles every model. A failing table never
// prevents the others from being attempted.
func (m *Manager) SyncPartitionsWithReport(ctx context.Context, models []Model) (*SyncReport, error) {
	groups, order := groupByDatabase(models)
	now := m.now()

	report := &SyncReport{}
	var errs error
	for _, db := range order {
		dbModels := groups[db]
		cat, ok := m.catalogs[db]
		if !ok {
			err := fmt.Errorf("no connection configured for database %q", db)
			m.logger.Error("Skipping partitioned tables of unknown database", zap.String("database", db), zap.Error(err))
			for _, model := range dbModels {
				report.Tables = append(report.Tables, TableReport{Database: db, Table: model.QualifiedName(), Err: err})
			}
			errs = multierr.Append(errs, err)
			continue
		}

		results := make([]TableReport, len(dbModels))
		g := new(errgroup.Group)
		g.SetLimit(m.concurrency)
		for i, model := range dbModels {
			g.Go(func() error {
				results[i] = m.syncTable(ctx, cat, model, now)
				return nil
			})
		}
		_ = g.Wait()

		for _, r := range results {
			report.Tables = append(report.Tables, r)
			if r.Err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", r.Database, r.Table, r.Err))
			}
		}
	}
	return report, errs
}

func (m *Manager) syncTable(ctx context.Context, cat Catalog, model Model, now time.Time) (rep TableReport) {
	rep = TableReport{Database: model.Database, Table: model.QualifiedName()}
	logger := m.logger.With(zap.String("database", model.Database), zap.String("table", model.QualifiedName()))

	defer func() {
		if rep.Err == nil {
			return
		}
		metrics.PartitionSyncFailures.WithLabelValues(model.Database, model.QualifiedName()).Inc()
		if errors.Is(rep.Err, ErrLockNotAcquired) {
			logger.Warn("Partitioning lock held elsewhere, will retry next run", zap.Error(rep.Err))
			return
		}
		logger.Error("Failed to sync partitions", zap.Error(rep.Err))
	}()

	if model.Strategy == nil {
		rep.Err = fmt.Errorf("no partitioning strategy")
		return rep
	}

	partitioned, err := cat.IsPartitioned(ctx, model)
	if err != nil {
		rep.Err = err
		return rep
	}
	if !partitioned {
		logger.Warn("Table is not partitioned, skipping")
		rep.Skipped = true
		return rep
	}

	current, err := cat.Partitions(ctx, model)
	if err != nil {
		rep.Err = err
		return rep
	}
	desired, err := model.Strategy.DesiredPartitions(ctx, cat, model, current, now)
	if err != nil {
		rep.Err = fmt.Errorf("failed to compute desired partitions: %w", err)
		return rep
	}

	missing, extra := diff(current, desired, model.Strategy, now)
	if len(missing) == 0 && len(extra) == 0 {
		logger.Debug("Partitions up to date", zap.Int("partitions", len(current)))
		return rep
	}

	if err := cat.Apply(ctx, model, missing, extra, now.Add(m.detachRetention)); err != nil {
		rep.Err = err
		return rep
	}

	for _, p := range missing {
		rep.Created = append(rep.Created, p.QualifiedName())
	}
	for _, p := range extra {
		rep.Detached = append(rep.Detached, p.QualifiedName())
	}
	metrics.PartitionOperations.WithLabelValues(model.Database, model.QualifiedName(), "create").Add(float64(len(missing)))
	metrics.PartitionOperations.WithLabelValues(model.Database, model.QualifiedName(), "detach").Add(float64(len(extra)))
	logger.Info("Partitions synced", zap.Int("created", len(missing)), zap.Int("detached", len(extra)))
	return rep
}
