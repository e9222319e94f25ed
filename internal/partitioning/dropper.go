package partitioning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pacer/internal/metrics"
	"github.com/xkilldash9x/pacer/internal/store"
)

// Outcomes of processing one detached partition.
const (
	dropDropped    = "dropped"
	dropReattached = "reattached"
	dropMissing    = "missing"
)

// Dropper removes detached partitions whose retention has expired.
type Dropper struct {
	pools       map[string]store.DBPool
	lockTimeout time.Duration
	logger      *zap.Logger
}

// NewDropper creates a dropper over one pool per logical database.
func NewDropper(pools map[string]store.DBPool, lockTimeout time.Duration, logger *zap.Logger) *Dropper {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Dropper{pools: pools, lockTimeout: lockTimeout, logger: logger.Named("dropper")}
}

type detachedPartition struct {
	id        int64
	tableName string
}

// DropExpired drops every expired detached partition in every database and
// returns how many were dropped. Partitions that were attached again are
// kept and forgotten. Failures are aggregated; one bad partition does not
// stop the rest.
func (d *Dropper) DropExpired(ctx context.Context) (int, error) {
	dbs := make([]string, 0, len(d.pools))
	for db := range d.pools {
		dbs = append(dbs, db)
	}
	sort.Strings(dbs)

	var (
		dropped int
		errs    error
	)
	for _, db := range dbs {
		n, err := d.dropExpired(ctx, db, d.pools[db])
		dropped += n
		errs = multierr.Append(errs, err)
	}
	return dropped, errs
}

func (d *Dropper) dropExpired(ctx context.Context, db string, pool store.DBPool) (int, error) {
	query := `
        SELECT id, table_name
        FROM detached_partitions
        WHERE drop_after < NOW()
        ORDER BY drop_after ASC;`
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to list detached partitions: %w", db, err)
	}
	var expired []detachedPartition
	for rows.Next() {
		var p detachedPartition
		if err := rows.Scan(&p.id, &p.tableName); err != nil {
			rows.Close()
			return 0, fmt.Errorf("%s: failed to scan detached partition: %w", db, err)
		}
		expired = append(expired, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("%s: error during row iteration: %w", db, err)
	}

	var (
		dropped int
		errs    error
	)
	for _, p := range expired {
		logger := d.logger.With(zap.String("database", db), zap.String("partition", p.tableName))
		outcome, err := d.drop(ctx, pool, p)
		if err != nil {
			logger.Error("Failed to drop detached partition", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", db, p.tableName, err))
			continue
		}
		metrics.DetachedPartitionDrops.WithLabelValues(db, outcome).Inc()
		switch outcome {
		case dropDropped:
			dropped++
			logger.Info("Dropped detached partition")
		case dropReattached:
			logger.Warn("Detached partition was attached again, keeping it")
		case dropMissing:
			logger.Info("Detached partition no longer exists, forgetting it")
		}
	}
	return dropped, errs
}

// drop removes one partition in a transaction. The partition is locked
// ACCESS EXCLUSIVE first, which conflicts with ATTACH PARTITION, so the
// pg_inherits check cannot race a concurrent re-attach.
func (d *Dropper) drop(ctx context.Context, pool store.DBPool, p detachedPartition) (outcome string, err error) {
	ident := pgx.Identifier(strings.SplitN(p.tableName, ".", 2)).Sanitize()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			d.logger.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.lockTimeout.Milliseconds())); err != nil {
		return "", fmt.Errorf("failed to set lock timeout: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL;", ident).Scan(&exists); err != nil {
		return "", fmt.Errorf("failed to look up table: %w", err)
	}

	outcome = dropMissing
	if exists {
		if _, err := tx.Exec(ctx, "LOCK TABLE "+ident+" IN ACCESS EXCLUSIVE MODE;"); err != nil {
			return "", fmt.Errorf("failed to lock table: %w", err)
		}

		var attached bool
		query := `SELECT EXISTS (SELECT 1 FROM pg_inherits WHERE inhrelid = $1::regclass);`
		if err := tx.QueryRow(ctx, query, ident).Scan(&attached); err != nil {
			return "", fmt.Errorf("failed to check partition parent: %w", err)
		}

		outcome = dropReattached
		if !attached {
			if _, err := tx.Exec(ctx, "DROP TABLE "+ident+";"); err != nil {
				return "", fmt.Errorf("failed to drop table: %w", err)
			}
			outcome = dropDropped
		}
	}

	if _, err := tx.Exec(ctx, "DELETE FROM detached_partitions WHERE id = $1;", p.id); err != nil {
		return "", fmt.Errorf("failed to delete tracking row: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return outcome, nil
}
