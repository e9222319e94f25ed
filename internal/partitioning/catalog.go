package partitioning

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pacer/internal/store"
)

// ErrLockNotAcquired is returned when another process holds the table's partitioning lock.
var ErrLockNotAcquired = errors.New("partitioning lock not acquired")

// DefaultLockTimeout bounds how long DDL waits for table locks.
const DefaultLockTimeout = 3 * time.Second

// Catalog reads and changes the partition layout of one database.
type Catalog interface {
	IsPartitioned(ctx context.Context, m Model) (bool, error)
	// Partitions lists the model's range partitions in ascending bound order.
	Partitions(ctx context.Context, m Model) ([]Partition, error)
	// MaxKey returns MAX(partition key); false when the table is empty.
	MaxKey(ctx context.Context, m Model) (int64, bool, error)
	// Apply creates and detaches partitions atomically. Detached partitions
	// are recorded for dropping after dropAfter.
	Apply(ctx context.Context, m Model, create, detach []Partition, dropAfter time.Time) error
}

// PostgresCatalog is a Catalog backed by the PostgreSQL system catalogs.
type PostgresCatalog struct {
	pool        store.DBPool
	lockTimeout time.Duration
	log         *zap.Logger
}

var _ Catalog = (*PostgresCatalog)(nil)

// NewPostgresCatalog creates a catalog. A non-positive lockTimeout uses DefaultLockTimeout.
func NewPostgresCatalog(pool store.DBPool, lockTimeout time.Duration, logger *zap.Logger) *PostgresCatalog {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &PostgresCatalog{
		pool:        pool,
		lockTimeout: lockTimeout,
		log:         logger.Named("catalog"),
	}
}

// IsPartitioned implements Catalog.
func (c *PostgresCatalog) IsPartitioned(ctx context.Context, m Model) (bool, error) {
	query := `
        SELECT EXISTS (
            SELECT 1
            FROM pg_partitioned_table pt
            JOIN pg_class c ON c.oid = pt.partrelid
            JOIN pg_namespace n ON n.oid = c.relnamespace
            WHERE n.nspname = $1 AND c.relname = $2
        );`
	var partitioned bool
	if err := c.pool.QueryRow(ctx, query, m.Schema, m.Table).Scan(&partitioned); err != nil {
		return false, fmt.Errorf("failed to check partitioning of %s: %w", m.QualifiedName(), err)
	}
	return partitioned, nil
}

// Partitions implements Catalog. The DEFAULT partition, if any, is ignored.
func (c *PostgresCatalog) Partitions(ctx context.Context, m Model) ([]Partition, error) {
	query := `
        SELECT child_ns.nspname, child.relname, pg_get_expr(child.relpartbound, child.oid)
        FROM pg_inherits i
        JOIN pg_class parent ON parent.oid = i.inhparent
        JOIN pg_namespace parent_ns ON parent_ns.oid = parent.relnamespace
        JOIN pg_class child ON child.oid = i.inhrelid
        JOIN pg_namespace child_ns ON child_ns.oid = child.relnamespace
        WHERE parent_ns.nspname = $1 AND parent.relname = $2
        ORDER BY child.relname;`
	rows, err := c.pool.Query(ctx, query, m.Schema, m.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions of %s: %w", m.QualifiedName(), err)
	}
	defer rows.Close()

	var parts []Partition
	for rows.Next() {
		var schema, name, expr string
		if err := rows.Scan(&schema, &name, &expr); err != nil {
			return nil, fmt.Errorf("failed to scan partition row: %w", err)
		}
		if strings.EqualFold(strings.TrimSpace(expr), "DEFAULT") {
			continue
		}
		from, to, err := ParseBounds(expr)
		if err != nil {
			return nil, fmt.Errorf("partition %s.%s: %w", schema, name, err)
		}
		parts = append(parts, Partition{Schema: schema, Name: name, From: from, To: to})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	SortPartitions(parts)
	return parts, nil
}

// MaxKey implements Catalog.
func (c *PostgresCatalog) MaxKey(ctx context.Context, m Model) (int64, bool, error) {
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s;", pgx.Identifier{m.PartitionKey}.Sanitize(), m.ident())
	var maxKey *int64
	if err := c.pool.QueryRow(ctx, query).Scan(&maxKey); err != nil {
		return 0, false, fmt.Errorf("failed to read max %s of %s: %w", m.PartitionKey, m.QualifiedName(), err)
	}
	if maxKey == nil {
		return 0, false, nil
	}
	return *maxKey, true, nil
}

// Apply implements Catalog. All DDL for a table runs in one transaction
// guarded by a transaction-scoped advisory lock keyed on the table name.
func (c *PostgresCatalog) Apply(ctx context.Context, m Model, create, detach []Partition, dropAfter time.Time) error {
	if len(create) == 0 && len(detach) == 0 {
		return nil
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			c.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", c.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}

	var locked bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock(hashtext($1));", m.QualifiedName()).Scan(&locked); err != nil {
		return fmt.Errorf("failed to take partitioning lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLockNotAcquired, m.QualifiedName())
	}

	for _, p := range create {
		if _, err := tx.Exec(ctx, p.CreateSQL(m)); err != nil {
			return fmt.Errorf("failed to create partition %s: %w", p.QualifiedName(), err)
		}
		c.log.Info("Created partition", zap.String("table", m.QualifiedName()), zap.String("partition", p.QualifiedName()))
	}

	for _, p := range detach {
		if _, err := tx.Exec(ctx, p.DetachSQL(m)); err != nil {
			return fmt.Errorf("failed to detach partition %s: %w", p.QualifiedName(), err)
		}
		insert := `
            INSERT INTO detached_partitions (table_name, drop_after, created_at, updated_at)
            VALUES ($1, $2, NOW(), NOW());`
		if _, err := tx.Exec(ctx, insert, p.QualifiedName(), dropAfter.UTC()); err != nil {
			return fmt.Errorf("failed to record detached partition %s: %w", p.QualifiedName(), err)
		}
		c.log.Info("Detached partition", zap.String("table", m.QualifiedName()), zap.String("partition", p.QualifiedName()))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var boundsRe = regexp.MustCompile(`(?i)^FOR VALUES FROM \((.+)\) TO \((.+)\)$`)

// ParseBounds parses the output of pg_get_expr(relpartbound) for a
// single-column range partition.
func ParseBounds(expr string) (from, to Bound, err error) {
	match := boundsRe.FindStringSubmatch(strings.TrimSpace(expr))
	if match == nil {
		return Bound{}, Bound{}, fmt.Errorf("unsupported partition bound %q", expr)
	}
	if from, err = parseBound(match[1]); err != nil {
		return Bound{}, Bound{}, err
	}
	if to, err = parseBound(match[2]); err != nil {
		return Bound{}, Bound{}, err
	}
	return from, to, nil
}

func parseBound(raw string) (Bound, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.EqualFold(raw, "MINVALUE"):
		return MinBound, nil
	case strings.EqualFold(raw, "MAXVALUE"):
		return Bound{}, fmt.Errorf("MAXVALUE bounds are not supported")
	case strings.Contains(raw, ","):
		return Bound{}, fmt.Errorf("multi-column bound %q is not supported", raw)
	case len(raw) >= 2 && strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'"):
		return ValueBound(strings.ReplaceAll(raw[1:len(raw)-1], "''", "'")), nil
	}
	return ValueBound(raw), nil
}
