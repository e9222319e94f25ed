package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pacer/internal/migration"
)

// ErrMigrationNotFound is returned when no migration row matches the requested id.
var ErrMigrationNotFound = errors.New("migration not found")

// jobStatusSucceeded matches batched_background_migration_jobs.status for finished jobs.
const jobStatusSucceeded = 3

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides a PostgreSQL implementation of migration.Repository.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ migration.Repository = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const selectMigrationColumns = `
        SELECT id, job_class_name, table_name, column_name, tracked_tables, database_name,
               status, batch_size, sub_batch_size, max_batch_size, interval, pause_ms,
               on_hold_until, created_at, updated_at
        FROM batched_background_migrations`

func scanMigration(row pgx.Row) (*migration.Migration, error) {
	var (
		m               migration.Migration
		status          int
		maxBatchSize    *int
		intervalSeconds int64
	)
	err := row.Scan(
		&m.ID, &m.JobClassName, &m.TableName, &m.ColumnName, &m.TrackedTables, &m.Database,
		&status, &m.BatchSize, &m.SubBatchSize, &maxBatchSize, &intervalSeconds, &m.PauseMs,
		&m.OnHoldUntil, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Status = migration.Status(status)
	m.Interval = time.Duration(intervalSeconds) * time.Second
	if maxBatchSize != nil {
		m.MaxBatchSize = *maxBatchSize
	}
	return &m, nil
}

func (s *Store) queryMigrations(ctx context.Context, query string, args ...any) ([]*migration.Migration, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	var migrations []*migration.Migration
	for rows.Next() {
		m, err := scanMigration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		migrations = append(migrations, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return migrations, nil
}

// ActiveMigrations returns every migration in the active state, ordered by id.
func (s *Store) ActiveMigrations(ctx context.Context) ([]*migration.Migration, error) {
	return s.queryMigrations(ctx, selectMigrationColumns+` WHERE status = $1 ORDER BY id ASC;`, int(migration.StatusActive))
}

// ListMigrations returns all migrations, ordered by id.
func (s *Store) ListMigrations(ctx context.Context) ([]*migration.Migration, error) {
	return s.queryMigrations(ctx, selectMigrationColumns+` ORDER BY id ASC;`)
}

// MigrationByID loads a single migration.
func (s *Store) MigrationByID(ctx context.Context, id int64) (*migration.Migration, error) {
	row := s.pool.QueryRow(ctx, selectMigrationColumns+` WHERE id = $1;`, id)
	m, err := scanMigration(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrMigrationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load migration %d: %w", id, err)
	}
	return m, nil
}

// Hold sets on_hold_until so the executor skips the migration until then.
func (s *Store) Hold(ctx context.Context, id int64, until time.Time) error {
	query := `
        UPDATE batched_background_migrations
        SET on_hold_until = $2, updated_at = NOW()
        WHERE id = $1;
    `
	tag, err := s.pool.Exec(ctx, query, id, until.UTC())
	if err != nil {
		return fmt.Errorf("failed to hold migration %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrMigrationNotFound, id)
	}
	s.log.Debug("Migration held", zap.Int64("migration_id", id), zap.Time("until", until))
	return nil
}

// UpdateBatchSize persists a new batch size.
func (s *Store) UpdateBatchSize(ctx context.Context, id int64, size int) error {
	query := `
        UPDATE batched_background_migrations
        SET batch_size = $2, updated_at = NOW()
        WHERE id = $1;
    `
	tag, err := s.pool.Exec(ctx, query, id, size)
	if err != nil {
		return fmt.Errorf("failed to update batch size for migration %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrMigrationNotFound, id)
	}
	return nil
}

// SuccessfulJobs returns up to limit succeeded jobs, most recent first.
func (s *Store) SuccessfulJobs(ctx context.Context, id int64, limit int) ([]migration.Job, error) {
	query := `
        SELECT id, batch_size, started_at, finished_at
        FROM batched_background_migration_jobs
        WHERE batched_background_migration_id = $1 AND status = $2
        ORDER BY id DESC
        LIMIT $3;
    `
	rows, err := s.pool.Query(ctx, query, id, jobStatusSucceeded, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []migration.Job
	for rows.Next() {
		var j migration.Job
		if err := rows.Scan(&j.ID, &j.BatchSize, &j.StartedAt, &j.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return jobs, nil
}
