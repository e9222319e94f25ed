// File: internal/migration/migration.go
package migration

import (
	"context"
	"time"
)

// Status is the persisted lifecycle state of a batched background migration.
type Status int

const (
	StatusPaused     Status = 0
	StatusActive     Status = 1
	StatusFinished   Status = 3
	StatusFailed     Status = 4
	StatusFinalizing Status = 5
)

// String returns the status name used in logs and CLI output.
func (s Status) String() string {
	switch s {
	case StatusPaused:
		return "paused"
	case StatusActive:
		return "active"
	case StatusFinished:
		return "finished"
	case StatusFailed:
		return "failed"
	case StatusFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Migration is a batched background migration record.
type Migration struct {
	ID            int64
	JobClassName  string
	TableName     string
	ColumnName    string
	TrackedTables []string
	Database      string
	Status        Status
	BatchSize     int
	SubBatchSize  int
	MaxBatchSize  int // zero means the optimizer's default ceiling
	Interval      time.Duration
	PauseMs       int
	OnHoldUntil   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OnHold reports whether the migration is held at the given instant.
func (m *Migration) OnHold(now time.Time) bool {
	return m.OnHoldUntil != nil && m.OnHoldUntil.After(now)
}

// Tables returns the primary table followed by any tracked tables, without duplicates.
func (m *Migration) Tables() []string {
	seen := make(map[string]struct{}, 1+len(m.TrackedTables))
	tables := make([]string, 0, 1+len(m.TrackedTables))
	for _, t := range append([]string{m.TableName}, m.TrackedTables...) {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tables = append(tables, t)
	}
	return tables
}

// Job is one executed batch of a migration.
type Job struct {
	ID         int64
	BatchSize  int
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Duration returns how long the job ran, or false if it has not finished.
func (j Job) Duration() (time.Duration, bool) {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0, false
	}
	return j.FinishedAt.Sub(*j.StartedAt), true
}

// TimeEfficiency is the job's duration relative to the migration interval.
// A value of 1.0 means the job used the whole interval.
func (j Job) TimeEfficiency(interval time.Duration) (float64, bool) {
	d, ok := j.Duration()
	if !ok || interval <= 0 {
		return 0, false
	}
	return d.Seconds() / interval.Seconds(), true
}

// Repository persists migration state changes.
type Repository interface {
	Hold(ctx context.Context, id int64, until time.Time) error
	UpdateBatchSize(ctx context.Context, id int64, size int) error
	// SuccessfulJobs returns up to limit succeeded jobs, most recent first.
	SuccessfulJobs(ctx context.Context, id int64, limit int) ([]Job, error)
}
