// File: internal/migration/entity.go
package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/pacer/internal/adapt"
)

// DefaultHoldDuration is how long a Stop signal pauses a migration.
const DefaultHoldDuration = 10 * time.Minute

// Optimizer adjusts a migration's throughput settings.
type Optimizer interface {
	Optimize(ctx context.Context, m *Migration) error
}

// Entity binds a Migration record to the collaborators that persist its
// transitions. It satisfies adapt.Migration.
type Entity struct {
	record       *Migration
	repo         Repository
	optimizer    Optimizer
	holdDuration time.Duration
	now          func() time.Time
}

// EntityOption configures an Entity.
type EntityOption func(*Entity)

// WithHoldDuration overrides DefaultHoldDuration.
func WithHoldDuration(d time.Duration) EntityOption {
	return func(e *Entity) {
		if d > 0 {
			e.holdDuration = d
		}
	}
}

// WithClock overrides time.Now, primarily for tests.
func WithClock(now func() time.Time) EntityOption {
	return func(e *Entity) {
		e.now = now
	}
}

// NewEntity wraps record for use by the adapt controller.
func NewEntity(record *Migration, repo Repository, optimizer Optimizer, opts ...EntityOption) *Entity {
	e := &Entity{
		record:       record,
		repo:         repo,
		optimizer:    optimizer,
		holdDuration: DefaultHoldDuration,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Record returns the underlying migration record.
func (e *Entity) Record() *Migration { return e.record }

func (e *Entity) ID() int64            { return e.record.ID }
func (e *Entity) JobClassName() string { return e.record.JobClassName }

// AdaptContext returns a fresh context listing the tables this migration touches.
func (e *Entity) AdaptContext() adapt.Context {
	return adapt.NewContext(e.record.Tables()...)
}

// Hold pauses the migration until now + hold duration. Holding an already
// held migration extends the hold.
func (e *Entity) Hold(ctx context.Context) error {
	until := e.now().Add(e.holdDuration)
	if err := e.repo.Hold(ctx, e.record.ID, until); err != nil {
		return err
	}
	e.record.OnHoldUntil = &until
	return nil
}

// Optimize lets the optimizer retune the migration's batch size.
func (e *Entity) Optimize(ctx context.Context) error {
	if e.optimizer == nil {
		return nil
	}
	if err := e.optimizer.Optimize(ctx, e.record); err != nil {
		return fmt.Errorf("optimizer failed: %w", err)
	}
	return nil
}
