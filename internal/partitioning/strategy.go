package partitioning

import (
	"context"
	"fmt"
	"time"
)

// Strategy decides which partitions a model should have.
type Strategy interface {
	Name() string
	// DesiredPartitions returns the full set of partitions the model should
	// have, in ascending bound order. It may consult cat but must not modify it.
	DesiredPartitions(ctx context.Context, cat Catalog, m Model, current []Partition, now time.Time) ([]Partition, error)
	// Prunable reports whether an existing partition may be detached.
	Prunable(p Partition, now time.Time) bool
}

// Strategy kinds accepted by NewStrategy.
const (
	KindMonthly  = "monthly"
	KindIntRange = "int_range"
)

// StrategyOptions carries the configurable knobs of every strategy kind.
type StrategyOptions struct {
	Kind          string
	DynamicSchema string
	// monthly
	RetainFor int
	Headroom  int
	// int_range
	PartitionSize int64
	Ahead         int
}

// NewStrategy builds the strategy named by opts.Kind.
func NewStrategy(opts StrategyOptions) (Strategy, error) {
	switch opts.Kind {
	case KindMonthly, "":
		if opts.RetainFor < 0 {
			return nil, fmt.Errorf("retain_for must not be negative, got %d", opts.RetainFor)
		}
		return MonthlyStrategy{
			RetainFor:     opts.RetainFor,
			Headroom:      opts.Headroom,
			DynamicSchema: opts.DynamicSchema,
		}, nil
	case KindIntRange:
		if opts.PartitionSize <= 0 {
			return nil, fmt.Errorf("partition_size must be positive, got %d", opts.PartitionSize)
		}
		return IntRangeStrategy{
			PartitionSize: opts.PartitionSize,
			Ahead:         opts.Ahead,
			DynamicSchema: opts.DynamicSchema,
		}, nil
	default:
		return nil, fmt.Errorf("unknown partitioning strategy %q", opts.Kind)
	}
}

func partitionSchema(dynamic string, m Model) string {
	if dynamic != "" {
		return dynamic
	}
	return m.Schema
}
