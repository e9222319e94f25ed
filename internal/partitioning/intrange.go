package partitioning

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrKeysOutsidePartitions is returned when MAX(key) is not covered by any
// range partition, meaning rows already sit in the DEFAULT partition.
var ErrKeysOutsidePartitions = errors.New("keys exist beyond the last range partition")

// DefaultAhead is how many empty partitions IntRangeStrategy keeps past MAX(key).
const DefaultAhead = 2

// IntRangeStrategy partitions an integer key into fixed-size ranges
// [k*size+1, (k+1)*size+1), named <table>_<k+1>. It never detaches.
type IntRangeStrategy struct {
	PartitionSize int64
	Ahead         int
	DynamicSchema string
}

var _ Strategy = IntRangeStrategy{}

func (IntRangeStrategy) Name() string { return KindIntRange }

func (s IntRangeStrategy) ahead() int {
	if s.Ahead <= 0 {
		return DefaultAhead
	}
	return s.Ahead
}

// DesiredPartitions implements Strategy.
func (s IntRangeStrategy) DesiredPartitions(ctx context.Context, cat Catalog, m Model, current []Partition, _ time.Time) ([]Partition, error) {
	if s.PartitionSize <= 0 {
		return nil, fmt.Errorf("partition size must be positive for %s", m.QualifiedName())
	}
	maxKey, ok, err := cat.MaxKey(ctx, m)
	if err != nil {
		return nil, err
	}
	if !ok {
		maxKey = 0
	}

	desired := make([]Partition, len(current), len(current)+s.ahead())
	copy(desired, current)

	next := int64(1)
	empty := 0
	for _, p := range current {
		if to, err := parseInt(p.To); err == nil && to > next {
			next = to
		}
		if from, err := parseInt(p.From); err == nil && from > maxKey {
			empty++
		}
	}

	// Creating ranges over rows held by DEFAULT would fail and could mean
	// thousands of partitions in one transaction. An operator has to move
	// those rows first.
	if ok && maxKey >= next {
		return nil, fmt.Errorf("%w: %s has MAX(%s) = %d but partitions end at %d",
			ErrKeysOutsidePartitions, m.QualifiedName(), m.PartitionKey, maxKey, next)
	}

	schema := partitionSchema(s.DynamicSchema, m)
	for empty < s.ahead() {
		end := next + s.PartitionSize
		desired = append(desired, Partition{
			Schema: schema,
			Name:   fmt.Sprintf("%s_%d", m.Table, (next-1)/s.PartitionSize+1),
			From:   ValueBound(strconv.FormatInt(next, 10)),
			To:     ValueBound(strconv.FormatInt(end, 10)),
		})
		if next > maxKey {
			empty++
		}
		next = end
	}

	SortPartitions(desired)
	return desired, nil
}

// Prunable implements Strategy.
func (IntRangeStrategy) Prunable(Partition, time.Time) bool { return false }

func parseInt(b Bound) (int64, error) {
	if b.Min {
		return 0, fmt.Errorf("unbounded")
	}
	return strconv.ParseInt(b.Value, 10, 64)
}
