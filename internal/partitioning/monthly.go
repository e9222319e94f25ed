package partitioning

import (
	"context"
	"fmt"
	"time"
)

// DefaultHeadroom is how many future months MonthlyStrategy keeps created.
const DefaultHeadroom = 6

const boundDateLayout = "2006-01-02"

// MonthlyStrategy keeps one partition per calendar month, named <table>_YYYYMM.
// Without retention an initial <table>_000000 partition covers everything
// below the first month. With RetainFor > 0, months older than the
// retention window are detached and the initial partition is dropped.
type MonthlyStrategy struct {
	RetainFor     int
	Headroom      int
	DynamicSchema string
}

var _ Strategy = MonthlyStrategy{}

func (MonthlyStrategy) Name() string { return KindMonthly }

func (s MonthlyStrategy) headroom() int {
	if s.Headroom <= 0 {
		return DefaultHeadroom
	}
	return s.Headroom
}

// oldestActive is the first month still inside the retention window.
func (s MonthlyStrategy) oldestActive(now time.Time) time.Time {
	return monthStart(now).AddDate(0, -s.RetainFor, 0)
}

// DesiredPartitions implements Strategy.
func (s MonthlyStrategy) DesiredPartitions(_ context.Context, _ Catalog, m Model, current []Partition, now time.Time) ([]Partition, error) {
	thisMonth := monthStart(now)
	upper := thisMonth.AddDate(0, s.headroom()+1, 0)

	lower := thisMonth
	for _, p := range current {
		b := p.From
		if b.Min {
			b = p.To
		}
		if month, ok := parseMonth(b); ok && month.Before(lower) {
			lower = month
		}
	}
	if s.RetainFor > 0 {
		if oldest := s.oldestActive(now); lower.Before(oldest) {
			lower = oldest
		}
	}

	schema := partitionSchema(s.DynamicSchema, m)
	var desired []Partition
	if s.RetainFor == 0 {
		desired = append(desired, Partition{
			Schema: schema,
			Name:   m.Table + "_000000",
			From:   MinBound,
			To:     ValueBound(lower.Format(boundDateLayout)),
		})
	}
	for month := lower; month.Before(upper); month = month.AddDate(0, 1, 0) {
		desired = append(desired, Partition{
			Schema: schema,
			Name:   fmt.Sprintf("%s_%s", m.Table, month.Format("200601")),
			From:   ValueBound(month.Format(boundDateLayout)),
			To:     ValueBound(month.AddDate(0, 1, 0).Format(boundDateLayout)),
		})
	}
	return desired, nil
}

// Prunable implements Strategy. A partition is prunable once its upper bound
// is at or before the oldest retained month.
func (s MonthlyStrategy) Prunable(p Partition, now time.Time) bool {
	if s.RetainFor <= 0 {
		return false
	}
	to, ok := parseMonth(p.To)
	if !ok {
		return false
	}
	return !to.After(s.oldestActive(now))
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// parseMonth reads the date prefix of a date or timestamp bound.
func parseMonth(b Bound) (time.Time, bool) {
	if b.Min || len(b.Value) < len(boundDateLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(boundDateLayout, b.Value[:len(boundDateLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
