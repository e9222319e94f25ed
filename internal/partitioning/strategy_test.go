package partitioning

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var auditEvents = Model{Database: "main", Schema: "public", Table: "audit_events", PartitionKey: "created_at"}

func monthly(name, from, to string) Partition {
	return Partition{Schema: "dyn", Name: name, From: ValueBound(from), To: ValueBound(to)}
}

func names(parts []Partition) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, p.Name)
	}
	return out
}

func TestMonthlyStrategy_DesiredPartitions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	t.Run("empty table gets an initial partition and headroom", func(t *testing.T) {
		s := MonthlyStrategy{Headroom: 2, DynamicSchema: "dyn"}
		got, err := s.DesiredPartitions(ctx, nil, auditEvents, nil, now)
		require.NoError(t, err)

		want := []Partition{
			{Schema: "dyn", Name: "audit_events_000000", From: MinBound, To: ValueBound("2026-03-01")},
			monthly("audit_events_202603", "2026-03-01", "2026-04-01"),
			monthly("audit_events_202604", "2026-04-01", "2026-05-01"),
			monthly("audit_events_202605", "2026-05-01", "2026-06-01"),
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("DesiredPartitions() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("range starts at the first existing partition", func(t *testing.T) {
		s := MonthlyStrategy{Headroom: 1, DynamicSchema: "dyn"}
		current := []Partition{
			{Schema: "dyn", Name: "audit_events_000000", From: MinBound, To: ValueBound("2026-01-01")},
			monthly("audit_events_202601", "2026-01-01 00:00:00", "2026-02-01 00:00:00"),
		}
		got, err := s.DesiredPartitions(ctx, nil, auditEvents, current, now)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"audit_events_000000", "audit_events_202601", "audit_events_202602",
			"audit_events_202603", "audit_events_202604",
		}, names(got))
	})

	t.Run("retention starts at the oldest active month", func(t *testing.T) {
		s := MonthlyStrategy{RetainFor: 1, Headroom: 1, DynamicSchema: "dyn"}
		current := []Partition{
			{Schema: "dyn", Name: "audit_events_000000", From: MinBound, To: ValueBound("2026-01-01")},
			monthly("audit_events_202601", "2026-01-01", "2026-02-01"),
		}
		got, err := s.DesiredPartitions(ctx, nil, auditEvents, current, now)
		require.NoError(t, err)
		assert.Equal(t, []string{"audit_events_202602", "audit_events_202603", "audit_events_202604"}, names(got))
	})

	t.Run("default headroom is six months", func(t *testing.T) {
		got, err := MonthlyStrategy{}.DesiredPartitions(ctx, nil, auditEvents, nil, now)
		require.NoError(t, err)
		require.Len(t, got, 1+7)
		assert.Equal(t, "public", got[0].Schema, "falls back to the model schema")
		assert.Equal(t, "audit_events_202609", got[len(got)-1].Name)
	})
}

func TestMonthlyStrategy_Prunable(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	s := MonthlyStrategy{RetainFor: 1}

	assert.True(t, s.Prunable(Partition{From: MinBound, To: ValueBound("2026-01-01")}, now))
	assert.True(t, s.Prunable(monthly("x", "2026-01-01", "2026-02-01"), now))
	assert.False(t, s.Prunable(monthly("x", "2026-02-01", "2026-03-01"), now))
	assert.False(t, s.Prunable(monthly("x", "bogus", "bogus"), now))
	assert.False(t, MonthlyStrategy{}.Prunable(monthly("x", "2020-01-01", "2020-02-01"), now), "no retention keeps everything")
}

func TestIntRangeStrategy_DesiredPartitions(t *testing.T) {
	ctx := context.Background()
	model := Model{Database: "ci", Schema: "public", Table: "ci_builds", PartitionKey: "partition_id"}
	s := IntRangeStrategy{PartitionSize: 100, Ahead: 2}

	t.Run("empty table starts at one", func(t *testing.T) {
		cat := newFakeCatalog()
		got, err := s.DesiredPartitions(ctx, cat, model, nil, time.Time{})
		require.NoError(t, err)
		want := []Partition{
			{Schema: "public", Name: "ci_builds_1", From: ValueBound("1"), To: ValueBound("101")},
			{Schema: "public", Name: "ci_builds_2", From: ValueBound("101"), To: ValueBound("201")},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("DesiredPartitions() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("keeps enough empty partitions past the max key", func(t *testing.T) {
		cat := newFakeCatalog()
		cat.maxKeys[model.QualifiedName()] = 150
		current := []Partition{
			{Schema: "public", Name: "ci_builds_1", From: ValueBound("1"), To: ValueBound("101")},
			{Schema: "public", Name: "ci_builds_2", From: ValueBound("101"), To: ValueBound("201")},
		}

		got, err := s.DesiredPartitions(ctx, cat, model, current, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, []string{"ci_builds_1", "ci_builds_2", "ci_builds_3", "ci_builds_4"}, names(got))
	})

	t.Run("keys past the last partition are refused", func(t *testing.T) {
		cat := newFakeCatalog()
		cat.maxKeys[model.QualifiedName()] = 5_000_000
		current := []Partition{{Schema: "public", Name: "ci_builds_1", From: ValueBound("1"), To: ValueBound("101")}}

		got, err := s.DesiredPartitions(ctx, cat, model, current, time.Time{})
		require.ErrorIs(t, err, ErrKeysOutsidePartitions)
		assert.Nil(t, got)
		assert.Contains(t, err.Error(), "MAX(partition_id) = 5000000 but partitions end at 101")
	})

	t.Run("rows without any range partition are refused", func(t *testing.T) {
		cat := newFakeCatalog()
		cat.maxKeys[model.QualifiedName()] = 7

		_, err := s.DesiredPartitions(ctx, cat, model, nil, time.Time{})
		assert.ErrorIs(t, err, ErrKeysOutsidePartitions)
	})

	t.Run("nothing to add when headroom exists", func(t *testing.T) {
		cat := newFakeCatalog()
		cat.maxKeys[model.QualifiedName()] = 50
		current := []Partition{
			{Schema: "public", Name: "ci_builds_3", From: ValueBound("201"), To: ValueBound("301")},
			{Schema: "public", Name: "ci_builds_1", From: ValueBound("1"), To: ValueBound("101")},
			{Schema: "public", Name: "ci_builds_2", From: ValueBound("101"), To: ValueBound("201")},
		}
		got, err := s.DesiredPartitions(ctx, cat, model, current, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, []string{"ci_builds_1", "ci_builds_2", "ci_builds_3"}, names(got), "returned in ascending bound order")
	})

	t.Run("never prunable", func(t *testing.T) {
		assert.False(t, s.Prunable(Partition{From: ValueBound("1"), To: ValueBound("101")}, time.Now()))
	})
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy(StrategyOptions{Kind: KindMonthly, RetainFor: 12, DynamicSchema: "dyn"})
	require.NoError(t, err)
	assert.Equal(t, MonthlyStrategy{RetainFor: 12, DynamicSchema: "dyn"}, s)

	s, err = NewStrategy(StrategyOptions{Kind: KindIntRange, PartitionSize: 100})
	require.NoError(t, err)
	assert.Equal(t, KindIntRange, s.Name())

	_, err = NewStrategy(StrategyOptions{Kind: KindIntRange})
	assert.Error(t, err)

	_, err = NewStrategy(StrategyOptions{Kind: "weekly"})
	assert.ErrorContains(t, err, `unknown partitioning strategy "weekly"`)
}

func TestPartitionSQL(t *testing.T) {
	p := monthly("audit_events_202603", "2026-03-01", "2026-04-01")
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "dyn"."audit_events_202603" PARTITION OF "public"."audit_events" FOR VALUES FROM ('2026-03-01') TO ('2026-04-01')`,
		p.CreateSQL(auditEvents))
	assert.Equal(t,
		`ALTER TABLE "public"."audit_events" DETACH PARTITION "dyn"."audit_events_202603"`,
		p.DetachSQL(auditEvents))

	initial := Partition{Schema: "dyn", Name: "audit_events_000000", From: MinBound, To: ValueBound("2026-03-01")}
	assert.Contains(t, initial.CreateSQL(auditEvents), "FROM (MINVALUE) TO ('2026-03-01')")
}

func TestSortPartitions(t *testing.T) {
	parts := []Partition{
		{Name: "t_10", From: ValueBound("901")},
		{Name: "t_2", From: ValueBound("101")},
		{Name: "t_0", From: MinBound},
	}
	SortPartitions(parts)
	assert.Equal(t, []string{"t_0", "t_2", "t_10"}, names(parts), "integers compare numerically")
}

func TestRegistry(t *testing.T) {
	strategy := MonthlyStrategy{}
	core := []Model{
		{Database: "main", Schema: "public", Table: "audit_events", Strategy: strategy},
		{Database: "ci", Schema: "public", Table: "ci_builds", Strategy: strategy},
	}
	ext := []Model{{Database: "main", Schema: "public", Table: "incident_events", Strategy: strategy}}

	t.Run("concatenates core and extension models", func(t *testing.T) {
		r, err := NewRegistry(core, ext)
		require.NoError(t, err)
		require.Len(t, r.Models(), 3)

		groups := r.ByDatabase()
		assert.Len(t, groups["main"], 2)
		assert.Equal(t, "incident_events", groups["main"][1].Table)
		assert.Len(t, groups["ci"], 1)
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		_, err := NewRegistry(core, core[:1])
		assert.ErrorContains(t, err, "registered twice")
	})

	t.Run("same table in another database is allowed", func(t *testing.T) {
		other := []Model{{Database: "sec", Schema: "public", Table: "audit_events", Strategy: strategy}}
		_, err := NewRegistry(core, other)
		assert.NoError(t, err)
	})

	t.Run("rejects models without a strategy", func(t *testing.T) {
		_, err := NewRegistry([]Model{{Database: "main", Schema: "public", Table: "t"}})
		assert.ErrorContains(t, err, "no partitioning strategy")
	})
}
