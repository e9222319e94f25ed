// Package partitioning keeps time- and id-partitioned tables supplied with
// partitions ahead of the data and detaches the ones that fell out of retention.
package partitioning

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Model is a partitioned table registered for management.
type Model struct {
	Database     string
	Schema       string
	Table        string
	PartitionKey string
	Strategy     Strategy
}

// QualifiedName returns schema.table.
func (m Model) QualifiedName() string {
	return m.Schema + "." + m.Table
}

func (m Model) ident() string {
	return pgx.Identifier{m.Schema, m.Table}.Sanitize()
}

// Bound is one side of a range partition bound.
type Bound struct {
	Value string
	// Min marks MINVALUE; Value is ignored.
	Min bool
}

// MinBound is the MINVALUE bound.
var MinBound = Bound{Min: true}

// ValueBound returns a bound holding a literal value.
func ValueBound(v string) Bound { return Bound{Value: v} }

// SQL renders the bound as it appears inside FOR VALUES FROM (...) TO (...).
func (b Bound) SQL() string {
	if b.Min {
		return "MINVALUE"
	}
	return "'" + strings.ReplaceAll(b.Value, "'", "''") + "'"
}

func (b Bound) String() string {
	if b.Min {
		return "MINVALUE"
	}
	return b.Value
}

// compareBounds orders MINVALUE first, integers numerically and everything else lexically.
func compareBounds(a, b Bound) int {
	switch {
	case a.Min && b.Min:
		return 0
	case a.Min:
		return -1
	case b.Min:
		return 1
	}
	ai, aerr := strconv.ParseInt(a.Value, 10, 64)
	bi, berr := strconv.ParseInt(b.Value, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(a.Value, b.Value)
}

// Partition is a single range partition of a Model.
type Partition struct {
	Schema string
	Name   string
	From   Bound
	To     Bound
}

// QualifiedName returns schema.name.
func (p Partition) QualifiedName() string {
	return p.Schema + "." + p.Name
}

func (p Partition) ident() string {
	return pgx.Identifier{p.Schema, p.Name}.Sanitize()
}

// CreateSQL returns the DDL attaching a new partition to parent.
func (p Partition) CreateSQL(parent Model) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM (%s) TO (%s)",
		p.ident(), parent.ident(), p.From.SQL(), p.To.SQL())
}

// DetachSQL returns the DDL detaching the partition from parent.
func (p Partition) DetachSQL(parent Model) string {
	return fmt.Sprintf("ALTER TABLE %s DETACH PARTITION %s", parent.ident(), p.ident())
}

func (p Partition) String() string {
	return fmt.Sprintf("%s [%s, %s)", p.QualifiedName(), p.From, p.To)
}

// SortPartitions orders partitions by lower bound, ascending.
func SortPartitions(parts []Partition) {
	sort.SliceStable(parts, func(i, j int) bool {
		return compareBounds(parts[i].From, parts[j].From) < 0
	})
}

// diff returns the partitions to create (desired but absent, in ascending
// order) and the ones to detach (present, not desired, and prunable).
func diff(current, desired []Partition, s Strategy, now time.Time) (missing, extra []Partition) {
	have := make(map[string]struct{}, len(current))
	for _, p := range current {
		have[p.QualifiedName()] = struct{}{}
	}
	want := make(map[string]struct{}, len(desired))
	for _, p := range desired {
		want[p.QualifiedName()] = struct{}{}
		if _, ok := have[p.QualifiedName()]; !ok {
			missing = append(missing, p)
		}
	}
	for _, p := range current {
		if _, ok := want[p.QualifiedName()]; ok {
			continue
		}
		if s.Prunable(p, now) {
			extra = append(extra, p)
		}
	}
	SortPartitions(missing)
	SortPartitions(extra)
	return missing, extra
}
