// File: internal/adapt/context.go
package adapt

// Context is the minimal view of a migration handed to indicators.
// It is immutable once built.
type Context struct {
	tables []string
}

// NewContext builds a Context from the tables the migration touches, in order.
func NewContext(tables ...string) Context {
	cp := make([]string, len(tables))
	copy(cp, tables)
	return Context{tables: cp}
}

// Tables returns a copy of the context's table names.
func (c Context) Tables() []string {
	cp := make([]string, len(c.tables))
	copy(cp, c.tables)
	return cp
}

// Empty reports whether the context names no tables.
func (c Context) Empty() bool { return len(c.tables) == 0 }
