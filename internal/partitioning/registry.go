package partitioning

import "fmt"

// Registry is the set of models under management: core models followed by
// any extension models.
type Registry struct {
	models []Model
}

// NewRegistry concatenates the model lists. Registering the same table twice
// in one database is an error.
func NewRegistry(core []Model, extensions ...[]Model) (*Registry, error) {
	all := append([]Model(nil), core...)
	for _, ext := range extensions {
		all = append(all, ext...)
	}

	seen := make(map[string]struct{}, len(all))
	for _, m := range all {
		if m.Table == "" {
			return nil, fmt.Errorf("model in database %q has no table name", m.Database)
		}
		if m.Strategy == nil {
			return nil, fmt.Errorf("model %s has no partitioning strategy", m.QualifiedName())
		}
		key := m.Database + "/" + m.QualifiedName()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("model %s registered twice for database %q", m.QualifiedName(), m.Database)
		}
		seen[key] = struct{}{}
	}
	return &Registry{models: all}, nil
}

// Models returns the registered models in registration order.
func (r *Registry) Models() []Model {
	return append([]Model(nil), r.models...)
}

// ByDatabase groups the models by database, preserving registration order within each group.
func (r *Registry) ByDatabase() map[string][]Model {
	groups, _ := groupByDatabase(r.models)
	return groups
}

// groupByDatabase also returns the databases in first-seen order.
func groupByDatabase(models []Model) (map[string][]Model, []string) {
	groups := make(map[string][]Model)
	var order []string
	for _, m := range models {
		if _, ok := groups[m.Database]; !ok {
			order = append(order, m.Database)
		}
		groups[m.Database] = append(groups[m.Database], m)
	}
	return groups, order
}
