// File: internal/adapt/indicator.go
package adapt

import "context"

// Indicator inspects live database state for the tables in a Context and
// produces exactly one Signal. Implementations must not mutate anything.
// Returning an error is allowed; the Controller downgrades it to Unknown.
type Indicator interface {
	Name() string
	Evaluate(ctx context.Context, mc Context) (Signal, error)
}

// IndicatorFunc adapts a plain function into an Indicator.
type IndicatorFunc struct {
	IndicatorName string
	Fn            func(ctx context.Context, mc Context) (Signal, error)
}

// Name implements Indicator.
func (f IndicatorFunc) Name() string { return f.IndicatorName }

// Evaluate implements Indicator.
func (f IndicatorFunc) Evaluate(ctx context.Context, mc Context) (Signal, error) {
	return f.Fn(ctx, mc)
}
