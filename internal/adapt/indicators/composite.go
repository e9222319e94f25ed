package indicators

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/xkilldash9x/pacer/internal/adapt"
)

// Composite evaluates several indicators in order. The first Stop wins. If no
// child stops, child failures are returned as one aggregated error so the
// controller reports them; otherwise the first Unknown child decides.
type Composite struct {
	children []adapt.Indicator
}

var _ adapt.Indicator = (*Composite)(nil)

// NewComposite groups children into a single indicator.
func NewComposite(children ...adapt.Indicator) *Composite {
	return &Composite{children: children}
}

// Name implements adapt.Indicator.
func (c *Composite) Name() string {
	names := make([]string, 0, len(c.children))
	for _, child := range c.children {
		names = append(names, child.Name())
	}
	return "composite(" + strings.Join(names, ",") + ")"
}

// Evaluate implements adapt.Indicator.
func (c *Composite) Evaluate(ctx context.Context, mc adapt.Context) (adapt.Signal, error) {
	var (
		unknown adapt.Signal
		errs    error
	)
	for _, child := range c.children {
		sig, err := child.Evaluate(ctx, mc)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", child.Name(), err))
			continue
		}
		switch s := sig.(type) {
		case adapt.StopSignal:
			return s, nil
		case adapt.UnknownSignal:
			if unknown == nil {
				unknown = s
			}
		case adapt.NormalSignal:
		default:
			if unknown == nil {
				unknown = adapt.Unknown(child.Name(), "no signal")
			}
		}
	}
	if errs != nil {
		return nil, errs
	}
	if unknown != nil {
		return unknown, nil
	}
	return adapt.Normal(), nil
}
