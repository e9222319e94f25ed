// File: internal/adapt/controller.go
package adapt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pacer/internal/metrics"
)

// Migration is the view of a batched background migration the controller needs.
// Hold and Optimize are the entity's own transition methods; the controller
// never writes migration state directly.
type Migration interface {
	ID() int64
	JobClassName() string
	AdaptContext() Context
	Hold(ctx context.Context) error
	Optimize(ctx context.Context) error
}

// ErrorReporter receives indicator failures together with correlation fields.
type ErrorReporter interface {
	Report(err error, fields map[string]any)
}

// errNoIndicator is reported when neither the caller nor the controller supplies an indicator.
var errNoIndicator = errors.New("no indicator configured")

type nopReporter struct{}

func (nopReporter) Report(error, map[string]any) {}

// Controller turns indicator signals into migration state transitions.
// It holds no per-migration state, so one Controller may serve concurrent
// Adapt calls for different migrations.
type Controller struct {
	logger           *zap.Logger
	reporter         ErrorReporter
	defaultIndicator Indicator
}

// Option configures a Controller.
type Option func(*Controller)

// WithDefaultIndicator sets the indicator used when Adapt is called with a nil indicator.
func WithDefaultIndicator(ind Indicator) Option {
	return func(c *Controller) {
		c.defaultIndicator = ind
	}
}

// NewController creates a controller. A nil reporter discards reports.
func NewController(logger *zap.Logger, reporter ErrorReporter, opts ...Option) *Controller {
	if reporter == nil {
		reporter = nopReporter{}
	}
	c := &Controller{
		logger:   logger.Named("adapt"),
		reporter: reporter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Adapt evaluates ind against the migration and applies the resulting decision:
// Stop holds the migration, Normal optimizes it, Unknown is logged and nothing
// else happens. Indicator failures never escape Adapt; they become Unknown.
// Errors from Hold or Optimize are returned to the caller.
func (c *Controller) Adapt(ctx context.Context, m Migration, ind Indicator) (Signal, error) {
	if ind == nil {
		ind = c.defaultIndicator
	}

	name := indicatorName(ind)
	sig := c.evaluate(ctx, m, ind, name)

	fields := []zap.Field{
		zap.Int64("migration_id", m.ID()),
		zap.String("job_class_name", m.JobClassName()),
	}

	switch s := sig.(type) {
	case StopSignal:
		c.record(name, s)
		c.logger.Info("Holding migration due to contention signal", append(fields, zap.String("reason", s.Reason))...)
		metrics.TransitionsTotal.WithLabelValues("hold").Inc()
		if err := m.Hold(ctx); err != nil {
			return sig, fmt.Errorf("failed to hold migration %d: %w", m.ID(), err)
		}
	case NormalSignal:
		c.record(name, s)
		c.logger.Debug("Optimizing migration", fields...)
		metrics.TransitionsTotal.WithLabelValues("optimize").Inc()
		if err := m.Optimize(ctx); err != nil {
			return sig, fmt.Errorf("failed to optimize migration %d: %w", m.ID(), err)
		}
	case UnknownSignal:
		c.record(name, s)
		c.logger.Error("Unknown signal from indicator, leaving migration as is",
			append(fields, zap.String("indicator", s.Indicator), zap.String("reason", s.Reason))...)
	default:
		// Unrecognized or missing signal: nothing to do.
	}
	return sig, nil
}

// evaluate runs the indicator and converts any error or panic into an Unknown signal.
func (c *Controller) evaluate(ctx context.Context, m Migration, ind Indicator, name string) (sig Signal) {
	if ind == nil {
		return c.downgrade(m, name, errNoIndicator)
	}

	start := time.Now()
	defer func() {
		metrics.IndicatorDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()
	defer func() {
		if r := recover(); r != nil {
			sig = c.downgrade(m, name, fmt.Errorf("indicator panicked: %v", r))
		}
	}()

	s, err := ind.Evaluate(ctx, m.AdaptContext())
	if err != nil {
		return c.downgrade(m, name, err)
	}
	return s
}

func (c *Controller) downgrade(m Migration, indicator string, err error) Signal {
	metrics.IndicatorErrorsTotal.WithLabelValues(indicator).Inc()
	c.reporter.Report(err, map[string]any{
		"migration_id":   m.ID(),
		"job_class_name": m.JobClassName(),
		"indicator":      indicator,
	})
	return Unknown(indicator, "unknown error: "+err.Error())
}

func (c *Controller) record(name string, s Signal) {
	metrics.SignalsTotal.WithLabelValues(name, string(s.Kind())).Inc()
}

// indicatorName returns ind.Name(), "none" for a nil indicator and "unknown"
// when Name panics.
func indicatorName(ind Indicator) (name string) {
	if ind == nil {
		return "none"
	}
	defer func() {
		if r := recover(); r != nil {
			name = "unknown"
		}
	}()
	return ind.Name()
}
