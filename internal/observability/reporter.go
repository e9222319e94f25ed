package observability

import (
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pacer/internal/adapt"
)

// ZapReporter sends tracked errors to the log at error level with their
// correlation fields attached.
type ZapReporter struct {
	logger *zap.Logger
}

var _ adapt.ErrorReporter = (*ZapReporter)(nil)

// NewZapReporter creates a reporter that logs through logger.
func NewZapReporter(logger *zap.Logger) *ZapReporter {
	return &ZapReporter{logger: logger.Named("errors")}
}

// Report implements adapt.ErrorReporter. Fields are emitted in key order.
func (r *ZapReporter) Report(err error, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	zfields := make([]zap.Field, 0, len(keys)+1)
	zfields = append(zfields, zap.Error(err))
	for _, k := range keys {
		zfields = append(zfields, zap.Any(k, fields[k]))
	}
	r.logger.Error("Tracked exception", zfields...)
}
