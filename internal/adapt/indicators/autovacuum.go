package indicators

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pacer/internal/adapt"
	"github.com/xkilldash9x/pacer/internal/store"
)

// AutovacuumName is the name the autovacuum indicator reports in signals and metrics.
const AutovacuumName = "autovacuum"

// DefaultIndicatorTimeout bounds a single catalog query when no timeout is configured.
const DefaultIndicatorTimeout = 5 * time.Second

// activeAutovacuumQuery lists relations currently being vacuumed by an
// autovacuum worker. $1 may contain bare or schema-qualified names.
const activeAutovacuumQuery = `
        SELECT n.nspname, c.relname
        FROM pg_stat_activity a
        JOIN pg_stat_progress_vacuum p ON p.pid = a.pid
        JOIN pg_class c ON c.oid = p.relid
        JOIN pg_namespace n ON n.oid = c.relnamespace
        WHERE a.backend_type = 'autovacuum worker'
          AND (c.relname = ANY($1) OR n.nspname || '.' || c.relname = ANY($1));`

// Autovacuum stops a migration while autovacuum is working on one of its tables.
type Autovacuum struct {
	pool    store.DBPool
	timeout time.Duration
	logger  *zap.Logger
}

var _ adapt.Indicator = (*Autovacuum)(nil)

// NewAutovacuum creates the autovacuum indicator. A non-positive timeout uses DefaultIndicatorTimeout.
func NewAutovacuum(pool store.DBPool, timeout time.Duration, logger *zap.Logger) *Autovacuum {
	if timeout <= 0 {
		timeout = DefaultIndicatorTimeout
	}
	return &Autovacuum{
		pool:    pool,
		timeout: timeout,
		logger:  logger.Named("indicator.autovacuum"),
	}
}

// Name implements adapt.Indicator.
func (a *Autovacuum) Name() string { return AutovacuumName }

// Evaluate implements adapt.Indicator.
func (a *Autovacuum) Evaluate(ctx context.Context, mc adapt.Context) (adapt.Signal, error) {
	if mc.Empty() {
		return adapt.Normal(), nil
	}
	tables := mc.Tables()

	qctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	rows, err := a.pool.Query(qctx, activeAutovacuumQuery, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to query autovacuum activity: %w", err)
	}
	defer rows.Close()

	vacuuming := make(map[string]struct{})
	for rows.Next() {
		var schema, relname string
		if err := rows.Scan(&schema, &relname); err != nil {
			return nil, fmt.Errorf("failed to scan autovacuum row: %w", err)
		}
		vacuuming[relname] = struct{}{}
		vacuuming[schema+"."+relname] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	var hits []string
	for _, t := range tables {
		if _, ok := vacuuming[t]; ok {
			hits = append(hits, t)
		}
	}
	if len(hits) == 0 {
		return adapt.Normal(), nil
	}

	a.logger.Debug("Autovacuum active on migration tables", zap.Strings("tables", hits))
	return adapt.Stop("autovacuum running on: " + strings.Join(hits, ", ")), nil
}
