// Package metrics provides Prometheus metrics for pacer: indicator signals,
// migration transitions and partition reconciliation.
package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ─── Adaptive control loop ──────────────────────────────────────────────────

// SignalsTotal counts signals acted on, by indicator and signal kind.
var SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pacer",
	Name:      "signals_total",
	Help:      "Signals produced by health indicators.",
}, []string{"indicator", "signal"})

// TransitionsTotal counts hold/optimize transitions requested on migrations.
var TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pacer",
	Name:      "transitions_total",
	Help:      "Migration state transitions requested by the controller.",
}, []string{"transition"})

// IndicatorErrorsTotal counts indicator evaluations that failed and were downgraded.
var IndicatorErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pacer",
	Name:      "indicator_errors_total",
	Help:      "Indicator evaluations that returned an error or panicked.",
}, []string{"indicator"})

// IndicatorDuration tracks how long indicator evaluation takes.
var IndicatorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "pacer",
	Name:      "indicator_duration_seconds",
	Help:      "Indicator evaluation duration in seconds.",
	Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
}, []string{"indicator"})

// AdaptTicks counts scheduler passes over active migrations.
var AdaptTicks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pacer",
	Name:      "adapt_ticks_total",
	Help:      "Scheduler passes over active migrations.",
})

// ─── Partitions ─────────────────────────────────────────────────────────────

// PartitionOperations counts partition DDL issued on a parent table, by operation (create, detach).
var PartitionOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pacer",
	Name:      "partition_operations_total",
	Help:      "Partition DDL operations issued.",
}, []string{"database", "table", "operation"})

// DetachedPartitionDrops counts processed detached partitions by outcome
// (dropped, reattached, missing). Partition names are left out to keep
// cardinality bounded.
var DetachedPartitionDrops = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pacer",
	Name:      "detached_partition_drops_total",
	Help:      "Detached partitions processed by the dropper, by outcome.",
}, []string{"database", "outcome"})

// PartitionSyncFailures counts tables whose reconciliation failed.
var PartitionSyncFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pacer",
	Name:      "partition_sync_failures_total",
	Help:      "Tables whose partition reconciliation failed.",
}, []string{"database", "table"})

// NewRouter returns an HTTP handler exposing /metrics and /healthz.
func NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
