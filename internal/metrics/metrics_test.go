package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalCounters(t *testing.T) {
	before := testutil.ToFloat64(SignalsTotal.WithLabelValues("test_indicator", "stop"))
	SignalsTotal.WithLabelValues("test_indicator", "stop").Inc()
	after := testutil.ToFloat64(SignalsTotal.WithLabelValues("test_indicator", "stop"))
	assert.Equal(t, before+1, after)

	TransitionsTotal.WithLabelValues("hold").Inc()
	IndicatorErrorsTotal.WithLabelValues("test_indicator").Inc()
	IndicatorDuration.WithLabelValues("test_indicator").Observe(0.02)
	AdaptTicks.Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range []string{
		"pacer_signals_total",
		"pacer_transitions_total",
		"pacer_indicator_errors_total",
		"pacer_indicator_duration_seconds",
		"pacer_adapt_ticks_total",
	} {
		assert.True(t, names[name], "metric %q not found", name)
	}
}

func TestPartitionCounters(t *testing.T) {
	PartitionOperations.WithLabelValues("main", "public.audit_events", "create").Add(2)
	PartitionSyncFailures.WithLabelValues("ci", "public.ci_builds").Inc()
	DetachedPartitionDrops.WithLabelValues("main", "dropped").Inc()

	assert.GreaterOrEqual(t, testutil.ToFloat64(PartitionOperations.WithLabelValues("main", "public.audit_events", "create")), 2.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(PartitionSyncFailures.WithLabelValues("ci", "public.ci_builds")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(DetachedPartitionDrops.WithLabelValues("main", "dropped")), 1.0)
}

func TestNewRouter(t *testing.T) {
	srv := httptest.NewServer(NewRouter())
	defer srv.Close()

	t.Run("healthz returns ok", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", string(body))
	})

	t.Run("metrics exposes pacer namespace", func(t *testing.T) {
		AdaptTicks.Inc()
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "pacer_adapt_ticks_total")
	})
}
