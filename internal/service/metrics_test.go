package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/region-failover/internal/domain"
)

func TestMetricsRecordCycle(t *testing.T) {
	m := NewMetrics()

	m.RecordCycle(domain.CycleResult{
		Event:    domain.AlarmEvent{Kind: domain.EventKindNotification},
		Decision: domain.SwitchTo(domain.RegionSecondary, "LIVE region primary in ALARM"),
		Before:   assignment(domain.RegionPrimary),
		Swap:     domain.SwapResult{Applied: true, After: assignment(domain.RegionSecondary)},
		Health: map[domain.RegionID]domain.HealthSnapshot{
			domain.RegionPrimary:   {State: domain.HealthUnhealthy},
			domain.RegionSecondary: {State: domain.HealthHealthy},
		},
		Warnings: []domain.CycleWarning{{Code: "STALE_HEALTH_DATA", Message: "old"}},
		Duration: 40 * time.Millisecond,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("notification", "SWITCH_TO")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SwapsTotal.WithLabelValues("secondary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WarningsTotal.WithLabelValues("STALE_HEALTH_DATA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LiveRegion.WithLabelValues("secondary")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LiveRegion.WithLabelValues("primary")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RegionHealth.WithLabelValues("primary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegionHealth.WithLabelValues("secondary")))
}

func TestMetricsFailedCycle(t *testing.T) {
	m := NewMetrics()

	m.RecordCycle(domain.CycleResult{
		Event:     domain.AlarmEvent{Kind: domain.EventKindReconcile},
		Error:     "boom",
		ErrorCode: "DNS_PROVIDER_ERROR",
		Health: map[domain.RegionID]domain.HealthSnapshot{
			domain.RegionPrimary: {State: domain.HealthUnknown},
		},
	})
	m.RecordRetry("DNS_SWAP_CONFLICT")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("reconcile", "FAILED")))
	assert.Equal(t, -1.0, testutil.ToFloat64(m.RegionHealth.WithLabelValues("primary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("DNS_SWAP_CONFLICT")))
}

func TestMetricsInstancesAreIndependent(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.RecordRetry("X")

	assert.Equal(t, 1, testutil.CollectAndCount(a.RetriesTotal))
	assert.Equal(t, 0, testutil.CollectAndCount(b.RetriesTotal))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.ReconcileSkips.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "region_failover_reconcile_collapsed_total 1"))
}
