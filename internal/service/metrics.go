package service

import (
	"net/http"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for decision cycles. Each instance
// owns its registry, so tests can create as many as they like.
type Metrics struct {
	CyclesTotal    *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	SwapsTotal     *prometheus.CounterVec
	RetriesTotal   *prometheus.CounterVec
	WarningsTotal  *prometheus.CounterVec
	LiveRegion     *prometheus.GaugeVec
	RegionHealth   *prometheus.GaugeVec
	ReconcileSkips prometheus.Counter
	registry       *prometheus.Registry
}

// NewMetrics creates and registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "region_failover_cycles_total",
				Help: "Decision cycles by event kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "region_failover_cycle_duration_seconds",
				Help:    "Wall time of a decision cycle including retries",
				Buckets: prometheus.DefBuckets,
			},
		),
		SwapsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "region_failover_swaps_total",
				Help: "DNS swaps applied, by new LIVE region",
			},
			[]string{"target"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "region_failover_cycle_retries_total",
				Help: "Cycle attempts repeated after a retryable error, by error code",
			},
			[]string{"code"},
		),
		WarningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "region_failover_warnings_total",
				Help: "Degraded inputs resolved locally, by warning code",
			},
			[]string{"code"},
		),
		LiveRegion: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "region_failover_live_region",
				Help: "1 for the region last observed holding LIVE, 0 otherwise",
			},
			[]string{"region"},
		),
		RegionHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "region_failover_region_health_state",
				Help: "Last classified health per region (1 healthy, 0 unhealthy, -1 unknown)",
			},
			[]string{"region"},
		),
		ReconcileSkips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "region_failover_reconcile_collapsed_total",
				Help: "Reconcile triggers whose result was shared with a concurrent trigger",
			},
		),
		registry: registry,
	}

	registry.MustRegister(m.CyclesTotal, m.CycleDuration, m.SwapsTotal, m.RetriesTotal,
		m.WarningsTotal, m.LiveRegion, m.RegionHealth, m.ReconcileSkips)

	return m
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCycle updates every collector from one finished cycle
func (m *Metrics) RecordCycle(result domain.CycleResult) {
	outcome := string(result.Decision.Outcome)
	if result.Failed() {
		outcome = "FAILED"
	}
	m.CyclesTotal.WithLabelValues(string(result.Event.Kind), outcome).Inc()
	m.CycleDuration.Observe(result.Duration.Seconds())

	for _, w := range result.Warnings {
		m.WarningsTotal.WithLabelValues(w.Code).Inc()
	}

	if result.Swap.Applied {
		m.SwapsTotal.WithLabelValues(string(result.Swap.After.Live)).Inc()
	}

	live := result.Swap.After.Live
	if live == "" {
		live = result.Before.Live
	}
	if live.Valid() {
		m.LiveRegion.WithLabelValues(string(live)).Set(1)
		m.LiveRegion.WithLabelValues(string(live.Other())).Set(0)
	}

	for id, snap := range result.Health {
		m.RegionHealth.WithLabelValues(string(id)).Set(healthGaugeValue(snap.State))
	}
}

// RecordRetry counts one repeated attempt
func (m *Metrics) RecordRetry(code string) {
	m.RetriesTotal.WithLabelValues(code).Inc()
}

func healthGaugeValue(state domain.HealthState) float64 {
	switch state {
	case domain.HealthHealthy:
		return 1
	case domain.HealthUnhealthy:
		return 0
	default:
		return -1
	}
}
