package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	BillsGenerated    *prometheus.CounterVec
	PenaltiesApplied  prometheus.Counter
	ExemptionsGranted prometheus.Counter
	SchedulerRuns     *prometheus.CounterVec
	SchedulerErrors   prometheus.Counter
}

// NewMetrics creates and registers all metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		BillsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_bills_generated_total",
				Help: "Bills materialized from templates",
			},
			[]string{"mode"},
		),
		PenaltiesApplied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_penalties_applied_total",
				Help: "Overdue bills that received a penalty",
			},
		),
		ExemptionsGranted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_exemptions_granted_total",
				Help: "Penalties waived through the exemption workflow",
			},
		),
		SchedulerRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_scheduler_runs_total",
				Help: "Scheduler sweeps by trigger",
			},
			[]string{"trigger"},
		),
		SchedulerErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_scheduler_errors_total",
				Help: "Per-item failures isolated during scheduler sweeps",
			},
		),
	}

	registry.MustRegister(
		m.BillsGenerated,
		m.PenaltiesApplied,
		m.ExemptionsGranted,
		m.SchedulerRuns,
		m.SchedulerErrors,
	)
	return m
}

// HTTPHandler serves the /metrics endpoint.
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
