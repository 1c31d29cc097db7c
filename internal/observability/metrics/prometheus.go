// Package metrics provides Prometheus metrics for the care pathway platform.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	OverridesSaved      prometheus.Counter
	OverridesRejected   prometheus.Counter
	DeviationsDetected  *prometheus.CounterVec
	PathwaysPublished   prometheus.Counter
	ChangesUndone       prometheus.Counter
	AssignmentsCreated  prometheus.Counter
	StepsAdjusted       prometheus.Counter
	AnalysisDuration    prometheus.Histogram
	ActiveAssignments   prometheus.Gauge
	OutboxPending       prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all metrics.
func New() *Metrics {
	m := &Metrics{
		OverridesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pathway_overrides_saved_total",
			Help: "Total pathway overrides saved",
		}),
		OverridesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pathway_overrides_rejected_total",
			Help: "Total pathway overrides rejected by acceptability checks",
		}),
		DeviationsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pathway_deviations_detected_total",
			Help: "Total guideline deviations detected, by risk level",
		}, []string{"risk"}),
		PathwaysPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pathway_configurations_published_total",
			Help: "Total pathway configurations published",
		}),
		ChangesUndone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pathway_changes_undone_total",
			Help: "Total configuration changes undone",
		}),
		AssignmentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patient_assignments_created_total",
			Help: "Total patient pathway assignments created",
		}),
		StepsAdjusted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patient_steps_adjusted_total",
			Help: "Total per-patient step adjustments",
		}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "deviation_analysis_duration_seconds",
			Help:    "Deviation analysis duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		ActiveAssignments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patient_assignments_active",
			Help: "Currently active patient assignments",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.OverridesSaved,
		m.OverridesRejected,
		m.DeviationsDetected,
		m.PathwaysPublished,
		m.ChangesUndone,
		m.AssignmentsCreated,
		m.StepsAdjusted,
		m.AnalysisDuration,
		m.ActiveAssignments,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
