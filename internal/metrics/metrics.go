// Package metrics holds the Prometheus collectors of the evaluation and
// gating pipeline on a private registry. A nil *Metrics is valid and records
// nothing, so components can take one optionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evalgate/internal/domain"
)

// Metrics is the set of collectors exported by evalgate.
type Metrics struct {
	registry *prometheus.Registry

	Evaluations      *prometheus.CounterVec
	Findings         *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	RiskChecks       *prometheus.CounterVec
	BacktestDuration prometheus.Histogram
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evalgate_evaluations_total",
				Help: "Strategy evaluations by result (passed, failed, error)",
			},
			[]string{"result"},
		),

		Findings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evalgate_audit_findings_total",
				Help: "Audit findings by category and severity",
			},
			[]string{"category", "severity"},
		),

		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evalgate_promotion_transitions_total",
				Help: "Promotion state transitions by from/to state",
			},
			[]string{"from", "to"},
		),

		RiskChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evalgate_risk_checks_total",
				Help: "RiskGate decisions by result and rejection reason",
			},
			[]string{"result", "reason"},
		),

		BacktestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "evalgate_backtest_duration_seconds",
				Help:    "Wall time of one walk-forward backtest",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),
	}
	m.registry.MustRegister(m.Evaluations, m.Findings, m.Transitions, m.RiskChecks, m.BacktestDuration)
	return m
}

// Registry exposes the private registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEvaluation counts one evaluation and its findings.
func (m *Metrics) ObserveEvaluation(result string, findings []domain.Finding, took time.Duration) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(result).Inc()
	for _, f := range findings {
		m.Findings.WithLabelValues(string(f.Category), string(f.Severity)).Inc()
	}
	if took > 0 {
		m.BacktestDuration.Observe(took.Seconds())
	}
}

// ObserveTransition counts one promotion state change.
func (m *Metrics) ObserveTransition(from, to domain.PromotionState) {
	if m == nil {
		return
	}
	if from == "" {
		from = "new"
	}
	m.Transitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObserveRiskCheck counts one RiskGate decision. reason is empty for
// approved orders.
func (m *Metrics) ObserveRiskCheck(approved bool, reason string) {
	if m == nil {
		return
	}
	result := "rejected"
	if approved {
		result = "approved"
	}
	m.RiskChecks.WithLabelValues(result, reason).Inc()
}
