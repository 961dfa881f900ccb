// Package metrics exposes Prometheus instrumentation for rule application,
// learning and oracle calls. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ruleloop"

// Metrics holds the collectors, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// applyDuration measures one Apply pass.
	// Labels: module
	applyDuration *prometheus.HistogramVec

	// rulesFired counts rules whose action was applied.
	// Labels: tenant, module
	rulesFired *prometheus.CounterVec

	// ruleErrors counts rules skipped because evaluation failed.
	// Labels: tenant, module
	ruleErrors *prometheus.CounterVec

	// learnOutcomes counts LearnFromCorrection results.
	// Labels: outcome (created, reinforced, no_rule, already_applied)
	learnOutcomes *prometheus.CounterVec

	// oracleCalls counts Propose calls.
	// Labels: status (ok, timeout, unavailable, malformed)
	oracleCalls *prometheus.CounterVec

	oracleLatency prometheus.Histogram
}

// New creates a Metrics with its own registry, including Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		applyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "apply_duration_seconds",
			Help:      "Duration of one rule application pass",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"module"}),
		rulesFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rules_fired_total",
			Help:      "Rules whose action was applied to a record",
		}, []string{"tenant", "module"}),
		ruleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rule_errors_total",
			Help:      "Rules skipped because their condition or action could not be evaluated",
		}, []string{"tenant", "module"}),
		learnOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "learning",
			Name:      "corrections_total",
			Help:      "Corrections processed by the learning loop, by outcome",
		}, []string{"outcome"}),
		oracleCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "calls_total",
			Help:      "Extraction oracle calls by status",
		}, []string{"status"}),
		oracleLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "latency_seconds",
			Help:      "Extraction oracle call latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveApply records the duration of an Apply pass.
func (m *Metrics) ObserveApply(module string, d time.Duration) {
	if m == nil {
		return
	}
	m.applyDuration.WithLabelValues(module).Observe(d.Seconds())
}

// RuleFired counts one applied rule.
func (m *Metrics) RuleFired(tenant, module string) {
	if m == nil {
		return
	}
	m.rulesFired.WithLabelValues(tenant, module).Inc()
}

// RuleError counts one rule skipped on an evaluation error.
func (m *Metrics) RuleError(tenant, module string) {
	if m == nil {
		return
	}
	m.ruleErrors.WithLabelValues(tenant, module).Inc()
}

// LearnOutcome counts one learning result.
func (m *Metrics) LearnOutcome(outcome string) {
	if m == nil {
		return
	}
	m.learnOutcomes.WithLabelValues(outcome).Inc()
}

// OracleCall records one oracle call with its status and latency.
func (m *Metrics) OracleCall(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.oracleCalls.WithLabelValues(status).Inc()
	m.oracleLatency.Observe(d.Seconds())
}
