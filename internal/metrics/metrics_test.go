package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// counterValue sums the samples of a counter family with the given labels.
func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metric:
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metric
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.RuleFired("acme", "attendance")
	m.RuleError("acme", "attendance")
	m.ObserveApply("attendance", time.Millisecond)
	m.LearnOutcome("created")
	m.OracleCall("ok", time.Second)
	if m.Registry() != nil {
		t.Error("nil Metrics should have no registry")
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.RuleFired("acme", "attendance")
	m.RuleFired("acme", "attendance")
	m.RuleError("acme", "payslip")
	m.LearnOutcome("reinforced")

	if got := counterValue(t, m, "ruleloop_engine_rules_fired_total", map[string]string{"tenant": "acme", "module": "attendance"}); got != 2 {
		t.Errorf("rules fired = %v, want 2", got)
	}
	if got := counterValue(t, m, "ruleloop_engine_rule_errors_total", map[string]string{"tenant": "acme", "module": "payslip"}); got != 1 {
		t.Errorf("rule errors = %v, want 1", got)
	}
	if got := counterValue(t, m, "ruleloop_learning_corrections_total", map[string]string{"outcome": "reinforced"}); got != 1 {
		t.Errorf("learn outcomes = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.OracleCall("timeout", 2*time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `ruleloop_oracle_calls_total{status="timeout"} 1`) {
		t.Errorf("exposition missing oracle counter:\n%s", body)
	}
}
