package http

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// gatherMetric returns the family with the given name, or nil.
func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, func() int64 { return 7 })

	m.TurnsTotal.WithLabelValues("student", "ok").Inc()
	m.TurnsTotal.WithLabelValues("student", "ok").Inc()
	m.ToolCallsTotal.WithLabelValues("get_student_info", "error").Inc()
	m.TurnRounds.Observe(3)

	turns := gatherMetric(t, reg, "chalkline_turns_total")
	if turns == nil {
		t.Fatal("chalkline_turns_total not registered")
	}
	if got := turns.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("turns counter = %v, want 2", got)
	}

	calls := gatherMetric(t, reg, "chalkline_tool_calls_total")
	if calls == nil {
		t.Fatal("chalkline_tool_calls_total not registered")
	}
	labels := calls.GetMetric()[0].GetLabel()
	if len(labels) != 2 || labels[0].GetValue() != "get_student_info" {
		t.Errorf("tool call labels = %v", labels)
	}

	drops := gatherMetric(t, reg, "chalkline_audit_drops_total")
	if drops == nil {
		t.Fatal("chalkline_audit_drops_total not registered")
	}
	if got := drops.GetMetric()[0].GetCounter().GetValue(); got != 7 {
		t.Errorf("audit drops = %v, want 7", got)
	}

	rounds := gatherMetric(t, reg, "chalkline_turn_rounds")
	if rounds == nil {
		t.Fatal("chalkline_turn_rounds not registered")
	}
	if got := rounds.GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("rounds sample count = %d, want 1", got)
	}
}

func TestMetricsWithoutAuditService(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, nil)
	if m.AuditDropsTotal != nil {
		t.Error("AuditDropsTotal registered without a drop source")
	}
	if gatherMetric(t, reg, "chalkline_audit_drops_total") != nil {
		t.Error("audit drops family present without a drop source")
	}
}
