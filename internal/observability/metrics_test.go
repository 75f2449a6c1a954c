package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordLaneJob("success", 0.1)
	m.SetLaneQueueDepth(3)
	m.RecordTurn("text", "", 1)
	m.RecordLLMRequest("anthropic", "m", "success", 1, 1, 1)
	m.RecordToolExecution("read_file", "success", 0.1)
	m.RecordApproval(true, "user", 1)
	m.SetPendingApprovals(1)
	m.RecordHTTPRequest("GET", "/healthz", "200", 0.01)
}

func TestMetrics_RecordApproval(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordApproval(true, "user", 2)
	m.RecordApproval(false, "timeout", 60)
	m.RecordApproval(false, "timeout", 60)
	m.RecordApproval(true, "policy", -1)

	expected := `
		# HELP warden_approvals_total Total number of approval decisions by decision and source
		# TYPE warden_approvals_total counter
		warden_approvals_total{decision="approved",source="policy"} 1
		warden_approvals_total{decision="approved",source="user"} 1
		warden_approvals_total{decision="denied",source="timeout"} 2
	`
	if err := testutil.CollectAndCompare(m.Approvals, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
	if count := testutil.CollectAndCount(m.ApprovalWait); count != 1 {
		t.Errorf("expected 1 histogram series, got %d", count)
	}
}

func TestMetrics_RecordLLMRequest(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())
	m.RecordLLMRequest("openai", "gpt-4o", "success", 0.5, 100, 0)

	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("openai", "gpt-4o", "prompt")); got != 100 {
		t.Errorf("prompt tokens = %v, want 100", got)
	}
	if count := testutil.CollectAndCount(m.LLMTokensUsed); count != 1 {
		t.Errorf("zero completion tokens should not create a series, got %d series", count)
	}
}

func TestMetrics_Gauges(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())
	m.SetLaneQueueDepth(4)
	m.SetPendingApprovals(2)

	if got := testutil.ToFloat64(m.LaneQueueDepth); got != 4 {
		t.Errorf("queue depth = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.PendingApprovals); got != 2 {
		t.Errorf("pending approvals = %v, want 2", got)
	}
}

func TestMetrics_RecordTurn(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())
	m.RecordTurn("error", "MAX_ITERATIONS", 20)
	if got := testutil.ToFloat64(m.Turns.WithLabelValues("error", "MAX_ITERATIONS")); got != 1 {
		t.Errorf("turns = %v, want 1", got)
	}
}
