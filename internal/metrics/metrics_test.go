package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名のメトリクスファミリーから、ラベルが一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != want {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if c := NewCollector(prometheus.NewRegistry()); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordTransition_CountsByOperationAndOutcome は操作・結果別にカウントされることを検証する。
func TestRecordTransition_CountsByOperationAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTransition("submit_claim", OutcomeSuccess, 10*time.Millisecond)
	c.RecordTransition("submit_claim", OutcomeSuccess, 20*time.Millisecond)
	c.RecordTransition("submit_claim", OutcomeRejected, 5*time.Millisecond)

	ok := findMetric(t, reg, "lockerclaim_transitions_total", map[string]string{"operation": "submit_claim", "outcome": OutcomeSuccess})
	if v := ok.GetCounter().GetValue(); v != 2 {
		t.Errorf("success count = %v, want 2", v)
	}
	rejected := findMetric(t, reg, "lockerclaim_transitions_total", map[string]string{"operation": "submit_claim", "outcome": OutcomeRejected})
	if v := rejected.GetCounter().GetValue(); v != 1 {
		t.Errorf("rejected count = %v, want 1", v)
	}

	latency := findMetric(t, reg, "lockerclaim_transition_duration_seconds", map[string]string{"operation": "submit_claim"})
	if n := latency.GetHistogram().GetSampleCount(); n != 3 {
		t.Errorf("latency samples = %d, want 3", n)
	}
}

// TestRecordSignal_CountsByEvent はロッカー通知結果が記録されることを検証する。
func TestRecordSignal_CountsByEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSignal("pickup_confirmed", OutcomeError)

	m := findMetric(t, reg, "lockerclaim_locker_signals_total", map[string]string{"event": "pickup_confirmed", "outcome": OutcomeError})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("signal count = %v, want 1", v)
	}
}

// TestRecordExpiredLocksAndPoints はカウンタが加算されることを検証する。
func TestRecordExpiredLocksAndPoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordExpiredLocks(3)
	c.RecordExpiredLocks(0)
	c.RecordPointsCredited(100)

	if v := findMetric(t, reg, "lockerclaim_expired_locks_total", nil).GetCounter().GetValue(); v != 3 {
		t.Errorf("expired locks = %v, want 3", v)
	}
	if v := findMetric(t, reg, "lockerclaim_points_credited_total", nil).GetCounter().GetValue(); v != 100 {
		t.Errorf("points credited = %v, want 100", v)
	}
}

// TestNewCollector_DuplicateRegistrationPanics は同一レジストリへの二重登録でpanicすることを検証する。
func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewCollector(reg)
}
