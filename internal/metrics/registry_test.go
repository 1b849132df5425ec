package metrics

import (
	"testing"
	"time"
)

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	r.AddCounter("delivery", "text", 1)
	r.AddCounter("delivery", "text", 2)
	r.SetGauge("monitor", "attempts", 5)
	r.SetGauge("monitor", "attempts", 1)
	r.RecordSuccess("delivery", "send")
	r.RecordFailure("delivery", "send", "timeout")
	for i := 1; i <= 40; i++ {
		r.RecordDuration("delivery", "latency", time.Duration(i)*time.Millisecond)
	}

	if got := r.Counter("delivery", "text"); got != 3 {
		t.Fatalf("counter = %d, want 3", got)
	}

	byPath := map[string]MetricSnapshot{}
	for _, s := range r.GetSnapshot() {
		byPath[s.Path] = s
	}

	g := byPath["monitor/attempts"].Data.(GaugeSnapshot)
	if g.Value != 1 || g.Min != 1 || g.Max != 5 {
		t.Errorf("gauge = %+v", g)
	}
	sf := byPath["delivery/send"].Data.(SuccessFailSnapshot)
	if sf.SuccessRate != 0.5 || sf.FailureReasons["timeout"] != 1 {
		t.Errorf("success/fail = %+v", sf)
	}
	tm := byPath["delivery/latency"].Data.(TimingSnapshot)
	if tm.Count != 40 || tm.MinMs != 1 || tm.MaxMs != 40 || tm.P95Ms != 38 {
		t.Errorf("timing = %+v", tm)
	}
}
