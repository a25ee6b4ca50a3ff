package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveDelta(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveDelta("TimingData", "applied")
	m.ObserveDelta("TimingData", "applied")
	m.ObserveDelta("TeamRadio", "uninitialized_feed")

	if got := testutil.ToFloat64(m.Deltas.WithLabelValues("TimingData", "applied")); got != 2 {
		t.Errorf("expected 2 applied TimingData deltas, got %v", got)
	}
	if got := testutil.ToFloat64(m.Deltas.WithLabelValues("TeamRadio", "uninitialized_feed")); got != 1 {
		t.Errorf("expected 1 dropped TeamRadio delta, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDelta("x", "y")
	m.ObserveSnapshot()
	m.SetSubscribers("ws", 3)
	m.SetUpstreamState(2)
}
