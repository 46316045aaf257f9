package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Creation(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.MsgsReceived.WithLabelValues("JoinRequest").Inc()
	m.MsgsReceived.WithLabelValues("JoinRequest").Inc()
	m.Members.Set(7)

	if got := testutil.ToFloat64(m.MsgsReceived.WithLabelValues("JoinRequest")); got != 2 {
		t.Errorf("received = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Members); got != 7 {
		t.Errorf("members = %v, want 7", got)
	}
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// two nodes in one process must not collide
	a := NewUnregistered()
	b := NewUnregistered()

	a.Handovers.Inc()
	if got := testutil.ToFloat64(b.Handovers); got != 0 {
		t.Errorf("handovers = %v, want 0", got)
	}
}
