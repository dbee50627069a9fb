package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pthm-cable/springmesh/solver"
)

func TestMetricsObserveStep(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveStep(solver.Report{Submitted: true}, 1, time.Millisecond)
	m.ObserveStep(solver.Report{Submitted: true, Applied: true, Latency: 1, Dropped: 2}, 1, time.Millisecond)
	m.ObserveStep(solver.Report{Fault: solver.FaultTimeout}, 4, 2*time.Millisecond)
	m.ObserveTools(12)
	m.ObserveTools(0)

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"ticks", m.Ticks, 3},
		{"submitted", m.Submitted, 2},
		{"applied", m.Applied, 1},
		{"dropped", m.Dropped, 2},
		{"stale", m.StaleTicks, 2},
		{"timeouts", m.Faults.WithLabelValues("timeout"), 1},
		{"tool points", m.ToolPoints, 12},
		{"in flight", m.InFlight, 4},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}

	if n := testutil.CollectAndCount(m.Latency); n != 1 {
		t.Errorf("latency histogram series = %d, want 1", n)
	}
}

func TestMetricsObserveWindow(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveWindow(WindowStats{KineticEnergy: 3.5, SpeedP90: 0.25})

	if got := testutil.ToFloat64(m.KineticEnergy); got != 3.5 {
		t.Errorf("kinetic energy = %v, want 3.5", got)
	}
	if got := testutil.ToFloat64(m.SpeedP90); got != 0.25 {
		t.Errorf("speed p90 = %v, want 0.25", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveStep(solver.Report{}, 0, 0)
	m.ObserveTools(5)
	m.ObserveWindow(WindowStats{})
}

func TestNewMetricsRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("registering the same metrics twice should panic")
		}
	}()
	NewMetrics(reg)
}
