package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pthm-cable/springmesh/solver"
)

const namespace = "springmesh"

// Metrics exports live simulation counters to Prometheus.
type Metrics struct {
	Ticks         prometheus.Counter
	Submitted     prometheus.Counter
	Applied       prometheus.Counter
	Dropped       prometheus.Counter
	StaleTicks    prometheus.Counter
	Faults        *prometheus.CounterVec
	ToolPoints    prometheus.Counter
	Latency       prometheus.Histogram
	TickSeconds   prometheus.Histogram
	InFlight      prometheus.Gauge
	KineticEnergy prometheus.Gauge
	SpeedP90      prometheus.Gauge
}

// NewMetrics registers the simulation metrics with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Simulation ticks completed",
		}),
		Submitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "submitted_total",
			Help:      "Force requests handed to the executor",
		}),
		Applied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "applied_total",
			Help:      "Force results applied to velocities",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "dropped_total",
			Help:      "Completed results superseded by a newer one",
		}),
		StaleTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "stale_ticks_total",
			Help:      "Ticks that held the previous velocities",
		}),
		Faults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "faults_total",
			Help:      "Executor faults by kind",
		}, []string{"kind"}),
		ToolPoints: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "point_impulses_total",
			Help:      "Point impulses applied by interactive tools",
		}),
		Latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "latency_frames",
			Help:      "Frames between submitting a request and applying it",
			Buckets:   prometheus.LinearBuckets(1, 1, 8),
		}),
		TickSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_seconds",
			Help:      "Wall time of one simulation tick",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "in_flight",
			Help:      "Ring slots owned by the executor",
		}),
		KineticEnergy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kinetic_energy",
			Help:      "Kinetic energy of the sheet at the last stats window",
		}),
		SpeedP90: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speed_p90",
			Help:      "90th percentile point speed at the last stats window",
		}),
	}
}

// ObserveStep records one tick's solver report and wall time.
func (m *Metrics) ObserveStep(rep solver.Report, inFlight int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.TickSeconds.Observe(elapsed.Seconds())
	m.InFlight.Set(float64(inFlight))
	if rep.Submitted {
		m.Submitted.Inc()
	}
	if rep.Dropped > 0 {
		m.Dropped.Add(float64(rep.Dropped))
	}
	if rep.Applied {
		m.Applied.Inc()
		m.Latency.Observe(float64(rep.Latency))
	} else {
		m.StaleTicks.Inc()
	}
	if rep.Fault != solver.FaultNone {
		m.Faults.WithLabelValues(rep.Fault.String()).Inc()
	}
}

// ObserveTools records point impulses applied by tools.
func (m *Metrics) ObserveTools(points int) {
	if m == nil || points <= 0 {
		return
	}
	m.ToolPoints.Add(float64(points))
}

// ObserveWindow publishes the sampled sheet state of a stats window.
func (m *Metrics) ObserveWindow(stats WindowStats) {
	if m == nil {
		return
	}
	m.KineticEnergy.Set(stats.KineticEnergy)
	m.SpeedP90.Set(stats.SpeedP90)
}
