package telemetry

import (
	"github.com/pthm-cable/springmesh/mesh"
	"github.com/pthm-cable/springmesh/solver"
)

// Collector accumulates per-tick solver outcomes within time windows and
// produces WindowStats.
type Collector struct {
	windowDurationSec   float64
	windowDurationTicks uint64
	dt                  float32

	// Current window tracking
	windowStartTick uint64

	// Event counters for current window
	ticks          int
	submitted      int
	applied        int
	dropped        int
	staleTicks     int
	faults         int
	timeouts       int
	submitFailures int
	latencySum     int
	maxLatency     int
	toolPoints     int

	speeds []float64
}

// NewCollector creates a new stats collector.
// windowDurationSec: how long each stats window lasts in simulation seconds
// dt: seconds per tick (used for tick-to-time conversion)
func NewCollector(windowDurationSec float64, dt float32) *Collector {
	ticksPerWindow := uint64(1)
	if dt > 0 && windowDurationSec > 0 {
		ticksPerWindow = max(uint64(windowDurationSec/float64(dt)), 1)
	}

	return &Collector{
		windowDurationSec:   windowDurationSec,
		windowDurationTicks: ticksPerWindow,
		dt:                  dt,
	}
}

// RecordStep records the outcome of one solver step.
func (c *Collector) RecordStep(rep solver.Report) {
	c.ticks++
	if rep.Submitted {
		c.submitted++
	}
	c.dropped += rep.Dropped
	if rep.Applied {
		c.applied++
		c.latencySum += rep.Latency
		c.maxLatency = max(c.maxLatency, rep.Latency)
	} else {
		c.staleTicks++
	}

	switch rep.Fault {
	case solver.FaultNone:
	case solver.FaultTimeout:
		c.faults++
		c.timeouts++
	case solver.FaultSlotBusy, solver.FaultSubmit:
		c.faults++
		c.submitFailures++
	default:
		c.faults++
	}
}

// RecordToolPoints records point impulses applied by tools this tick.
func (c *Collector) RecordToolPoints(n int) {
	c.toolPoints += n
}

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick uint64) bool {
	return currentTick-c.windowStartTick >= c.windowDurationTicks
}

// Flush produces a WindowStats and resets counters for the next window.
// The caller provides the current tick, the sheet to sample and the number of
// occupied grid cells.
func (c *Collector) Flush(currentTick uint64, s *mesh.State, gridCells int) WindowStats {
	var meanLatency float64
	if c.applied > 0 {
		meanLatency = float64(c.latencySum) / float64(c.applied)
	}

	c.speeds = c.speeds[:0]
	var maxDisplace float64
	for i, v := range s.Velocities {
		c.speeds = append(c.speeds, float64(v.Len()))
		maxDisplace = max(maxDisplace, float64(s.Positions[i].Sub(s.Initial[i]).Len()))
	}
	speedMean, speedP50, speedP90, speedMax := ComputeSpeedStats(c.speeds)

	stats := WindowStats{
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   currentTick,
		SimTimeSec:      float64(currentTick) * float64(c.dt),

		Ticks:          c.ticks,
		Submitted:      c.submitted,
		Applied:        c.applied,
		Dropped:        c.dropped,
		StaleTicks:     c.staleTicks,
		Faults:         c.faults,
		Timeouts:       c.timeouts,
		SubmitFailures: c.submitFailures,
		MeanLatency:    meanLatency,
		MaxLatency:     c.maxLatency,

		ToolPoints: c.toolPoints,

		SpeedMean:     speedMean,
		SpeedP50:      speedP50,
		SpeedP90:      speedP90,
		SpeedMax:      speedMax,
		KineticEnergy: s.KineticEnergy(),
		MaxDisplace:   maxDisplace,
		GridCells:     gridCells,
	}

	// Reset for next window
	c.windowStartTick = currentTick
	c.ticks = 0
	c.submitted = 0
	c.applied = 0
	c.dropped = 0
	c.staleTicks = 0
	c.faults = 0
	c.timeouts = 0
	c.submitFailures = 0
	c.latencySum = 0
	c.maxLatency = 0
	c.toolPoints = 0

	return stats
}

// WindowDurationTicks returns the number of ticks per window.
func (c *Collector) WindowDurationTicks() uint64 {
	return c.windowDurationTicks
}
