package telemetry

import (
	"log/slog"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Phase identifies one stage of Simulation.Step.
type Phase uint8

// Phases in tick order.
const (
	PhaseTools Phase = iota
	PhaseIntegrate
	PhaseSolver
	PhaseGrid
	PhaseTelemetry
	NumPhases
)

var phaseNames = [NumPhases]string{"tools", "integrate", "solver", "grid", "telemetry"}

func (p Phase) String() string {
	if p >= NumPhases {
		return "unknown"
	}
	return phaseNames[p]
}

// PhaseDurations holds one duration per phase.
type PhaseDurations [NumPhases]time.Duration

// tickSample is the timing of one completed tick.
type tickSample struct {
	total  time.Duration
	phases PhaseDurations
}

// PerfCollector keeps per-phase tick timings for the last windowSize ticks.
// Recording does not allocate.
type PerfCollector struct {
	samples []tickSample
	next    int
	filled  int

	current    tickSample
	tickStart  time.Time
	phaseStart time.Time
	phase      Phase
	inPhase    bool

	lastFrame time.Time
	frame     time.Duration

	scratch []float64
}

// NewPerfCollector creates a collector averaging over windowSize ticks
// (60 when windowSize < 1).
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &PerfCollector{
		samples: make([]tickSample, windowSize),
		scratch: make([]float64, 0, windowSize),
	}
}

// StartTick begins timing a tick.
func (p *PerfCollector) StartTick() {
	p.tickStart = time.Now()
	p.current = tickSample{}
	p.inPhase = false
}

// StartPhase closes the running phase, if any, and starts ph.
func (p *PerfCollector) StartPhase(ph Phase) {
	now := time.Now()
	p.closePhase(now)
	p.phase = ph
	p.phaseStart = now
	p.inPhase = true
}

func (p *PerfCollector) closePhase(now time.Time) {
	if p.inPhase && p.phase < NumPhases {
		p.current.phases[p.phase] += now.Sub(p.phaseStart)
	}
	p.inPhase = false
}

// EndTick closes the running phase and stores the tick in the window.
func (p *PerfCollector) EndTick() {
	now := time.Now()
	p.closePhase(now)
	p.current.total = now.Sub(p.tickStart)

	p.samples[p.next] = p.current
	p.next = (p.next + 1) % len(p.samples)
	p.filled = min(p.filled+1, len(p.samples))
}

// RecordFrame marks a rendered frame. Frame time is the gap between the last
// two calls.
func (p *PerfCollector) RecordFrame() {
	now := time.Now()
	if !p.lastFrame.IsZero() {
		p.frame = now.Sub(p.lastFrame)
	}
	p.lastFrame = now
}

// PerfStats summarizes the collector window.
type PerfStats struct {
	Samples int

	AvgTickDuration time.Duration
	MinTickDuration time.Duration
	MaxTickDuration time.Duration
	P90TickDuration time.Duration

	PhaseAvg PhaseDurations
	PhasePct [NumPhases]float64 // share of the average tick, 0..100

	TicksPerSecond float64

	FrameDuration time.Duration
	FPS           float64
}

// Slowest returns the phase with the largest average duration.
func (s PerfStats) Slowest() Phase {
	var worst Phase
	for ph := Phase(1); ph < NumPhases; ph++ {
		if s.PhaseAvg[ph] > s.PhaseAvg[worst] {
			worst = ph
		}
	}
	return worst
}

// Stats aggregates the current window.
func (p *PerfCollector) Stats() PerfStats {
	st := PerfStats{
		Samples:       p.filled,
		FrameDuration: p.frame,
	}
	if p.frame > 0 {
		st.FPS = float64(time.Second) / float64(p.frame)
	}
	if p.filled == 0 {
		return st
	}

	var total time.Duration
	var sums PhaseDurations
	p.scratch = p.scratch[:0]
	for i, s := range p.samples[:p.filled] {
		total += s.total
		if i == 0 || s.total < st.MinTickDuration {
			st.MinTickDuration = s.total
		}
		st.MaxTickDuration = max(st.MaxTickDuration, s.total)
		for ph, d := range s.phases {
			sums[ph] += d
		}
		p.scratch = append(p.scratch, float64(s.total))
	}
	slices.Sort(p.scratch)
	st.P90TickDuration = time.Duration(stat.Quantile(0.9, stat.Empirical, p.scratch, nil))

	n := time.Duration(p.filled)
	st.AvgTickDuration = total / n
	for ph := range sums {
		st.PhaseAvg[ph] = sums[ph] / n
		if st.AvgTickDuration > 0 {
			st.PhasePct[ph] = 100 * float64(st.PhaseAvg[ph]) / float64(st.AvgTickDuration)
		}
	}
	if st.AvgTickDuration > 0 {
		st.TicksPerSecond = float64(time.Second) / float64(st.AvgTickDuration)
	}
	return st
}

// LogValue implements slog.LogValuer.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_tick_us", s.AvgTickDuration.Microseconds()),
		slog.Int64("p90_tick_us", s.P90TickDuration.Microseconds()),
		slog.Int64("max_tick_us", s.MaxTickDuration.Microseconds()),
		slog.Int("ticks_per_sec", int(s.TicksPerSecond)),
	}
	if s.FPS > 0 {
		attrs = append(attrs, slog.Int("fps", int(s.FPS)))
	}
	for ph := Phase(0); ph < NumPhases; ph++ {
		if s.PhasePct[ph] >= 0.1 {
			attrs = append(attrs, slog.Float64(ph.String()+"_pct", float64(int(s.PhasePct[ph]*10))/10))
		}
	}
	return slog.GroupValue(attrs...)
}

// LogStats logs the summary at Info.
func (s PerfStats) LogStats() {
	slog.Info("perf", "stats", s)
}

// PerfRecord is the perf.csv row.
type PerfRecord struct {
	WindowEnd    uint64  `csv:"window_end"`
	Samples      int     `csv:"samples"`
	AvgTickUS    int64   `csv:"avg_tick_us"`
	MinTickUS    int64   `csv:"min_tick_us"`
	P90TickUS    int64   `csv:"p90_tick_us"`
	MaxTickUS    int64   `csv:"max_tick_us"`
	TicksPerSec  float64 `csv:"ticks_per_sec"`
	FPS          float64 `csv:"fps"`
	ToolsPct     float64 `csv:"tools_pct"`
	IntegratePct float64 `csv:"integrate_pct"`
	SolverPct    float64 `csv:"solver_pct"`
	GridPct      float64 `csv:"grid_pct"`
	TelemetryPct float64 `csv:"telemetry_pct"`
}

// Record flattens s into a perf.csv row.
func (s PerfStats) Record(windowEnd uint64) PerfRecord {
	return PerfRecord{
		WindowEnd:    windowEnd,
		Samples:      s.Samples,
		AvgTickUS:    s.AvgTickDuration.Microseconds(),
		MinTickUS:    s.MinTickDuration.Microseconds(),
		P90TickUS:    s.P90TickDuration.Microseconds(),
		MaxTickUS:    s.MaxTickDuration.Microseconds(),
		TicksPerSec:  s.TicksPerSecond,
		FPS:          s.FPS,
		ToolsPct:     s.PhasePct[PhaseTools],
		IntegratePct: s.PhasePct[PhaseIntegrate],
		SolverPct:    s.PhasePct[PhaseSolver],
		GridPct:      s.PhasePct[PhaseGrid],
		TelemetryPct: s.PhasePct[PhaseTelemetry],
	}
}
