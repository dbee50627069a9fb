// Package telemetry collects per-window mesh statistics, frame timings and
// Prometheus metrics, and writes them to CSV.
package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for a time window.
type WindowStats struct {
	WindowStartTick uint64  `csv:"-"`
	WindowEndTick   uint64  `csv:"window_end"`
	SimTimeSec      float64 `csv:"sim_time"`

	// Solver pipeline during window
	Ticks          int     `csv:"ticks"`
	Submitted      int     `csv:"submitted"`
	Applied        int     `csv:"applied"`
	Dropped        int     `csv:"dropped"`
	StaleTicks     int     `csv:"stale_ticks"`
	Faults         int     `csv:"faults"`
	Timeouts       int     `csv:"timeouts"`
	SubmitFailures int     `csv:"submit_failures"`
	MeanLatency    float64 `csv:"mean_latency"` // frames, over applied ticks
	MaxLatency     int     `csv:"max_latency"`

	// Interaction
	ToolPoints int `csv:"tool_points"` // point impulses applied by tools

	// Sheet state sampled at window end
	SpeedMean     float64 `csv:"speed_mean"`
	SpeedP50      float64 `csv:"speed_p50"`
	SpeedP90      float64 `csv:"speed_p90"`
	SpeedMax      float64 `csv:"speed_max"`
	KineticEnergy float64 `csv:"kinetic_energy"`
	MaxDisplace   float64 `csv:"max_displacement"` // furthest point from its rest position
	GridCells     int     `csv:"grid_cells"`
}

// Percentile returns the p-th quantile of sorted using the empirical
// distribution. p should be in [0, 1]. Returns 0 if sorted is empty.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	p = min(max(p, 0), 1)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

// ComputeSpeedStats calculates mean, median, 90th percentile and max of
// values. values is not modified.
func ComputeSpeedStats(values []float64) (mean, p50, p90, maxV float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean = stat.Mean(sorted, nil)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)
	maxV = floats.Max(sorted)
	return mean, p50, p90, maxV
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("window_start", s.WindowStartTick),
		slog.Uint64("window_end", s.WindowEndTick),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("ticks", s.Ticks),
		slog.Int("submitted", s.Submitted),
		slog.Int("applied", s.Applied),
		slog.Int("dropped", s.Dropped),
		slog.Int("stale_ticks", s.StaleTicks),
		slog.Int("faults", s.Faults),
		slog.Int("timeouts", s.Timeouts),
		slog.Int("submit_failures", s.SubmitFailures),
		slog.Float64("mean_latency", s.MeanLatency),
		slog.Int("max_latency", s.MaxLatency),
		slog.Int("tool_points", s.ToolPoints),
		slog.Float64("speed_mean", s.SpeedMean),
		slog.Float64("speed_p50", s.SpeedP50),
		slog.Float64("speed_p90", s.SpeedP90),
		slog.Float64("speed_max", s.SpeedMax),
		slog.Float64("kinetic_energy", s.KineticEnergy),
		slog.Float64("max_displacement", s.MaxDisplace),
		slog.Int("grid_cells", s.GridCells),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats",
		"window_end", s.WindowEndTick,
		"sim_time", s.SimTimeSec,
		"applied", s.Applied,
		"stale_ticks", s.StaleTicks,
		"faults", s.Faults,
		"timeouts", s.Timeouts,
		"mean_latency", s.MeanLatency,
		"tool_points", s.ToolPoints,
		"speed_mean", s.SpeedMean,
		"speed_p90", s.SpeedP90,
		"kinetic_energy", s.KineticEnergy,
		"max_displacement", s.MaxDisplace,
	)
}
