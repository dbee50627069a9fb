// Package sim runs the frame pipeline: interactive tools, parallel
// integration, the asynchronous force solver and the pipelined grid rebuild.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/springmesh/components"
	"github.com/pthm-cable/springmesh/config"
	"github.com/pthm-cable/springmesh/mesh"
	"github.com/pthm-cable/springmesh/solver"
	"github.com/pthm-cable/springmesh/systems"
	"github.com/pthm-cable/springmesh/telemetry"
)

// ErrClosed is returned by Step after Close.
var ErrClosed = errors.New("sim: simulation closed")

// Options configure a Simulation. The zero value is usable.
type Options struct {
	Logger   *slog.Logger
	Executor solver.Executor // nil runs the CPU executor from config

	Metrics       *telemetry.Metrics
	Output        *telemetry.OutputManager
	LogStats      bool
	StatsCallback func(telemetry.WindowStats)
}

// Simulation owns the sheet and every per-tick system.
//
// A Simulation is driven by a single goroutine: Step, Query, Impulse, Reset
// and the tool methods must not be called concurrently with each other.
// Internally Step fans out to the worker pool and overlaps the grid rebuild
// with the next tick.
type Simulation struct {
	cfg *config.Config
	log *slog.Logger

	state  *mesh.State
	pool   *WorkerPool
	hash   *systems.SpatialHash
	grid   *gridPipeline
	solver *solver.Solver
	tools  *ToolSystem
	integ  systems.IntegratorParams

	// Telemetry
	perf          *telemetry.PerfCollector
	collector     *telemetry.Collector
	metrics       *telemetry.Metrics
	output        *telemetry.OutputManager
	logStats      bool
	statsCallback func(telemetry.WindowStats)

	tick       uint64
	lastReport solver.Report
	queryBuf   []int32
	closed     bool
}

// New builds the sheet, uploads its topology and runs the first grid build.
func New(cfg *config.Config, opts Options) (*Simulation, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	state, err := mesh.Build(cfg.Mesh)
	if err != nil {
		return nil, fmt.Errorf("building mesh: %w", err)
	}

	hash, err := systems.NewSpatialHash(cfg.Derived.GridCapacity, float32(cfg.Grid.CellSize))
	if err != nil {
		return nil, fmt.Errorf("creating spatial hash: %w", err)
	}

	sv, err := solver.New(cfg.Solver, state, solver.Options{
		Executor: opts.Executor,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating solver: %w", err)
	}

	pool := NewWorkerPool(cfg.Derived.PoolWorkers, cfg.Parallel.Threshold)

	s := &Simulation{
		cfg:           cfg,
		log:           logger,
		state:         state,
		pool:          pool,
		hash:          hash,
		grid:          newGridPipeline(hash, pool, state.Positions),
		solver:        sv,
		tools:         NewToolSystem(cfg.Tool),
		integ:         systems.NewIntegratorParams(cfg.Physics),
		perf:          telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		collector:     telemetry.NewCollector(cfg.Telemetry.StatsWindow, cfg.Derived.DT32),
		metrics:       opts.Metrics,
		output:        opts.Output,
		logStats:      opts.LogStats,
		statsCallback: opts.StatsCallback,
	}

	logger.Info("simulation ready",
		"points", state.Len(),
		"springs", len(state.Springs),
		"cols", state.Cols,
		"rows", state.Rows,
		"pool_workers", pool.Workers(),
		"ring_slots", cfg.Solver.RingSlots,
	)
	return s, nil
}

// Step advances the simulation by dt seconds.
//
// Tools read the last completed grid snapshot, integration runs on the pool,
// the solver submits this tick and applies the newest eligible result, and
// finally the grid rebuild for this tick's positions is started. A returned
// error wrapping solver.ErrSolverUnavailable is fatal.
func (s *Simulation) Step(ctx context.Context, dt float32) error {
	if s.closed {
		return ErrClosed
	}
	start := time.Now()
	s.perf.StartTick()

	s.perf.StartPhase(telemetry.PhaseTools)
	toolPoints := s.tools.Apply(dt, s.applyImpulse)

	s.perf.StartPhase(telemetry.PhaseIntegrate)
	s.pool.ParallelFor(s.state.Len(), func(lo, hi int) {
		systems.Integrate(s.state, lo, hi, dt, s.integ)
	})

	s.perf.StartPhase(telemetry.PhaseSolver)
	rep, err := s.solver.Step(ctx, s.state, dt, s.pool)
	s.lastReport = rep
	if err != nil {
		s.perf.EndTick()
		return fmt.Errorf("tick %d: %w", s.tick, err)
	}

	s.perf.StartPhase(telemetry.PhaseGrid)
	s.grid.advance(s.state.Positions)

	s.perf.StartPhase(telemetry.PhaseTelemetry)
	s.tick++
	s.collector.RecordStep(rep)
	s.collector.RecordToolPoints(toolPoints)
	s.metrics.ObserveStep(rep, s.solver.Ring().InFlight(), time.Since(start))
	s.metrics.ObserveTools(toolPoints)
	s.flushTelemetry()

	s.perf.EndTick()
	return nil
}

// applyImpulse is the ImpulseFunc handed to the tool system.
func (s *Simulation) applyImpulse(center components.Vec2, radius float32, imp systems.Impulse) int {
	s.queryBuf = s.grid.query(s.queryBuf[:0], center, radius)
	return systems.ApplyImpulse(s.state, s.queryBuf, imp)
}

// Query returns the indices of points within radius of center, as of the
// last completed grid snapshot.
func (s *Simulation) Query(center components.Vec2, radius float32) []int32 {
	return s.grid.query(nil, center, radius)
}

// Impulse applies one push (strength > 0) or pull (strength < 0) around
// center and returns the indices of the points within radius. drag is the
// unit direction the caller's pointer moved in.
func (s *Simulation) Impulse(center components.Vec2, radius, strength float32, drag components.Vec2) []int32 {
	imp := systems.Impulse{
		Center:      center,
		Strength:    strength,
		MinDistance: float32(s.cfg.Tool.MinDistance),
		DragWeight:  float32(s.cfg.Tool.DragWeight),
		Drag:        drag,
	}
	if strength < 0 {
		imp.Strength = -strength
		imp.Pull = true
	}
	hits := s.Query(center, radius)
	n := systems.ApplyImpulse(s.state, hits, imp)
	s.collector.RecordToolPoints(n)
	s.metrics.ObserveTools(n)
	return hits
}

// AddTool creates an inactive tool at (x, y) with the configured strength.
func (s *Simulation) AddTool(x, y float32) ecs.Entity {
	return s.tools.Add(DefaultTool(s.cfg.Tool), x, y)
}

// UpdateTool moves a tool and sets whether it is pressed and in which mode.
func (s *Simulation) UpdateTool(e ecs.Entity, x, y float32, active bool, mode components.ToolMode) {
	s.tools.Update(e, x, y, active, mode)
}

// RemoveTool deletes a tool.
func (s *Simulation) RemoveTool(e ecs.Entity) {
	s.tools.Remove(e)
}

// Tools exposes the tool registry.
func (s *Simulation) Tools() *ToolSystem { return s.tools }

// Reset puts the sheet back at rest. In-flight solver results are discarded
// and the grid is rebuilt before it returns.
func (s *Simulation) Reset(ctx context.Context) error {
	if err := s.solver.WaitIdle(ctx); err != nil {
		return fmt.Errorf("draining solver: %w", err)
	}
	s.state.Reset()
	s.grid.reset(s.state.Positions)
	s.log.Info("simulation reset", "tick", s.tick)
	return nil
}

// State returns the sheet. Positions and Velocities are only stable between
// calls to Step.
func (s *Simulation) State() *mesh.State { return s.state }

// Positions returns the current point positions.
func (s *Simulation) Positions() []components.Vec2 { return s.state.Positions }

// SnapshotPositions returns the positions the current grid snapshot was
// built from.
func (s *Simulation) SnapshotPositions() []components.Vec2 { return s.grid.positions() }

// Grid exposes the spatial hash.
func (s *Simulation) Grid() *systems.SpatialHash { return s.hash }

// Solver exposes the force solver.
func (s *Simulation) Solver() *solver.Solver { return s.solver }

// Perf returns the perf collector.
func (s *Simulation) Perf() *telemetry.PerfCollector { return s.perf }

// LastReport returns the solver report of the most recent Step.
func (s *Simulation) LastReport() solver.Report { return s.lastReport }

// Tick returns the number of completed ticks.
func (s *Simulation) Tick() uint64 { return s.tick }

// Config returns the configuration the simulation was built with.
func (s *Simulation) Config() *config.Config { return s.cfg }

// Close waits for background work and releases the executor and pool.
func (s *Simulation) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.grid.wait()
	err := s.solver.Close()
	s.pool.Stop()
	return err
}

// flushTelemetry emits the stats window when it is due.
func (s *Simulation) flushTelemetry() {
	if !s.collector.ShouldFlush(s.tick) {
		return
	}

	stats := s.collector.Flush(s.tick, s.state, s.hash.CellCount())
	perfStats := s.perf.Stats()
	s.metrics.ObserveWindow(stats)

	if s.statsCallback != nil {
		s.statsCallback(stats)
	}

	if s.logStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	if s.output != nil {
		if err := s.output.WriteTelemetry(stats); err != nil {
			s.log.Error("failed to write telemetry", "error", err)
		}
		if err := s.output.WritePerf(perfStats, stats.WindowEndTick); err != nil {
			s.log.Error("failed to write perf", "error", err)
		}
	}
}
