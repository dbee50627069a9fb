// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalidConfig is returned by Validate when a value would make the
// simulation impossible to construct.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds all simulation configuration parameters.
type Config struct {
	Screen    ScreenConfig    `yaml:"screen"`
	Mesh      MeshConfig      `yaml:"mesh"`
	Physics   PhysicsConfig   `yaml:"physics"`
	Solver    SolverConfig    `yaml:"solver"`
	Grid      GridConfig      `yaml:"grid"`
	Tool      ToolConfig      `yaml:"tool"`
	Parallel  ParallelConfig  `yaml:"parallel"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// ScreenConfig holds display settings.
type ScreenConfig struct {
	Width     int     `yaml:"width"`
	Height    int     `yaml:"height"`
	TargetFPS int     `yaml:"target_fps"`
	Zoom      float64 `yaml:"zoom"` // pixels per world unit at startup
}

// MeshConfig describes the rectangular point sheet.
type MeshConfig struct {
	Width        float64 `yaml:"width"`         // world units
	Height       float64 `yaml:"height"`        // world units
	Density      float64 `yaml:"density"`       // points per world unit
	StaticBorder bool    `yaml:"static_border"` // anchor the outer ring of points
}

// PhysicsConfig holds integrator parameters.
type PhysicsConfig struct {
	DT            float64 `yaml:"dt"`             // fixed step for headless runs
	DTCap         float64 `yaml:"dt_cap"`         // max displacement step per tick
	MaxSpeed      float64 `yaml:"max_speed"`      // velocity magnitude clamp
	SnapThreshold float64 `yaml:"snap_threshold"` // |v| below this snaps to zero
	Damping       float64 `yaml:"damping"`        // per-step velocity multiplier (<1)
}

// SolverConfig holds spring solver and executor pipeline parameters.
type SolverConfig struct {
	SpringConstant       float64       `yaml:"spring_constant"`
	Damping              float64       `yaml:"damping"`
	ReturnForce          float64       `yaml:"return_force"`
	MaxReturnDistance    float64       `yaml:"max_return_distance"`
	VelocityGate         float64       `yaml:"velocity_gate"`
	RingSlots            int           `yaml:"ring_slots"`
	MinLatencyFrames     int           `yaml:"min_latency_frames"` // results younger than this are never applied
	MaxLatencyFrames     int           `yaml:"max_latency_frames"` // block on results older than this
	WaitTimeout          time.Duration `yaml:"wait_timeout"`
	MaxConsecutiveFaults int           `yaml:"max_consecutive_faults"`
	Workers              int           `yaml:"workers"` // executor goroutines (0 = GOMAXPROCS)
	QueueDepth           int           `yaml:"queue_depth"`
	SimulatedLatency     time.Duration `yaml:"simulated_latency"`
	WireFormat           bool          `yaml:"wire_format"` // move dispatches through their encoded form
}

// GridConfig holds spatial hash parameters.
type GridConfig struct {
	CellSize float64 `yaml:"cell_size"`
	Capacity int     `yaml:"capacity"` // 0 = point count
}

// ToolConfig holds interactive push/pull tool parameters.
type ToolConfig struct {
	Strength    float64 `yaml:"strength"`
	Cutoff      float64 `yaml:"cutoff"`       // query radius
	TimeFactor  float64 `yaml:"time_factor"`  // seconds to reach full radius (0 = instant)
	MinDistance float64 `yaml:"min_distance"` // impulse distance floor
	DragWeight  float64 `yaml:"drag_weight"`  // weight of tool movement in impulse direction
	PokeEvery   int     `yaml:"poke_every"`   // headless scripted poke interval in ticks (0 = off)
}

// ParallelConfig controls the CPU worker pool.
type ParallelConfig struct {
	Workers   int `yaml:"workers"`   // 0 = GOMAXPROCS
	Threshold int `yaml:"threshold"` // below this many items work runs inline
}

// TelemetryConfig holds telemetry and logging parameters.
type TelemetryConfig struct {
	StatsWindow float64 `yaml:"stats_window"` // seconds of sim time per stats window
	PerfWindow  int     `yaml:"perf_window"`  // ticks averaged by the perf collector
}

// DerivedConfig holds values computed from the loaded config.
type DerivedConfig struct {
	DT32          float32
	Cols          int
	Rows          int
	PointCount    int
	GridCapacity  int
	SolverWorkers int
	PoolWorkers   int
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Defaults returns a fresh copy of the embedded defaults.
func Defaults() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// Parse builds a config from YAML bytes layered over the embedded defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()
	return cfg, nil
}

// Validate rejects configurations that cannot produce a running simulation.
func (c *Config) Validate() error {
	positive := func(name string, v float64) error {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be > 0, got %v", ErrInvalidConfig, name, v)
		}
		return nil
	}

	checks := []struct {
		name string
		v    float64
	}{
		{"mesh.width", c.Mesh.Width},
		{"mesh.height", c.Mesh.Height},
		{"mesh.density", c.Mesh.Density},
		{"grid.cell_size", c.Grid.CellSize},
		{"physics.dt", c.Physics.DT},
		{"physics.dt_cap", c.Physics.DTCap},
		{"physics.max_speed", c.Physics.MaxSpeed},
	}
	for _, ch := range checks {
		if err := positive(ch.name, ch.v); err != nil {
			return err
		}
	}

	if int(c.Mesh.Width*c.Mesh.Density) < 1 || int(c.Mesh.Height*c.Mesh.Density) < 1 {
		return fmt.Errorf("%w: mesh of %vx%v at density %v has no points",
			ErrInvalidConfig, c.Mesh.Width, c.Mesh.Height, c.Mesh.Density)
	}
	if c.Physics.Damping <= 0 || c.Physics.Damping > 1 {
		return fmt.Errorf("%w: physics.damping must be in (0, 1], got %v", ErrInvalidConfig, c.Physics.Damping)
	}
	if c.Solver.RingSlots < 2 {
		return fmt.Errorf("%w: solver.ring_slots must be >= 2, got %d", ErrInvalidConfig, c.Solver.RingSlots)
	}
	if c.Solver.MinLatencyFrames < 1 {
		return fmt.Errorf("%w: solver.min_latency_frames must be >= 1, got %d", ErrInvalidConfig, c.Solver.MinLatencyFrames)
	}
	if c.Solver.MaxLatencyFrames < c.Solver.MinLatencyFrames || c.Solver.MaxLatencyFrames >= c.Solver.RingSlots {
		return fmt.Errorf("%w: solver.max_latency_frames must be in [%d, %d), got %d",
			ErrInvalidConfig, c.Solver.MinLatencyFrames, c.Solver.RingSlots, c.Solver.MaxLatencyFrames)
	}
	if c.Solver.WaitTimeout <= 0 {
		return fmt.Errorf("%w: solver.wait_timeout must be > 0, got %v", ErrInvalidConfig, c.Solver.WaitTimeout)
	}
	if c.Solver.MaxConsecutiveFaults < 1 {
		return fmt.Errorf("%w: solver.max_consecutive_faults must be >= 1, got %d", ErrInvalidConfig, c.Solver.MaxConsecutiveFaults)
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.DT32 = float32(c.Physics.DT)
	c.Derived.Cols = int(c.Mesh.Width * c.Mesh.Density)
	c.Derived.Rows = int(c.Mesh.Height * c.Mesh.Density)
	c.Derived.PointCount = c.Derived.Cols * c.Derived.Rows

	c.Derived.GridCapacity = c.Grid.Capacity
	if c.Derived.GridCapacity <= 0 {
		c.Derived.GridCapacity = c.Derived.PointCount
	}

	c.Derived.SolverWorkers = c.Solver.Workers
	if c.Derived.SolverWorkers <= 0 {
		c.Derived.SolverWorkers = runtime.GOMAXPROCS(0)
	}
	c.Derived.PoolWorkers = c.Parallel.Workers
	if c.Derived.PoolWorkers <= 0 {
		c.Derived.PoolWorkers = runtime.GOMAXPROCS(0)
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
