package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	rl "github.com/gen2brain/raylib-go/raylib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pthm-cable/springmesh/config"
	"github.com/pthm-cable/springmesh/game"
	"github.com/pthm-cable/springmesh/sim"
	"github.com/pthm-cable/springmesh/telemetry"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	headless := flag.Bool("headless", false, "Run without graphics")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	statsWindow := flag.Float64("stats-window", 0, "Stats window size in seconds (0 = use config)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (empty = off)")
	seed := flag.Int64("seed", 0, "RNG seed for the headless poke tool (0 = time-based)")
	maxTicks := flag.Int("max-ticks", 0, "Stop after N ticks (0 = unlimited)")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	// Use config stats window if not overridden by CLI
	if *statsWindow > 0 {
		cfg.Telemetry.StatsWindow = *statsWindow
	}

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	output, err := telemetry.NewOutputManager(*outputDir)
	if err != nil {
		slog.Error("failed to create output directory", "error", err)
		os.Exit(1)
	}
	defer output.Close()
	if err := output.WriteConfig(cfg); err != nil {
		slog.Error("failed to write config snapshot", "error", err)
	}

	var metrics *telemetry.Metrics
	if *metricsAddr != "" {
		metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)
		go serveMetrics(*metricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := sim.New(cfg, sim.Options{
		Logger:   logger,
		Metrics:  metrics,
		Output:   output,
		LogStats: *logStats,
	})
	if err != nil {
		slog.Error("failed to create simulation", "error", err)
		os.Exit(1)
	}
	defer s.Close()

	if *headless {
		err = runHeadless(ctx, s, cfg, rngSeed, *maxTicks)
	} else {
		err = runWindow(ctx, s, cfg, *maxTicks)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("simulation stopped", "tick", s.Tick(), "error", err)
		s.Close()
		output.Close()
		os.Exit(1)
	}
}

// runHeadless steps at the fixed config dt as fast as possible.
func runHeadless(ctx context.Context, s *sim.Simulation, cfg *config.Config, seed int64, maxTicks int) error {
	poker := sim.NewPoker(s, cfg.Tool.PokeEvery, seed)

	slog.Info("starting headless simulation",
		"seed", seed,
		"stats_window", cfg.Telemetry.StatsWindow,
		"max_ticks", maxTicks,
		"poke_every", cfg.Tool.PokeEvery,
	)

	dt := cfg.Derived.DT32
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		poker.Update(s.Tick())
		if err := s.Step(ctx, dt); err != nil {
			return err
		}

		if maxTicks > 0 && s.Tick() >= uint64(maxTicks) {
			slog.Info("max ticks reached", "tick", s.Tick())
			return nil
		}
	}
}

// runWindow opens the raylib window and runs the interactive viewer.
func runWindow(ctx context.Context, s *sim.Simulation, cfg *config.Config, maxTicks int) error {
	rl.SetConfigFlags(rl.FlagWindowResizable)
	rl.InitWindow(int32(cfg.Screen.Width), int32(cfg.Screen.Height), "Spring Mesh")
	defer rl.CloseWindow()

	rl.SetTargetFPS(int32(cfg.Screen.TargetFPS))

	g := game.New(ctx, s)
	defer g.Unload()

	for !rl.WindowShouldClose() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.Update(); err != nil {
			return err
		}
		g.Draw()

		if maxTicks > 0 && g.Tick() >= uint64(maxTicks) {
			break
		}
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server failed", "error", err)
	}
}
