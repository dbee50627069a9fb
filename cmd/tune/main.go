package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/springmesh/config"
)

func main() {
	configPath := flag.String("config", "", "Base config YAML file (empty = use defaults)")
	pokeTicks := flag.Int("poke-ticks", 120, "Ticks of poking per trial")
	settleTicks := flag.Int("settle-ticks", 240, "Ticks of settling after the last poke")
	seeds := flag.Int("seeds", 3, "Trials per evaluation, one per seed")
	maxEvals := flag.Int("max-evals", 150, "Maximum number of evaluations")
	population := flag.Int("population", 0, "CMA-ES population size (0 = auto)")
	outputDir := flag.String("output", "", "Output directory for results")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := run(*configPath, *outputDir, *pokeTicks, *settleTicks, *seeds, *maxEvals, *population); err != nil {
		slog.Error("tuning failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, outputDir string, pokeTicks, settleTicks, seeds, maxEvals, population int) error {
	if outputDir == "" {
		return errors.New("--output is required")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	if err := config.Init(configPath); err != nil {
		return err
	}
	baseCfg := config.Cfg()

	params := NewParamVector()
	evalSeeds := make([]int64, seeds)
	for i := range evalSeeds {
		evalSeeds[i] = int64(i*1000 + 42)
	}
	evaluator := NewFitnessEvaluator(params, baseCfg, evalSeeds, pokeTicks, settleTicks)

	logFile, err := os.Create(filepath.Join(outputDir, "tune_log.csv"))
	if err != nil {
		return err
	}
	defer logFile.Close()
	evals := newEvalLog(logFile, os.Stdout, params, maxEvals)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			values := params.Clamp(params.Denormalize(x))
			fitness := evaluator.Evaluate(values)
			ke, disp, peak := evaluator.LastResult()
			evals.record(fitness, values, ke, disp, peak)
			return fitness
		},
	}

	dim := params.Dim()
	if population == 0 {
		population = 4 + 3*dim/2
	}
	method := &optimize.CmaEsChol{
		InitStepSize: 0.3,
		Population:   population,
	}

	slog.Info("starting CMA-ES tuning",
		"params", dim,
		"population", population,
		"max_evals", maxEvals,
		"seeds", seeds,
		"ticks", pokeTicks+settleTicks,
	)
	start := time.Now()
	initX := params.Normalize(params.ExtractFromConfig(baseCfg))
	if _, err := optimize.Minimize(problem, initX, &optimize.Settings{FuncEvaluations: maxEvals}, method); err != nil {
		slog.Warn("optimization ended", "error", err)
	}
	if err := evals.err(); err != nil {
		return err
	}
	if evals.bestParams == nil {
		return errors.New("no evaluations completed")
	}

	best := evals.bestParams
	attrs := []any{"evals", evals.count, "elapsed", formatDuration(time.Since(start)), "fitness", evals.bestFitness}
	for i, spec := range params.Specs {
		attrs = append(attrs, spec.Path, best[i])
	}
	slog.Info("tuning complete", attrs...)

	bestCfg := *baseCfg
	params.ApplyToConfig(&bestCfg, best)
	path := filepath.Join(outputDir, "best_config.yaml")
	if err := bestCfg.WriteYAML(path); err != nil {
		return err
	}
	slog.Info("best config saved", "path", path)
	return nil
}
