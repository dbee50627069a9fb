package main

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/springmesh/components"
	"github.com/pthm-cable/springmesh/config"
	"github.com/pthm-cable/springmesh/mesh"
	"github.com/pthm-cable/springmesh/sim"
)

// Penalty for parameter sets that blow up or fault the solver.
const failedFitness = 1e6

// Fitness weights.
const (
	residualDisplacementWeight = 4.0
	responseWeight             = 0.5
)

// FitnessEvaluator runs headless poke-and-settle trials and scores them.
type FitnessEvaluator struct {
	params      *ParamVector
	baseConfig  *config.Config
	seeds       []int64
	pokeTicks   int
	settleTicks int
	pokes       int

	mu         sync.Mutex
	lastResult trialResult
}

// trialResult holds what one run measured.
type trialResult struct {
	residualKE   float64 // kinetic energy after settling
	residualDisp float64 // max distance from rest after settling
	peakDisp     float64 // max distance from rest while poking
}

// NewFitnessEvaluator creates an evaluator. Each seed places pokes
// differently; every trial pokes for pokeTicks then idles for settleTicks.
func NewFitnessEvaluator(params *ParamVector, baseCfg *config.Config, seeds []int64, pokeTicks, settleTicks int) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:      params,
		baseConfig:  baseCfg,
		seeds:       seeds,
		pokeTicks:   pokeTicks,
		settleTicks: settleTicks,
		pokes:       4,
	}
}

// LastResult returns the seed-averaged measurements of the latest Evaluate.
func (fe *FitnessEvaluator) LastResult() (residualKE, residualDisp, peakDisp float64) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastResult.residualKE, fe.lastResult.residualDisp, fe.lastResult.peakDisp
}

// Evaluate returns the fitness of raw parameter values (lower is better).
// A good sheet is left still and back at rest yet moved visibly while poked.
func (fe *FitnessEvaluator) Evaluate(raw []float64) float64 {
	cfg := *fe.baseConfig
	fe.params.ApplyToConfig(&cfg, raw)
	if err := cfg.Validate(); err != nil {
		return failedFitness
	}

	results := make([]trialResult, len(fe.seeds))
	g, ctx := errgroup.WithContext(context.Background())
	for i, seed := range fe.seeds {
		g.Go(func() error {
			r, err := fe.runTrial(ctx, &cfg, seed)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failedFitness
	}

	ke := make([]float64, len(results))
	disp := make([]float64, len(results))
	peak := make([]float64, len(results))
	for i, r := range results {
		ke[i], disp[i], peak[i] = r.residualKE, r.residualDisp, r.peakDisp
	}
	mean := trialResult{
		residualKE:   stat.Mean(ke, nil),
		residualDisp: stat.Mean(disp, nil),
		peakDisp:     stat.Mean(peak, nil),
	}

	fe.mu.Lock()
	fe.lastResult = mean
	fe.mu.Unlock()

	f := mean.residualKE + residualDisplacementWeight*mean.residualDisp - responseWeight*mean.peakDisp
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return failedFitness
	}
	return f
}

// runTrial pokes a fresh sheet at seeded spots and lets it settle.
func (fe *FitnessEvaluator) runTrial(ctx context.Context, cfg *config.Config, seed int64) (trialResult, error) {
	s, err := sim.New(cfg, sim.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return trialResult{}, err
	}
	defer s.Close()

	rng := rand.New(rand.NewSource(seed))
	halfW := float32(cfg.Mesh.Width) * 0.4
	halfH := float32(cfg.Mesh.Height) * 0.4
	radius := float32(cfg.Tool.Cutoff)
	strength := float32(cfg.Tool.Strength)
	perPoke := max(fe.pokeTicks/fe.pokes, 1)

	var res trialResult
	var center components.Vec2
	dt := cfg.Derived.DT32
	for t := 0; t < fe.pokeTicks; t++ {
		if t%perPoke == 0 {
			center = components.Vec2{
				X: (rng.Float32()*2 - 1) * halfW,
				Y: (rng.Float32()*2 - 1) * halfH,
			}
			if rng.Intn(2) == 1 {
				strength = -strength
			}
		}
		s.Impulse(center, radius, strength, components.Vec2{})
		if err := s.Step(ctx, dt); err != nil {
			return trialResult{}, err
		}
		res.peakDisp = max(res.peakDisp, maxDisplacement(s.State()))
	}
	for t := 0; t < fe.settleTicks; t++ {
		if err := s.Step(ctx, dt); err != nil {
			return trialResult{}, err
		}
	}

	res.residualKE = s.State().KineticEnergy()
	res.residualDisp = maxDisplacement(s.State())
	return res, nil
}

// maxDisplacement returns the largest distance of any point from rest.
func maxDisplacement(st *mesh.State) float64 {
	var m float32
	for i, p := range st.Positions {
		m = max(m, p.Sub(st.Initial[i]).Len())
	}
	return float64(m)
}
