// Package main tunes spring and damping constants with CMA-ES so a poked
// sheet settles quickly without going limp.
package main

import (
	"github.com/pthm-cable/springmesh/config"
)

// ParamSpec defines a single tunable parameter.
type ParamSpec struct {
	Name    string
	Path    string // config path for logging
	Min     float64
	Max     float64
	Default float64
}

// ParamVector holds the set of tunable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard parameter set.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			{Name: "spring_constant", Path: "solver.spring_constant", Min: 10, Max: 200, Default: 60},
			{Name: "spring_damping", Path: "solver.damping", Min: 0.05, Max: 4, Default: 0.8},
			{Name: "return_force", Path: "solver.return_force", Min: 0, Max: 3, Default: 0.6},
			{Name: "velocity_damping", Path: "physics.damping", Min: 0.9, Max: 1, Default: 0.98},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default values.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize maps raw values to [0,1].
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	out := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		out[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return out
}

// Denormalize maps [0,1] values back to raw values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	out := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		out[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return out
}

// Clamp keeps every value inside its bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	out := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		out[i] = min(max(v[i], spec.Min), spec.Max)
	}
	return out
}

// ApplyToConfig writes clamped values into cfg. Order matches Specs.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	c := pv.Clamp(values)
	cfg.Solver.SpringConstant = c[0]
	cfg.Solver.Damping = c[1]
	cfg.Solver.ReturnForce = c[2]
	cfg.Physics.Damping = c[3]
}

// ExtractFromConfig reads the current values from cfg.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	return []float64{
		cfg.Solver.SpringConstant,
		cfg.Solver.Damping,
		cfg.Solver.ReturnForce,
		cfg.Physics.Damping,
	}
}
