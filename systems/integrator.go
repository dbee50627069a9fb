package systems

import (
	"github.com/pthm-cable/springmesh/components"
	"github.com/pthm-cable/springmesh/config"
	"github.com/pthm-cable/springmesh/mesh"
)

// IntegratorParams holds the per-step integration constants.
type IntegratorParams struct {
	MaxSpeed      float32
	DTCap         float32
	SnapThreshold float32
	Damping       float32
}

// NewIntegratorParams converts physics config into integrator constants.
func NewIntegratorParams(cfg config.PhysicsConfig) IntegratorParams {
	return IntegratorParams{
		MaxSpeed:      float32(cfg.MaxSpeed),
		DTCap:         float32(cfg.DTCap),
		SnapThreshold: float32(cfg.SnapThreshold),
		Damping:       float32(cfg.Damping),
	}
}

// Integrate advances the points in [start, end) by one step.
//
// Each point reads and writes only its own slots, so disjoint ranges may run
// concurrently.
func Integrate(s *mesh.State, start, end int, dt float32, p IntegratorParams) {
	step := dt
	if step > p.DTCap {
		step = p.DTCap
	}
	if !(step > 0) {
		step = 0
	}
	snapSq := p.SnapThreshold * p.SnapThreshold

	pos := s.Positions[start:end]
	vel := s.Velocities[start:end]
	static := s.Static[start:end]
	for i := range pos {
		if static[i] {
			vel[i] = components.Vec2{}
			continue
		}

		v := vel[i].ClampLen(p.MaxSpeed)
		pos[i] = pos[i].Add(v.Scale(step))

		if v.LenSq() < snapSq {
			vel[i] = components.Vec2{}
			continue
		}
		vel[i] = v.Scale(p.Damping)
	}
}
