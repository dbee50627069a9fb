package systems

import (
	"github.com/pthm-cable/springmesh/components"
	"github.com/pthm-cable/springmesh/mesh"
)

// Impulse describes one interactive push or pull applied around Center.
type Impulse struct {
	Center      components.Vec2
	Strength    float32
	MinDistance float32 // distance floor for the 1/d falloff
	DragWeight  float32
	Drag        components.Vec2 // unit movement direction of the tool
	Pull        bool
}

// ApplyImpulse adds the impulse to the velocity of every non-static point in
// indices and returns how many points it changed.
//
// The magnitude falls off as Strength/max(d, MinDistance). The direction is
// away from Center, bent toward the tool's movement by Drag*DragWeight. A
// pull reverses the magnitude and ignores drag.
func ApplyImpulse(s *mesh.State, indices []int32, imp Impulse) int {
	drag := imp.Drag.Scale(imp.DragWeight)
	if imp.Pull {
		drag = components.Vec2{}
	}

	n := 0
	for _, idx := range indices {
		if s.Static[idx] {
			continue
		}
		offset := s.Positions[idx].Sub(imp.Center)
		dist := offset.Len()
		if dist < imp.MinDistance {
			dist = imp.MinDistance
		}
		if dist == 0 {
			continue
		}
		mag := imp.Strength / dist
		if imp.Pull {
			mag = -mag
		}

		dir := offset.Normalized().Add(drag).Normalized()
		if dir == (components.Vec2{}) {
			continue
		}
		s.Velocities[idx] = s.Velocities[idx].Add(dir.Scale(mag))
		n++
	}
	return n
}

// RampRadius grows a tool's radius from zero to cutoff over timeFactor seconds
// of being held. A non-positive timeFactor gives the full radius immediately.
func RampRadius(cutoff, held, timeFactor float32) float32 {
	if timeFactor <= 0 || held >= timeFactor {
		return cutoff
	}
	if held <= 0 {
		return 0
	}
	return cutoff * held / timeFactor
}
