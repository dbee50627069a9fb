// Package mesh owns the point arrays and the immutable spring topology of the sheet.
package mesh

import (
	"github.com/pthm-cable/springmesh/components"
)

// Spring links two points by index. Springs reference points, they never own them.
type Spring struct {
	First      int32
	Second     int32
	RestLength float32
}

// Other returns the endpoint of s that is not i.
func (s Spring) Other(i int32) int32 {
	if s.First == i {
		return s.Second
	}
	return s.First
}

// State holds per-point simulation data and the spring topology.
// Positions and Velocities are mutated every tick; everything else is fixed
// after Build.
type State struct {
	Cols, Rows int

	Positions  []components.Vec2
	Velocities []components.Vec2
	Initial    []components.Vec2
	Static     []bool

	Springs []Spring

	// Incident springs per point in CSR form: the springs touching point i are
	// Incident[Offsets[i]:Offsets[i+1]].
	Offsets  []int32
	Incident []int32
}

// Len returns the number of points.
func (s *State) Len() int { return len(s.Positions) }

// Index returns the point index for row r, column c.
func (s *State) Index(r, c int) int { return r*s.Cols + c }

// IncidentSprings returns the indices of the springs touching point i.
func (s *State) IncidentSprings(i int) []int32 {
	return s.Incident[s.Offsets[i]:s.Offsets[i+1]]
}

// Degree returns the number of springs touching point i.
func (s *State) Degree(i int) int {
	return int(s.Offsets[i+1] - s.Offsets[i])
}

// Reset puts every point back at its initial position with zero velocity.
func (s *State) Reset() {
	copy(s.Positions, s.Initial)
	clear(s.Velocities)
}

// KineticEnergy returns the total kinetic energy of the sheet (unit mass).
func (s *State) KineticEnergy() float64 {
	var e float64
	for _, v := range s.Velocities {
		e += 0.5 * float64(v.LenSq())
	}
	return e
}
