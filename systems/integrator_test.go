package systems

import (
	"math"
	"testing"

	"github.com/pthm-cable/springmesh/components"
	"github.com/pthm-cable/springmesh/config"
	"github.com/pthm-cable/springmesh/mesh"
)

func defaultIntegratorParams(t *testing.T) IntegratorParams {
	t.Helper()
	return NewIntegratorParams(config.Defaults().Physics)
}

func newSheet(t *testing.T, rows, cols int) *mesh.State {
	t.Helper()
	s, err := mesh.BuildGrid(rows, cols, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// ---------- static points ----------

func TestIntegrate_StaticPointsNeverMove(t *testing.T) {
	p := defaultIntegratorParams(t)
	s := newSheet(t, 4, 4)

	// Give every point, static or not, some velocity
	for i := range s.Velocities {
		s.Velocities[i] = components.Vec2{X: 3, Y: -2}
	}

	for _, dt := range []float32{0, 1.0 / 120, 1.0 / 60, 0.5, 10, -1} {
		for step := 0; step < 50; step++ {
			Integrate(s, 0, s.Len(), dt, p)
			for i := 0; i < s.Len(); i++ {
				if !s.Static[i] {
					continue
				}
				if s.Positions[i] != s.Initial[i] {
					t.Fatalf("dt=%v step %d: static point %d moved to %v", dt, step, i, s.Positions[i])
				}
				if s.Velocities[i] != (components.Vec2{}) {
					t.Fatalf("dt=%v step %d: static point %d has velocity %v", dt, step, i, s.Velocities[i])
				}
			}
		}
	}
}

// ---------- damping ----------

func TestIntegrate_DampingReachesExactZero(t *testing.T) {
	p := defaultIntegratorParams(t)
	s := newSheet(t, 3, 3)
	center := s.Index(1, 1)
	s.Velocities[center] = components.Vec2{X: 2, Y: 1}

	prev := s.Velocities[center].Len()
	reachedZero := false
	for step := 0; step < 2000; step++ {
		Integrate(s, 0, s.Len(), 1.0/60, p)
		cur := s.Velocities[center].Len()
		if cur > prev {
			t.Fatalf("step %d: speed grew from %v to %v", step, prev, cur)
		}
		if s.Velocities[center] == (components.Vec2{}) {
			reachedZero = true
			break
		}
		if prev < p.SnapThreshold {
			t.Fatalf("step %d: speed %v below snap threshold was not zeroed", step, prev)
		}
		prev = cur
	}
	if !reachedZero {
		t.Fatalf("velocity never snapped to zero, last speed %v", prev)
	}

	// Once zero it stays zero
	Integrate(s, 0, s.Len(), 1.0/60, p)
	if s.Velocities[center] != (components.Vec2{}) {
		t.Errorf("zero velocity changed to %v", s.Velocities[center])
	}
}

// ---------- clamps ----------

func TestIntegrate_SpeedClamp(t *testing.T) {
	p := defaultIntegratorParams(t)
	s := newSheet(t, 3, 3)
	center := s.Index(1, 1)
	s.Velocities[center] = components.Vec2{X: 1000, Y: 0}

	Integrate(s, 0, s.Len(), 0.01, p)

	moved := s.Positions[center].X - s.Initial[center].X
	want := p.MaxSpeed * 0.01
	if math.Abs(float64(moved-want)) > 1e-5 {
		t.Errorf("displacement = %v, want %v", moved, want)
	}
	if got, want := s.Velocities[center].Len(), p.MaxSpeed*p.Damping; math.Abs(float64(got-want)) > 1e-4 {
		t.Errorf("speed after step = %v, want %v", got, want)
	}
}

func TestIntegrate_DTCap(t *testing.T) {
	p := defaultIntegratorParams(t)
	s := newSheet(t, 3, 3)
	center := s.Index(1, 1)
	s.Velocities[center] = components.Vec2{X: 0, Y: 4}

	// A frame-time spike moves no further than DTCap allows
	Integrate(s, 0, s.Len(), 1.0, p)

	moved := s.Positions[center].Y - s.Initial[center].Y
	want := 4 * p.DTCap
	if math.Abs(float64(moved-want)) > 1e-5 {
		t.Errorf("displacement = %v, want %v", moved, want)
	}
}

func TestIntegrate_DisjointRangesMatchSingleRange(t *testing.T) {
	p := defaultIntegratorParams(t)
	a := newSheet(t, 10, 12)
	b := newSheet(t, 10, 12)
	for i := range a.Velocities {
		v := components.Vec2{X: float32(i%7) - 3, Y: float32(i%5) - 2}
		a.Velocities[i] = v
		b.Velocities[i] = v
	}

	Integrate(a, 0, a.Len(), 1.0/60, p)
	done := make(chan struct{})
	mid := b.Len() / 3
	go func() {
		Integrate(b, 0, mid, 1.0/60, p)
		close(done)
	}()
	Integrate(b, mid, b.Len(), 1.0/60, p)
	<-done

	for i := range a.Positions {
		if a.Positions[i] != b.Positions[i] || a.Velocities[i] != b.Velocities[i] {
			t.Fatalf("point %d differs between partitioned and single-range integration", i)
		}
	}
}
