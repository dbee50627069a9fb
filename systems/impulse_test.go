package systems

import (
	"math"
	"slices"
	"testing"

	"github.com/pthm-cable/springmesh/components"
)

func TestApplyImpulse_CenterOfSmallSheet(t *testing.T) {
	s := newSheet(t, 4, 4)
	h := buildHash(t, s.Positions, 1)

	center := components.Vec2{X: -0.5, Y: -0.5}
	hits := sorted(h.Query(center, 1, s.Positions))
	if !slices.Equal(hits, []int32{5, 6, 9, 10}) {
		t.Fatalf("query hits = %v, want the four interior points", hits)
	}

	n := ApplyImpulse(s, hits, Impulse{Center: center, Strength: 1, MinDistance: 0.05})
	if n != 4 {
		t.Errorf("changed %d points, want 4", n)
	}

	for i := 0; i < s.Len(); i++ {
		moved := s.Velocities[i] != (components.Vec2{})
		if s.Static[i] && moved {
			t.Errorf("border point %d gained velocity %v", i, s.Velocities[i])
		}
		if !s.Static[i] && !moved {
			t.Errorf("interior point %d unchanged", i)
		}
	}

	// Point 10 sits at (0,0): pushed along +x,+y with magnitude 1/sqrt(0.5)
	v := s.Velocities[10]
	if v.X <= 0 || v.Y <= 0 {
		t.Errorf("push direction for point 10 = %v, want away from center", v)
	}
	if want := float32(1 / math.Sqrt(0.5)); math.Abs(float64(v.Len()-want)) > 1e-4 {
		t.Errorf("impulse magnitude = %v, want %v", v.Len(), want)
	}
}

func TestApplyImpulse_PullIgnoresDrag(t *testing.T) {
	s := newSheet(t, 3, 3)
	idx := int32(s.Index(1, 1))
	center := s.Positions[idx].Add(components.Vec2{X: -1, Y: 0})

	ApplyImpulse(s, []int32{idx}, Impulse{
		Center:      center,
		Strength:    2,
		MinDistance: 0.05,
		DragWeight:  2,
		Drag:        components.Vec2{X: 0, Y: 1},
		Pull:        true,
	})

	v := s.Velocities[idx]
	if math.Abs(float64(v.X+2)) > 1e-5 || v.Y != 0 {
		t.Errorf("pull velocity = %v, want (-2, 0)", v)
	}
}

func TestApplyImpulse_DragBendsPush(t *testing.T) {
	s := newSheet(t, 3, 3)
	idx := int32(s.Index(1, 1))
	center := s.Positions[idx].Add(components.Vec2{X: -1, Y: 0})

	ApplyImpulse(s, []int32{idx}, Impulse{
		Center:      center,
		Strength:    1,
		MinDistance: 0.05,
		DragWeight:  1,
		Drag:        components.Vec2{X: 0, Y: 1},
	})

	// normalize((1,0) + (0,1)) points at 45 degrees
	v := s.Velocities[idx]
	if math.Abs(float64(v.X-v.Y)) > 1e-5 || v.X <= 0 {
		t.Errorf("dragged push = %v, want equal positive components", v)
	}
}

func TestApplyImpulse_MinDistanceFloor(t *testing.T) {
	s := newSheet(t, 3, 3)
	idx := int32(s.Index(1, 1))
	center := s.Positions[idx].Add(components.Vec2{X: -0.001, Y: 0})

	ApplyImpulse(s, []int32{idx}, Impulse{Center: center, Strength: 1, MinDistance: 0.5})

	if got := s.Velocities[idx].Len(); math.Abs(float64(got-2)) > 1e-4 {
		t.Errorf("speed = %v, want Strength/MinDistance = 2", got)
	}
}

func TestRampRadius(t *testing.T) {
	tests := []struct {
		held, timeFactor, want float32
	}{
		{0.1, 1, 0.4},
		{0.5, 1, 2},
		{2, 1, 4},
		{0, 1, 0},
		{0.1, 0, 4},
	}
	for _, tt := range tests {
		got := RampRadius(4, tt.held, tt.timeFactor)
		if math.Abs(float64(got-tt.want)) > 1e-6 {
			t.Errorf("RampRadius(4, %v, %v) = %v, want %v", tt.held, tt.timeFactor, got, tt.want)
		}
	}
}
