// Package components defines the shared value types and ECS components for the simulation.
package components

import "math"

// Vec2 is a 2D vector in world units.
type Vec2 struct {
	X, Y float32
}

// Add returns v + o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

// Sub returns v - o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

// Scale returns v * s.
func (v Vec2) Scale(s float32) Vec2 { return Vec2{v.X * s, v.Y * s} }

// Dot returns the dot product of v and o.
func (v Vec2) Dot(o Vec2) float32 { return v.X*o.X + v.Y*o.Y }

// LenSq returns the squared length (avoid sqrt in hot paths).
func (v Vec2) LenSq() float32 { return v.X*v.X + v.Y*v.Y }

// Len returns the Euclidean length.
func (v Vec2) Len() float32 { return float32(math.Sqrt(float64(v.LenSq()))) }

// Normalized returns v scaled to unit length, or the zero vector when v is zero.
func (v Vec2) Normalized() Vec2 {
	l := v.Len()
	if l == 0 {
		return Vec2{}
	}
	return Vec2{v.X / l, v.Y / l}
}

// ClampLen returns v with its length limited to max.
func (v Vec2) ClampLen(max float32) Vec2 {
	lsq := v.LenSq()
	if lsq <= max*max {
		return v
	}
	return v.Scale(max / float32(math.Sqrt(float64(lsq))))
}

// Dist returns the distance between a and b.
func Dist(a, b Vec2) float32 { return b.Sub(a).Len() }

// Position is a tool's world position.
type Position struct {
	X, Y float32
}

// Vec returns the position as a Vec2.
func (p Position) Vec() Vec2 { return Vec2{p.X, p.Y} }
