// Package renderer draws the spring sheet and tool overlays with raylib.
package renderer

import (
	"math"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/springmesh/camera"
	"github.com/pthm-cable/springmesh/components"
	"github.com/pthm-cable/springmesh/mesh"
)

// MeshRenderer draws the spring sheet as lines colored by strain.
type MeshRenderer struct {
	// MaxStrain is the relative stretch that maps to full color.
	MaxStrain float32

	Rest      rl.Color
	Stretched rl.Color
	Squashed  rl.Color
	Anchor    rl.Color

	ShowPoints bool
}

// NewMeshRenderer creates a mesh renderer with the default palette.
func NewMeshRenderer() *MeshRenderer {
	return &MeshRenderer{
		MaxStrain: 0.25,
		Rest:      rl.Color{R: 90, G: 140, B: 200, A: 255},
		Stretched: rl.Color{R: 255, G: 120, B: 60, A: 255},
		Squashed:  rl.Color{R: 120, G: 230, B: 255, A: 255},
		Anchor:    rl.Color{R: 200, G: 200, B: 200, A: 255},
	}
}

// Draw renders every spring with at least one visible endpoint.
func (r *MeshRenderer) Draw(cam *camera.Camera, s *mesh.State) {
	for _, sp := range s.Springs {
		a := s.Positions[sp.First]
		b := s.Positions[sp.Second]
		if !cam.IsVisible(a.X, a.Y, sp.RestLength) && !cam.IsVisible(b.X, b.Y, sp.RestLength) {
			continue
		}

		ax, ay := cam.WorldToScreen(a.X, a.Y)
		bx, by := cam.WorldToScreen(b.X, b.Y)
		color := r.strainColor(components.Dist(a, b), sp.RestLength)
		rl.DrawLineV(rl.Vector2{X: ax, Y: ay}, rl.Vector2{X: bx, Y: by}, color)
	}

	if !r.ShowPoints && cam.Zoom < 24 {
		return
	}
	radius := max(cam.ScreenLength(0.06), 1.5)
	for i, p := range s.Positions {
		if !s.Static[i] || !cam.IsVisible(p.X, p.Y, 0.1) {
			continue
		}
		sx, sy := cam.WorldToScreen(p.X, p.Y)
		rl.DrawCircleV(rl.Vector2{X: sx, Y: sy}, radius, r.Anchor)
	}
}

// strainColor blends from the rest color toward the stretched or squashed
// color by relative length change.
func (r *MeshRenderer) strainColor(length, rest float32) rl.Color {
	if rest <= 0 || r.MaxStrain <= 0 {
		return r.Rest
	}
	strain := (length - rest) / rest
	t := float32(math.Min(math.Abs(float64(strain))/float64(r.MaxStrain), 1))
	if strain >= 0 {
		return lerpColor(r.Rest, r.Stretched, t)
	}
	return lerpColor(r.Rest, r.Squashed, t)
}

func lerpColor(a, b rl.Color, t float32) rl.Color {
	mix := func(x, y uint8) uint8 {
		return uint8(float32(x) + (float32(y)-float32(x))*t)
	}
	return rl.Color{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: mix(a.A, b.A)}
}
