package sim

import (
	"math"
	"math/rand"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/springmesh/components"
)

// Poker drives one tool on a fixed schedule so headless runs see interaction.
// Every `every` ticks it presses the tool at a random point of the sheet,
// sweeps it along a short arc for a quarter of the interval, then releases.
// Presses alternate between push and pull.
type Poker struct {
	sim   *Simulation
	tool  ecs.Entity
	rng   *rand.Rand
	every uint64
	hold  uint64

	center components.Vec2
	angle  float32
	mode   components.ToolMode
	until  uint64
}

// NewPoker adds a tool to s. every <= 0 returns nil; a nil Poker does nothing.
func NewPoker(s *Simulation, every int, seed int64) *Poker {
	if every <= 0 {
		return nil
	}
	return &Poker{
		sim:   s,
		tool:  s.AddTool(0, 0),
		rng:   rand.New(rand.NewSource(seed)),
		every: uint64(every),
		hold:  max(uint64(every)/4, 1),
		mode:  components.ToolPull,
	}
}

// Update positions the tool for the given tick. Call it before Step.
func (p *Poker) Update(tick uint64) {
	if p == nil {
		return
	}

	if tick%p.every == 0 {
		halfW := float32(p.sim.cfg.Mesh.Width) / 2
		halfH := float32(p.sim.cfg.Mesh.Height) / 2
		p.center = components.Vec2{
			X: (p.rng.Float32()*2 - 1) * halfW * 0.8,
			Y: (p.rng.Float32()*2 - 1) * halfH * 0.8,
		}
		p.angle = p.rng.Float32() * 2 * math.Pi
		p.until = tick + p.hold
		if p.mode == components.ToolPush {
			p.mode = components.ToolPull
		} else {
			p.mode = components.ToolPush
		}
	}

	active := tick < p.until
	if active {
		p.angle += 0.05
	}
	x := p.center.X + float32(math.Cos(float64(p.angle)))
	y := p.center.Y + float32(math.Sin(float64(p.angle)))
	p.sim.UpdateTool(p.tool, x, y, active, p.mode)
}
