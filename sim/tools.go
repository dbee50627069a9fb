package sim

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/springmesh/components"
	"github.com/pthm-cable/springmesh/config"
	"github.com/pthm-cable/springmesh/systems"
)

// initialHeld is the hold time a tool starts with when it activates, so the
// ramped radius is never zero on the first tick.
const initialHeld = 0.1

// ToolSystem owns the interactive tools as ECS entities.
type ToolSystem struct {
	world  *ecs.World
	mapper *ecs.Map3[components.Tool, components.Position, components.Drag]
	filter *ecs.Filter3[components.Tool, components.Position, components.Drag]

	minDistance float32
	dragWeight  float32
}

// NewToolSystem creates an empty tool world.
func NewToolSystem(cfg config.ToolConfig) *ToolSystem {
	world := ecs.NewWorld()
	return &ToolSystem{
		world:       world,
		mapper:      ecs.NewMap3[components.Tool, components.Position, components.Drag](world),
		filter:      ecs.NewFilter3[components.Tool, components.Position, components.Drag](world),
		minDistance: float32(cfg.MinDistance),
		dragWeight:  float32(cfg.DragWeight),
	}
}

// DefaultTool returns an inactive tool with the configured strength and reach.
func DefaultTool(cfg config.ToolConfig) components.Tool {
	return components.Tool{
		Cutoff:     float32(cfg.Cutoff),
		Strength:   float32(cfg.Strength),
		TimeFactor: float32(cfg.TimeFactor),
	}
}

// Add creates a tool entity at (x, y).
func (ts *ToolSystem) Add(tool components.Tool, x, y float32) ecs.Entity {
	pos := components.Position{X: x, Y: y}
	drag := components.Drag{}
	return ts.mapper.NewEntity(&tool, &pos, &drag)
}

// Remove deletes a tool entity.
func (ts *ToolSystem) Remove(e ecs.Entity) {
	if ts.world.Alive(e) {
		ts.world.RemoveEntity(e)
	}
}

// Update moves a tool and sets its mode. Drag direction is derived from the
// movement on the next Apply.
func (ts *ToolSystem) Update(e ecs.Entity, x, y float32, active bool, mode components.ToolMode) {
	if !ts.world.Alive(e) {
		return
	}
	tool, pos, _ := ts.mapper.Get(e)
	pos.X, pos.Y = x, y
	if active && !tool.Active {
		tool.Held = initialHeld
	}
	if !active {
		tool.Held = 0
	}
	tool.Active = active
	tool.Mode = mode
}

// Tool returns the current state of a tool.
func (ts *ToolSystem) Tool(e ecs.Entity) (components.Tool, components.Position, bool) {
	if !ts.world.Alive(e) {
		return components.Tool{}, components.Position{}, false
	}
	tool, pos, _ := ts.mapper.Get(e)
	return *tool, *pos, true
}

// SetStrength updates the strength and cutoff of every tool.
func (ts *ToolSystem) SetStrength(strength, cutoff float32) {
	query := ts.filter.Query()
	for query.Next() {
		tool, _, _ := query.Get()
		tool.Strength = strength
		tool.Cutoff = cutoff
	}
}

// ImpulseFunc queries the grid around center and applies one impulse,
// returning the affected point count.
type ImpulseFunc func(center components.Vec2, radius float32, imp systems.Impulse) int

// Apply advances every tool by dt and fires the active ones through apply.
// It returns the total number of points affected.
func (ts *ToolSystem) Apply(dt float32, apply ImpulseFunc) int {
	affected := 0
	query := ts.filter.Query()
	for query.Next() {
		tool, pos, drag := query.Get()

		updateDrag(drag, pos)
		if !tool.Active {
			continue
		}
		tool.Held += dt

		radius := systems.RampRadius(tool.Cutoff, tool.Held, tool.TimeFactor)
		affected += apply(pos.Vec(), radius, systems.Impulse{
			Center:      pos.Vec(),
			Strength:    tool.Strength,
			MinDistance: ts.minDistance,
			DragWeight:  ts.dragWeight,
			Drag:        components.Vec2{X: drag.DirX, Y: drag.DirY},
			Pull:        tool.Mode == components.ToolPull,
		})
	}
	return affected
}

// updateDrag records the unit direction the tool moved since the last tick.
func updateDrag(drag *components.Drag, pos *components.Position) {
	if drag.HasPrev {
		d := components.Vec2{X: pos.X - drag.PrevX, Y: pos.Y - drag.PrevY}.Normalized()
		drag.DirX, drag.DirY = d.X, d.Y
	}
	drag.PrevX, drag.PrevY = pos.X, pos.Y
	drag.HasPrev = true
}

// Count returns the number of tools.
func (ts *ToolSystem) Count() int {
	n := 0
	query := ts.filter.Query()
	for query.Next() {
		n++
	}
	return n
}
