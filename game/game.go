// Package game is the interactive raylib viewer: it turns mouse input into
// tool updates, steps the simulation and draws the sheet.
package game

import (
	"context"
	"fmt"

	rl "github.com/gen2brain/raylib-go/raylib"
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/springmesh/camera"
	"github.com/pthm-cable/springmesh/config"
	"github.com/pthm-cable/springmesh/renderer"
	"github.com/pthm-cable/springmesh/sim"
)

// maxStepsPerUpdate bounds the speed multiplier.
const maxStepsPerUpdate = 10

// Game holds the viewer state around a running simulation.
type Game struct {
	ctx context.Context
	sim *sim.Simulation
	cfg *config.Config

	camera       *camera.Camera
	meshRenderer *renderer.MeshRenderer

	// Pointer tool
	tool     ecs.Entity
	strength float32
	cutoff   float32

	// State
	paused         bool
	stepsPerUpdate int
	debugMode      bool
	showGrid       bool
	showPanel      bool

	// Window dimensions
	screenWidth, screenHeight float32
}

// New creates a viewer for s. The raylib window must already be open.
func New(ctx context.Context, s *sim.Simulation) *Game {
	cfg := s.Config()
	w := float32(rl.GetScreenWidth())
	h := float32(rl.GetScreenHeight())
	halfW := float32(cfg.Mesh.Width) / 2
	halfH := float32(cfg.Mesh.Height) / 2

	return &Game{
		ctx:            ctx,
		sim:            s,
		cfg:            cfg,
		camera:         camera.New(w, h, -halfW, -halfH, halfW, halfH, float32(cfg.Screen.Zoom)),
		meshRenderer:   renderer.NewMeshRenderer(),
		tool:           s.AddTool(0, 0),
		strength:       float32(cfg.Tool.Strength),
		cutoff:         float32(cfg.Tool.Cutoff),
		stepsPerUpdate: 1,
		showPanel:      true,
		screenWidth:    w,
		screenHeight:   h,
	}
}

// Update handles input and advances the simulation. A returned error is
// fatal.
func (g *Game) Update() error {
	g.handleInput()
	g.updateTool()

	if g.paused {
		return nil
	}
	dt := rl.GetFrameTime()
	for i := 0; i < g.stepsPerUpdate; i++ {
		if err := g.sim.Step(g.ctx, dt); err != nil {
			return fmt.Errorf("simulation step: %w", err)
		}
	}
	return nil
}

// Draw renders the frame.
func (g *Game) Draw() {
	g.sim.Perf().RecordFrame()

	rl.BeginDrawing()
	rl.ClearBackground(rl.Color{R: 12, G: 16, B: 24, A: 255})

	if g.showGrid {
		renderer.DrawGridCells(g.camera, float32(g.cfg.Grid.CellSize), rl.Color{R: 60, G: 60, B: 80, A: 90})
	}
	g.meshRenderer.Draw(g.camera, g.sim.State())
	g.drawTool()

	g.drawHUD()
	if g.debugMode {
		g.drawDebugMenu()
	}
	if g.showPanel {
		g.drawPanel()
	}

	rl.EndDrawing()
}

// Tick returns the simulation tick.
func (g *Game) Tick() uint64 { return g.sim.Tick() }

// Unload removes the pointer tool.
func (g *Game) Unload() {
	g.sim.RemoveTool(g.tool)
}
