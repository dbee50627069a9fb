package game

import (
	"log/slog"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/springmesh/components"
)

// handleInput processes keyboard input.
func (g *Game) handleInput() {
	// Window resize propagation
	g.handleResize()

	// Fullscreen toggle
	if rl.IsKeyPressed(rl.KeyF11) {
		rl.ToggleFullscreen()
	}

	if rl.IsKeyPressed(rl.KeySpace) {
		g.paused = !g.paused
	}

	// Steps-per-update control with < > keys (comma and period)
	if rl.IsKeyPressed(rl.KeyComma) && g.stepsPerUpdate > 1 {
		g.stepsPerUpdate--
	}
	if rl.IsKeyPressed(rl.KeyPeriod) && g.stepsPerUpdate < maxStepsPerUpdate {
		g.stepsPerUpdate++
	}

	if rl.IsKeyPressed(rl.KeyD) {
		g.debugMode = !g.debugMode
	}
	if rl.IsKeyPressed(rl.KeyG) {
		g.showGrid = !g.showGrid
	}
	if rl.IsKeyPressed(rl.KeyTab) {
		g.showPanel = !g.showPanel
	}
	if rl.IsKeyPressed(rl.KeyR) {
		g.resetSheet()
	}

	// Camera controls
	g.handleCameraInput()
}

// resetSheet puts the sheet back at rest.
func (g *Game) resetSheet() {
	if err := g.sim.Reset(g.ctx); err != nil {
		slog.Error("reset failed", "error", err)
	}
}

// handleResize checks for window resize and propagates new dimensions.
func (g *Game) handleResize() {
	if !rl.IsWindowResized() {
		return
	}
	w := float32(rl.GetScreenWidth())
	h := float32(rl.GetScreenHeight())
	if w == g.screenWidth && h == g.screenHeight {
		return
	}
	g.screenWidth = w
	g.screenHeight = h
	g.camera.Resize(w, h)
}

// handleCameraInput processes camera pan/zoom controls.
func (g *Game) handleCameraInput() {
	const panPixels = 8

	// Arrow key panning
	if rl.IsKeyDown(rl.KeyRight) {
		g.camera.Pan(panPixels, 0)
	}
	if rl.IsKeyDown(rl.KeyLeft) {
		g.camera.Pan(-panPixels, 0)
	}
	if rl.IsKeyDown(rl.KeyDown) {
		g.camera.Pan(0, panPixels)
	}
	if rl.IsKeyDown(rl.KeyUp) {
		g.camera.Pan(0, -panPixels)
	}

	// Zoom toward the cursor with the mouse wheel
	if wheelMove := rl.GetMouseWheelMove(); wheelMove != 0 {
		mouse := rl.GetMousePosition()
		g.camera.ZoomAt(mouse.X, mouse.Y, 1+wheelMove*0.1)
	}

	// Keyboard zoom with +/- (= and - keys)
	if rl.IsKeyPressed(rl.KeyEqual) || rl.IsKeyPressed(rl.KeyKpAdd) {
		g.camera.ZoomBy(1.25)
	}
	if rl.IsKeyPressed(rl.KeyMinus) || rl.IsKeyPressed(rl.KeyKpSubtract) {
		g.camera.ZoomBy(0.8)
	}

	// Home key to reset camera
	if rl.IsKeyPressed(rl.KeyHome) {
		g.camera.Reset()
	}
}

// updateTool moves the pointer tool to the mouse. Left button pushes, right
// button pulls. Presses over the parameter panel are ignored.
func (g *Game) updateTool() {
	mouse := rl.GetMousePosition()
	wx, wy := g.camera.ScreenToWorld(mouse.X, mouse.Y)

	overPanel := g.showPanel && rl.CheckCollisionPointRec(mouse, g.panelBounds())
	push := rl.IsMouseButtonDown(rl.MouseButtonLeft)
	pull := rl.IsMouseButtonDown(rl.MouseButtonRight)

	mode := components.ToolPush
	if pull && !push {
		mode = components.ToolPull
	}
	g.sim.UpdateTool(g.tool, wx, wy, (push || pull) && !overPanel, mode)
}
