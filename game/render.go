package game

import (
	"fmt"

	gui "github.com/gen2brain/raylib-go/raygui"
	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/springmesh/renderer"
	"github.com/pthm-cable/springmesh/systems"
)

const (
	panelWidth  = 260
	panelHeight = 190
)

// drawTool renders the pointer tool at its current reach.
func (g *Game) drawTool() {
	tool, pos, ok := g.sim.Tools().Tool(g.tool)
	if !ok {
		return
	}
	radius := tool.Cutoff
	if tool.Active {
		radius = systems.RampRadius(tool.Cutoff, tool.Held, tool.TimeFactor)
	}
	renderer.DrawTool(g.camera, pos, radius, tool.Mode, tool.Active)
}

// drawHUD renders tick, speed and solver status.
func (g *Game) drawHUD() {
	rep := g.sim.LastReport()
	st := g.sim.State()

	rl.DrawText(fmt.Sprintf("Tick: %d", g.sim.Tick()), 10, 10, 20, rl.White)
	rl.DrawText(fmt.Sprintf("Points: %d  Springs: %d", st.Len(), len(st.Springs)), 10, 35, 20, rl.White)
	rl.DrawText(fmt.Sprintf("Speed: %dx  [</>]", g.stepsPerUpdate), 10, 60, 20, rl.White)

	status := fmt.Sprintf("Solver: latency %d  in flight %d", rep.Latency, g.sim.Solver().Ring().InFlight())
	color := rl.White
	if !rep.Applied {
		status = "Solver: holding velocities"
		color = rl.Yellow
	}
	if rep.Err != nil {
		status = fmt.Sprintf("Solver fault: %s", rep.Fault)
		color = rl.Red
	}
	rl.DrawText(status, 10, 85, 20, color)

	if g.paused {
		rl.DrawText("PAUSED", 10, 110, 20, rl.Yellow)
	}
	rl.DrawText("LMB push  RMB pull  R reset  G grid  D debug  Tab panel", 10, int32(g.screenHeight)-24, 16, rl.Gray)
}

// drawDebugMenu renders the debug overlay menu.
func (g *Game) drawDebugMenu() {
	panelX := int32(10)
	panelY := int32(140)
	panelW := int32(320)
	panelH := int32(110)

	rl.DrawRectangle(panelX, panelY, panelW, panelH, rl.Color{R: 0, G: 0, B: 0, A: 180})
	rl.DrawRectangleLines(panelX, panelY, panelW, panelH, rl.Yellow)
	rl.DrawText("DEBUG [D to close]", panelX+10, panelY+8, 14, rl.Yellow)

	perf := g.sim.Perf().Stats()
	stats := g.sim.Solver().Stats()
	rl.DrawText(fmt.Sprintf("Tick: %v  TPS: %.0f  slowest: %s", perf.AvgTickDuration, perf.TicksPerSecond, perf.Slowest()), panelX+10, panelY+30, 12, rl.White)
	rl.DrawText(fmt.Sprintf("Applied: %d  Dropped: %d", stats.Applied.Load(), stats.Dropped.Load()), panelX+10, panelY+48, 12, rl.White)
	rl.DrawText(fmt.Sprintf("Faults: %d  Timeouts: %d", stats.Faults.Load(), stats.Timeouts.Load()), panelX+10, panelY+66, 12, rl.White)
	rl.DrawText(fmt.Sprintf("Grid cells: %d", g.sim.Grid().CellCount()), panelX+10, panelY+84, 12, rl.White)
}

// panelBounds returns the screen rectangle of the parameter panel.
func (g *Game) panelBounds() rl.Rectangle {
	return rl.Rectangle{
		X:      g.screenWidth - panelWidth - 10,
		Y:      10,
		Width:  panelWidth,
		Height: panelHeight,
	}
}

// drawPanel renders the tool parameter sliders.
func (g *Game) drawPanel() {
	b := g.panelBounds()
	rl.DrawRectangleRec(b, rl.Color{R: 0, G: 0, B: 0, A: 180})
	rl.DrawRectangleLinesEx(b, 1, rl.Gray)

	x := b.X + 10
	y := b.Y + 10
	sliderW := b.Width - 80

	rl.DrawText("Tool strength", int32(x), int32(y), 14, rl.LightGray)
	y += 18
	strength := gui.SliderBar(rl.Rectangle{X: x, Y: y, Width: sliderW, Height: 20}, "", "", g.strength, 0.5, 60)
	rl.DrawText(fmt.Sprintf("%.1f", g.strength), int32(x+sliderW+10), int32(y+2), 16, rl.White)
	y += 35

	rl.DrawText("Tool radius", int32(x), int32(y), 14, rl.LightGray)
	y += 18
	cutoff := gui.SliderBar(rl.Rectangle{X: x, Y: y, Width: sliderW, Height: 20}, "", "", g.cutoff, 0.25, 12)
	rl.DrawText(fmt.Sprintf("%.2f", g.cutoff), int32(x+sliderW+10), int32(y+2), 16, rl.White)
	y += 35

	if strength != g.strength || cutoff != g.cutoff {
		g.strength, g.cutoff = strength, cutoff
		g.sim.Tools().SetStrength(strength, cutoff)
	}

	g.meshRenderer.ShowPoints = gui.CheckBox(rl.Rectangle{X: x, Y: y, Width: 18, Height: 18}, "Show anchors", g.meshRenderer.ShowPoints)
	y += 30

	if gui.Button(rl.Rectangle{X: x, Y: y, Width: 110, Height: 28}, "Reset sheet") {
		g.resetSheet()
	}
	if gui.Button(rl.Rectangle{X: x + 120, Y: y, Width: 110, Height: 28}, toggleText(g.paused, "Resume", "Pause")) {
		g.paused = !g.paused
	}
}

func toggleText(on bool, onText, offText string) string {
	if on {
		return onText
	}
	return offText
}
