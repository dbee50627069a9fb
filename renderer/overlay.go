package renderer

import (
	"math"

	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/springmesh/camera"
	"github.com/pthm-cable/springmesh/components"
)

// DrawTool renders a tool's reach. Active tools are filled, push in warm and
// pull in cool colors.
func DrawTool(cam *camera.Camera, pos components.Position, radius float32, mode components.ToolMode, active bool) {
	sx, sy := cam.WorldToScreen(pos.X, pos.Y)
	center := rl.Vector2{X: sx, Y: sy}
	r := cam.ScreenLength(radius)

	color := rl.Color{R: 255, G: 170, B: 80, A: 255}
	if mode == components.ToolPull {
		color = rl.Color{R: 110, G: 200, B: 255, A: 255}
	}

	if active {
		fill := color
		fill.A = 40
		rl.DrawCircleV(center, r, fill)
	} else {
		color.A = 120
	}
	rl.DrawCircleLines(int32(sx), int32(sy), r, color)
	rl.DrawCircleV(center, 3, color)
}

// DrawGridCells outlines the spatial hash cells inside the visible area.
func DrawGridCells(cam *camera.Camera, cellSize float32, color rl.Color) {
	if cellSize <= 0 || cam.ScreenLength(cellSize) < 6 {
		return
	}
	minX, minY, maxX, maxY := cam.VisibleWorldBounds()
	x0 := float32(math.Floor(float64(minX/cellSize))) * cellSize
	y0 := float32(math.Floor(float64(minY/cellSize))) * cellSize

	_, top := cam.WorldToScreen(0, minY)
	_, bottom := cam.WorldToScreen(0, maxY)
	for x := x0; x <= maxX; x += cellSize {
		sx, _ := cam.WorldToScreen(x, 0)
		rl.DrawLineV(rl.Vector2{X: sx, Y: top}, rl.Vector2{X: sx, Y: bottom}, color)
	}

	left, _ := cam.WorldToScreen(minX, 0)
	right, _ := cam.WorldToScreen(maxX, 0)
	for y := y0; y <= maxY; y += cellSize {
		_, sy := cam.WorldToScreen(0, y)
		rl.DrawLineV(rl.Vector2{X: left, Y: sy}, rl.Vector2{X: right, Y: sy}, color)
	}
}
