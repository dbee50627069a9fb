package components

// ToolMode selects whether a tool pushes points away or pulls them in.
type ToolMode uint8

const (
	ToolPush ToolMode = iota
	ToolPull
)

func (m ToolMode) String() string {
	if m == ToolPull {
		return "pull"
	}
	return "push"
}

// Tool is an interactive force source acting on mesh points near its Position.
type Tool struct {
	Cutoff     float32 // full query radius
	Strength   float32
	TimeFactor float32 // seconds until the radius reaches Cutoff (0 = instant)
	Mode       ToolMode
	Active     bool
	Held       float32 // seconds the tool has been active
}

// Drag tracks a tool's movement between ticks.
type Drag struct {
	PrevX, PrevY float32
	DirX, DirY   float32 // unit movement direction, zero when stationary
	HasPrev      bool
}
