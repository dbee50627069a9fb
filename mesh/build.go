package mesh

import (
	"errors"
	"fmt"
	"math"

	"github.com/pthm-cable/springmesh/components"
	"github.com/pthm-cable/springmesh/config"
)

// ErrInvalidDimensions is returned when the configured sheet has no points.
var ErrInvalidDimensions = errors.New("mesh: invalid dimensions")

// Build constructs the point sheet and its spring topology.
//
// Points are laid out row-major, centered on the origin, with spacing
// 1/density. Each point links to its left and lower neighbors, and every
// point in rows >= 1 and columns 1..cols-2 also links to both diagonal
// neighbors in the previous row, giving a sheet that resists shear.
func Build(cfg config.MeshConfig) (*State, error) {
	if !(cfg.Density > 0) || math.IsInf(cfg.Density, 0) {
		return nil, fmt.Errorf("%w: density %v", ErrInvalidDimensions, cfg.Density)
	}
	cols := int(cfg.Width * cfg.Density)
	rows := int(cfg.Height * cfg.Density)
	if cols < 1 || rows < 1 {
		return nil, fmt.Errorf("%w: %dx%d points (width %v, height %v, density %v)",
			ErrInvalidDimensions, cols, rows, cfg.Width, cfg.Height, cfg.Density)
	}
	return BuildGrid(rows, cols, float32(cfg.Density), cfg.StaticBorder)
}

// BuildGrid constructs a rows x cols sheet directly.
func BuildGrid(rows, cols int, density float32, staticBorder bool) (*State, error) {
	if rows < 1 || cols < 1 || !(density > 0) {
		return nil, fmt.Errorf("%w: %dx%d points at density %v", ErrInvalidDimensions, rows, cols, density)
	}

	n := rows * cols
	s := &State{
		Cols:       cols,
		Rows:       rows,
		Positions:  make([]components.Vec2, n),
		Velocities: make([]components.Vec2, n),
		Initial:    make([]components.Vec2, n),
		Static:     make([]bool, n),
	}

	halfC := cols / 2
	halfR := rows / 2
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			p := components.Vec2{
				X: float32(c-halfC) / density,
				Y: float32(r-halfR) / density,
			}
			s.Initial[i] = p
			s.Positions[i] = p
			if staticBorder && (r == 0 || c == 0 || r == rows-1 || c == cols-1) {
				s.Static[i] = true
			}
		}
	}

	s.Springs = make([]Spring, 0, springCount(rows, cols))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			if c > 0 {
				s.addSpring(i, i-1)
			}
			if r > 0 {
				s.addSpring(i, i-cols)
			}
		}
	}
	for r := 1; r < rows; r++ {
		for c := 1; c < cols-1; c++ {
			i := r*cols + c
			s.addSpring(i, i-cols-1)
			s.addSpring(i, i-cols+1)
		}
	}

	s.buildAdjacency()
	return s, nil
}

func springCount(rows, cols int) int {
	n := rows*(cols-1) + cols*(rows-1)
	if rows > 1 && cols > 2 {
		n += 2 * (rows - 1) * (cols - 2)
	}
	return n
}

func (s *State) addSpring(a, b int) {
	s.Springs = append(s.Springs, Spring{
		First:      int32(a),
		Second:     int32(b),
		RestLength: components.Dist(s.Initial[a], s.Initial[b]),
	})
}

// buildAdjacency flattens the per-point incident spring lists into CSR arrays
// sized exactly to the topology.
func (s *State) buildAdjacency() {
	n := len(s.Positions)
	s.Offsets = make([]int32, n+1)
	for _, sp := range s.Springs {
		s.Offsets[sp.First+1]++
		s.Offsets[sp.Second+1]++
	}
	for i := 0; i < n; i++ {
		s.Offsets[i+1] += s.Offsets[i]
	}

	s.Incident = make([]int32, s.Offsets[n])
	fill := make([]int32, n)
	copy(fill, s.Offsets[:n])
	for si, sp := range s.Springs {
		s.Incident[fill[sp.First]] = int32(si)
		fill[sp.First]++
		s.Incident[fill[sp.Second]] = int32(si)
		fill[sp.Second]++
	}
}
