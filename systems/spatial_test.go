package systems

import (
	"errors"
	"math"
	"math/rand"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/pthm-cable/springmesh/components"
)

func TestCellKeyDeterminism(t *testing.T) {
	tests := []struct {
		name     string
		x, y     float32
		cellSize float32
		wantX    int32
		wantY    int32
	}{
		{"origin", 0, 0, 1, 0, 0},
		{"positive", 2.5, 3.99, 1, 2, 3},
		{"negative floors down", -0.1, -1.0, 1, -1, -1},
		{"larger cells", 7.9, -8.1, 4, 1, -3},
		{"huge clamps", 1e20, -1e20, 1, math.MaxInt32, math.MinInt32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cx, cy := CellCoord(tt.x, tt.y, tt.cellSize)
			if cx != tt.wantX || cy != tt.wantY {
				t.Errorf("CellCoord(%v, %v) = (%d, %d), want (%d, %d)", tt.x, tt.y, cx, cy, tt.wantX, tt.wantY)
			}
			if got, want := CellKey(tt.x, tt.y, tt.cellSize), KeyForCell(tt.wantX, tt.wantY); got != want {
				t.Errorf("CellKey = %#x, want %#x", got, want)
			}
		})
	}
}

func TestCellKeySameCellSameKey(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const cellSize = 0.75
	for i := 0; i < 2000; i++ {
		x := (rng.Float32() - 0.5) * 200
		y := (rng.Float32() - 0.5) * 200
		cx, cy := CellCoord(x, y, cellSize)
		// Any other point in the same cell
		ox := (float32(cx) + rng.Float32()*0.99) * cellSize
		oy := (float32(cy) + rng.Float32()*0.99) * cellSize
		ocx, ocy := CellCoord(ox, oy, cellSize)
		if ocx != cx || ocy != cy {
			continue // rounding pushed it across a boundary
		}
		if CellKey(x, y, cellSize) != CellKey(ox, oy, cellSize) {
			t.Fatalf("points (%v,%v) and (%v,%v) share cell (%d,%d) but keys differ", x, y, ox, oy, cx, cy)
		}
	}
}

func TestCellKeyInjective(t *testing.T) {
	seen := make(map[uint64][2]int32)
	coords := []int32{math.MinInt32, -70000, -1, 0, 1, 65535, 65536, math.MaxInt32}
	for _, x := range coords {
		for _, y := range coords {
			k := KeyForCell(x, y)
			if prev, ok := seen[k]; ok {
				t.Fatalf("cells %v and (%d,%d) share key %#x", prev, x, y, k)
			}
			seen[k] = [2]int32{x, y}
		}
	}
}

func TestNewSpatialHashRejectsBadCellSize(t *testing.T) {
	for _, cs := range []float32{0, -1, float32(math.NaN()), float32(math.Inf(1))} {
		if _, err := NewSpatialHash(16, cs); !errors.Is(err, ErrInvalidCellSize) {
			t.Errorf("NewSpatialHash(cellSize=%v) error = %v, want ErrInvalidCellSize", cs, err)
		}
	}
}

// buildHash inserts positions into the write buffer and toggles so they are queryable.
func buildHash(t *testing.T, positions []components.Vec2, cellSize float32) *SpatialHash {
	t.Helper()
	h, err := NewSpatialHash(len(positions), cellSize)
	if err != nil {
		t.Fatal(err)
	}
	w := h.Writer()
	for i, p := range positions {
		w.Insert(p, int32(i))
	}
	w.Close()
	h.Toggle()
	return h
}

func bruteForce(positions []components.Vec2, center components.Vec2, radius float32) []int32 {
	var out []int32
	r2 := radius * radius
	if !(radius >= 0) {
		return out
	}
	for i, p := range positions {
		if p.Sub(center).LenSq() <= r2 {
			out = append(out, int32(i))
		}
	}
	return out
}

func sorted(v []int32) []int32 {
	out := slices.Clone(v)
	slices.Sort(out)
	return out
}

func TestQueryMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 40; trial++ {
		cellSize := []float32{0.5, 1, 3}[trial%3]
		n := 200 + rng.Intn(800)
		positions := make([]components.Vec2, n)
		for i := range positions {
			positions[i] = components.Vec2{
				X: (rng.Float32() - 0.5) * 40,
				Y: (rng.Float32() - 0.5) * 40,
			}
		}
		h := buildHash(t, positions, cellSize)

		radii := []float32{0.1 * cellSize, cellSize, 2.5 * cellSize, 12 * cellSize}
		for _, radius := range radii {
			center := components.Vec2{X: (rng.Float32() - 0.5) * 44, Y: (rng.Float32() - 0.5) * 44}
			got := sorted(h.Query(center, radius, positions))
			want := bruteForce(positions, center, radius)
			if !slices.Equal(got, want) {
				t.Fatalf("trial %d cell %v radius %v center %v: got %d results, want %d",
					trial, cellSize, radius, center, len(got), len(want))
			}
		}
	}
}

func TestQueryZeroRadiusExactHits(t *testing.T) {
	positions := []components.Vec2{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1.5, Y: 1}, {X: 3, Y: 3}}
	h := buildHash(t, positions, 1)

	got := sorted(h.Query(components.Vec2{X: 1, Y: 1}, 0, positions))
	if !slices.Equal(got, []int32{0, 1}) {
		t.Errorf("zero radius query = %v, want [0 1]", got)
	}
	if got := h.Query(components.Vec2{X: 2, Y: 2}, 0, positions); len(got) != 0 {
		t.Errorf("zero radius miss = %v, want empty", got)
	}
}

func TestQueryNegativeRadiusEmpty(t *testing.T) {
	positions := []components.Vec2{{X: 0, Y: 0}}
	h := buildHash(t, positions, 1)
	if got := h.Query(components.Vec2{}, -1, positions); len(got) != 0 {
		t.Errorf("negative radius query = %v, want empty", got)
	}
	if got := h.Query(components.Vec2{}, float32(math.NaN()), positions); len(got) != 0 {
		t.Errorf("NaN radius query = %v, want empty", got)
	}
}

func TestQueryReadsOnlyReadBuffer(t *testing.T) {
	positions := []components.Vec2{{X: 0.5, Y: 0.5}, {X: 0.6, Y: 0.6}}
	h, err := NewSpatialHash(4, 1)
	if err != nil {
		t.Fatal(err)
	}
	h.Insert(positions[0], 0)

	if !h.IsEmpty() {
		t.Fatal("inserts must not be visible before Toggle")
	}
	h.Toggle()
	if h.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", h.Count())
	}

	// Writing the next snapshot leaves the current one untouched
	h.ClearWrite()
	h.Insert(positions[0], 0)
	h.Insert(positions[1], 1)
	if got := h.Query(components.Vec2{X: 0.5, Y: 0.5}, 1, positions); !slices.Equal(got, []int32{0}) {
		t.Errorf("query during rebuild = %v, want [0]", got)
	}
	h.Toggle()
	if h.Count() != 2 || h.CellCount() != 1 {
		t.Errorf("after toggle Count=%d CellCount=%d, want 2 and 1", h.Count(), h.CellCount())
	}
}

func TestToggleClearRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	positions := make([]components.Vec2, 300)
	for i := range positions {
		positions[i] = components.Vec2{X: rng.Float32() * 20, Y: rng.Float32() * 20}
	}
	h := buildHash(t, positions, 1)
	center := components.Vec2{X: 10, Y: 10}
	before := sorted(h.Query(center, 4, positions))

	h.Toggle()
	h.ClearWrite()
	w := h.Writer()
	for i, p := range positions {
		w.Insert(p, int32(i))
	}
	w.Close()
	h.Toggle()

	after := sorted(h.Query(center, 4, positions))
	if !slices.Equal(before, after) {
		t.Errorf("round trip changed results: before %d, after %d", len(before), len(after))
	}
}

func TestConcurrentInsert(t *testing.T) {
	const n = 20000
	positions := make([]components.Vec2, n)
	rng := rand.New(rand.NewSource(11))
	for i := range positions {
		positions[i] = components.Vec2{X: rng.Float32() * 50, Y: rng.Float32() * 50}
	}

	h, err := NewSpatialHash(n, 2)
	if err != nil {
		t.Fatal(err)
	}
	w := h.Writer()
	var wg sync.WaitGroup
	const workers = 8
	chunk := n / workers
	for k := 0; k < workers; k++ {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			for i := start; i < start+chunk; i++ {
				w.Insert(positions[i], int32(i))
			}
		}(k * chunk)
	}
	wg.Wait()
	w.Close()
	h.Toggle()

	if h.Count() != n {
		t.Fatalf("Count() = %d, want %d", h.Count(), n)
	}
	got := sorted(h.Query(components.Vec2{X: 25, Y: 25}, 100, positions))
	if len(got) != n {
		t.Fatalf("full query returned %d, want %d", len(got), n)
	}
	for i, v := range got {
		if v != int32(i) {
			t.Fatalf("missing or duplicate value at %d: %d", i, v)
		}
	}
}

func TestToggleWithOpenWriterPanics(t *testing.T) {
	h, err := NewSpatialHash(4, 1)
	if err != nil {
		t.Fatal(err)
	}
	w := h.Writer()
	defer func() {
		if recover() == nil {
			t.Error("expected Toggle to panic while a writer is open")
		}
		w.Close()
	}()
	h.Toggle()
}

func TestClearWriteWithOpenWriterPanics(t *testing.T) {
	h, err := NewSpatialHash(4, 1)
	if err != nil {
		t.Fatal(err)
	}
	w := h.Writer()
	defer func() {
		if recover() == nil {
			t.Error("expected ClearWrite to panic while a writer is open")
		}
	}()
	defer w.Close()
	h.ClearWrite()
}

func TestReserveKeepsContents(t *testing.T) {
	positions := []components.Vec2{{X: 0.2, Y: 0.2}, {X: 5, Y: 5}}
	h := buildHash(t, positions, 1)
	h.Reserve(1 << 12)
	if h.Capacity() != 1<<12 {
		t.Errorf("Capacity() = %d, want %d", h.Capacity(), 1<<12)
	}
	if h.Count() != 2 {
		t.Errorf("Count() after Reserve = %d, want 2", h.Count())
	}
	h.Reserve(8) // smaller requests are ignored
	if h.Capacity() != 1<<12 {
		t.Errorf("Capacity() shrank to %d", h.Capacity())
	}
}

// latticePoints places points on a half-cell lattice so many pairwise
// distances fall exactly on cell boundaries.
func latticePoints(cellSize float32, n int) []components.Vec2 {
	var out []components.Vec2
	for i := -n; i <= n; i++ {
		for j := -n; j <= n; j++ {
			out = append(out, components.Vec2{
				X: float32(i) * cellSize / 2,
				Y: float32(j) * cellSize / 2,
			})
		}
	}
	return out
}

func TestQueryBoundaryTiesMatchBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for _, cellSize := range []float32{0.1, 0.3, 0.7, 1.1} {
		positions := latticePoints(cellSize, 24)
		h := buildHash(t, positions, cellSize)
		for q := 0; q < 300; q++ {
			center := positions[rng.Intn(len(positions))]
			other := positions[rng.Intn(len(positions))]
			radius := other.Sub(center).Len()
			got := sorted(h.Query(center, radius, positions))
			want := bruteForce(positions, center, radius)
			if !slices.Equal(got, want) {
				t.Fatalf("cell %v center %v radius %v: got %d results, want %d",
					cellSize, center, radius, len(got), len(want))
			}
		}
	}
}

func TestQueryPointOnCircleInNeighborCell(t *testing.T) {
	const cellSize = 0.3
	center := components.Vec2{X: 5.25, Y: 0.3}
	const radius = 1.5
	positions := []components.Vec2{
		{X: 5.25, Y: 1.8000001},
		{X: 5.25, Y: 0.3},
		{X: 6.75, Y: 0.3},
		{X: 3.75, Y: 0.3},
		{X: 5.25, Y: -1.2},
	}
	// Filler keeps the cell scan, rather than the bucket scan, in use.
	for i := 0; i < 400; i++ {
		positions = append(positions, components.Vec2{X: float32(i%20) * cellSize, Y: float32(i/20)*cellSize + 3})
	}
	h := buildHash(t, positions, cellSize)

	got := sorted(h.Query(center, radius, positions))
	want := bruteForce(positions, center, radius)
	if !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if !slices.Contains(got, 0) {
		t.Errorf("point at distance %v on the circle was missed", positions[0].Sub(center).Len())
	}
}

func TestQueryHugeRadiusScansBuckets(t *testing.T) {
	positions := []components.Vec2{{X: 0, Y: 0}, {X: -3, Y: 7}, {X: 1e4, Y: -2e4}}
	h := buildHash(t, positions, 0.5)

	done := make(chan []int32, 1)
	go func() { done <- h.Query(components.Vec2{X: 1, Y: 1}, 1e9, positions) }()
	select {
	case got := <-done:
		if !slices.Equal(sorted(got), []int32{0, 1, 2}) {
			t.Errorf("huge radius query = %v, want every point", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("huge radius query did not finish")
	}

	got := h.Query(components.Vec2{X: 1e4, Y: -2e4}, float32(math.MaxFloat32), positions)
	if len(got) != len(positions) {
		t.Errorf("max radius query returned %d, want %d", len(got), len(positions))
	}
}

func TestClearWriteKeepsBuckets(t *testing.T) {
	h, err := NewSpatialHash(8, 1)
	if err != nil {
		t.Fatal(err)
	}
	key := CellKey(0.5, 0.5, 1)
	h.Insert(components.Vec2{X: 0.5, Y: 0.5}, 0)
	h.Insert(components.Vec2{X: 0.6, Y: 0.6}, 1)
	h.Insert(components.Vec2{X: 4.5, Y: 4.5}, 2)

	h.ClearWrite()
	b := h.write().get(key)
	if len(b) != 0 || cap(b) < 2 {
		t.Errorf("bucket after clear len=%d cap=%d, want empty with capacity kept", len(b), cap(b))
	}

	// Rebuild with fewer cells; emptied ones must not be counted
	h.Insert(components.Vec2{X: 0.5, Y: 0.5}, 0)
	h.Toggle()
	if h.CellCount() != 1 || h.Count() != 1 {
		t.Errorf("after rebuild CellCount=%d Count=%d, want 1 and 1", h.CellCount(), h.Count())
	}
	positions := []components.Vec2{{X: 0.5, Y: 0.5}, {X: 0.6, Y: 0.6}, {X: 4.5, Y: 4.5}}
	if got := h.Query(components.Vec2{X: 2, Y: 2}, 10, positions); !slices.Equal(got, []int32{0}) {
		t.Errorf("query after rebuild = %v, want [0]", got)
	}
}
