// Package systems provides the per-tick simulation systems: the spatial hash,
// the integrator and the interactive impulse.
package systems

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/atomic"

	"github.com/pthm-cable/springmesh/components"
)

// ErrInvalidCellSize is returned when a grid is created with a non-positive cell size.
var ErrInvalidCellSize = errors.New("systems: cell size must be > 0")

// numShards splits each buffer so concurrent inserts rarely contend on one lock.
const numShards = 64

// CellKey packs the integer cell coordinates of a world position into one key:
// x in the high 32 bits, y in the low 32 bits. Coordinates outside the int32
// range are clamped.
func CellKey(x, y, cellSize float32) uint64 {
	cx, cy := CellCoord(x, y, cellSize)
	return KeyForCell(cx, cy)
}

// CellCoord returns the floor-divided cell coordinates of a world position.
func CellCoord(x, y, cellSize float32) (int32, int32) {
	return floorDiv(x, cellSize), floorDiv(y, cellSize)
}

// KeyForCell packs cell coordinates into a key.
func KeyForCell(cx, cy int32) uint64 {
	return uint64(uint32(cx))<<32 | uint64(uint32(cy))
}

func floorDiv(v, cellSize float32) int32 {
	f := math.Floor(float64(v) / float64(cellSize))
	switch {
	case f != f:
		return 0
	case f <= math.MinInt32:
		return math.MinInt32
	case f >= math.MaxInt32:
		return math.MaxInt32
	}
	return int32(f)
}

// staleCells is how many emptied cells a shard may keep beyond twice its
// occupied count before clear drops them.
const staleCells = 64

// shard is one lock-protected slice of a bucket map. Cells emptied by clear
// keep their key and backing array so the next rebuild appends in place.
type shard struct {
	mu       sync.Mutex
	cells    map[uint64][]int32
	count    int // entries
	occupied int // cells with at least one entry
}

// bucketMap is a multimap from cell key to point indices.
type bucketMap struct {
	shards [numShards]shard
}

func newBucketMap(capacity int) *bucketMap {
	m := &bucketMap{}
	hint := capacity / numShards
	for i := range m.shards {
		m.shards[i].cells = make(map[uint64][]int32, hint)
	}
	return m
}

func shardFor(key uint64) int {
	// Fibonacci hashing spreads neighboring cells across shards.
	return int((key * 0x9E3779B97F4A7C15) >> 58)
}

func (m *bucketMap) add(key uint64, value int32) {
	s := &m.shards[shardFor(key)]
	s.mu.Lock()
	b := s.cells[key]
	if len(b) == 0 {
		s.occupied++
	}
	s.cells[key] = append(b, value)
	s.count++
	s.mu.Unlock()
}

// get returns the bucket for key. Only safe while no writer is active.
func (m *bucketMap) get(key uint64) []int32 {
	return m.shards[shardFor(key)].cells[key]
}

// each calls fn for every non-empty bucket. Only safe while no writer is active.
func (m *bucketMap) each(fn func(bucket []int32)) {
	for i := range m.shards {
		for _, b := range m.shards[i].cells {
			if len(b) > 0 {
				fn(b)
			}
		}
	}
}

// clear empties every bucket but keeps its backing array. A shard that has
// accumulated too many empty cells, as the points drift, is reset instead.
func (m *bucketMap) clear() {
	for i := range m.shards {
		s := &m.shards[i]
		if len(s.cells) > 2*s.occupied+staleCells {
			clear(s.cells)
		} else {
			for k, b := range s.cells {
				s.cells[k] = b[:0]
			}
		}
		s.count = 0
		s.occupied = 0
	}
}

func (m *bucketMap) len() int {
	n := 0
	for i := range m.shards {
		n += m.shards[i].count
	}
	return n
}

func (m *bucketMap) cellCount() int {
	n := 0
	for i := range m.shards {
		n += m.shards[i].occupied
	}
	return n
}

// grow rehashes every shard into a map sized for capacity entries.
func (m *bucketMap) grow(capacity int) {
	hint := capacity / numShards
	for i := range m.shards {
		s := &m.shards[i]
		cells := make(map[uint64][]int32, hint)
		for k, v := range s.cells {
			cells[k] = v
		}
		s.cells = cells
	}
}

// SpatialHash is a double-buffered 2D hash grid of point indices.
//
// Writers fill the write buffer while queries read the other one. Toggle
// swaps the roles and must only be called once every writer has closed and
// no query is running; violating that panics.
type SpatialHash struct {
	cellSize float32
	capacity int
	buffers  [2]*bucketMap
	toggle   bool

	writers atomic.Int32
	readers atomic.Int32
}

// NewSpatialHash creates a grid with room for capacity entries per buffer.
func NewSpatialHash(capacity int, cellSize float32) (*SpatialHash, error) {
	if !(cellSize > 0) || math.IsInf(float64(cellSize), 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidCellSize, cellSize)
	}
	if capacity < 0 {
		capacity = 0
	}
	return &SpatialHash{
		cellSize: cellSize,
		capacity: capacity,
		buffers:  [2]*bucketMap{newBucketMap(capacity), newBucketMap(capacity)},
	}, nil
}

// CellSize returns the side length of a cell.
func (h *SpatialHash) CellSize() float32 { return h.cellSize }

// Capacity returns the reserved entry count of each buffer.
func (h *SpatialHash) Capacity() int { return h.capacity }

func (h *SpatialHash) write() *bucketMap {
	if h.toggle {
		return h.buffers[1]
	}
	return h.buffers[0]
}

func (h *SpatialHash) read() *bucketMap {
	if h.toggle {
		return h.buffers[0]
	}
	return h.buffers[1]
}

// ClearWrite empties the write buffer. Capacity is unchanged.
func (h *SpatialHash) ClearWrite() {
	if n := h.writers.Load(); n != 0 {
		panic(fmt.Sprintf("systems: ClearWrite with %d open writers", n))
	}
	h.write().clear()
}

// Reserve ensures both buffers can hold at least capacity entries.
func (h *SpatialHash) Reserve(capacity int) {
	if capacity <= h.capacity {
		return
	}
	h.assertIdle("Reserve")
	h.buffers[0].grow(capacity)
	h.buffers[1].grow(capacity)
	h.capacity = capacity
}

// Toggle swaps the write and read buffers.
func (h *SpatialHash) Toggle() {
	h.assertIdle("Toggle")
	h.toggle = !h.toggle
}

func (h *SpatialHash) assertIdle(op string) {
	if n := h.writers.Load(); n != 0 {
		panic(fmt.Sprintf("systems: %s with %d open writers", op, n))
	}
	if n := h.readers.Load(); n != 0 {
		panic(fmt.Sprintf("systems: %s with %d active queries", op, n))
	}
}

// HashWriter inserts into the write buffer. Insert is safe for concurrent use.
type HashWriter struct {
	buf      *bucketMap
	cellSize float32
	owner    *SpatialHash
	closed   atomic.Bool
}

// Writer opens a writer on the current write buffer. Close it before Toggle.
func (h *SpatialHash) Writer() *HashWriter {
	h.writers.Inc()
	return &HashWriter{buf: h.write(), cellSize: h.cellSize, owner: h}
}

// Insert adds value to the bucket of the cell containing pos.
func (w *HashWriter) Insert(pos components.Vec2, value int32) {
	w.buf.add(CellKey(pos.X, pos.Y, w.cellSize), value)
}

// Close releases the writer. Closing twice is a no-op.
func (w *HashWriter) Close() {
	if w.closed.CompareAndSwap(false, true) {
		w.owner.writers.Dec()
	}
}

// Insert adds a single value to the write buffer.
func (h *SpatialHash) Insert(pos components.Vec2, value int32) {
	w := h.Writer()
	w.Insert(pos, value)
	w.Close()
}

// QueryInto appends to dst every value in the read buffer whose position lies
// within radius of center. positions is indexed by the stored values and must
// be the snapshot the read buffer was built from. A zero radius returns exact
// hits only; a negative or NaN radius returns nothing.
//
// Cells entirely outside the circle are skipped, cells entirely inside are
// taken whole, and only boundary cells test each point's squared distance.
// When the circle covers more cells than are occupied, the occupied buckets
// are scanned instead.
func (h *SpatialHash) QueryInto(dst []int32, center components.Vec2, radius float32, positions []components.Vec2) []int32 {
	if !(radius >= 0) {
		return dst
	}
	h.readers.Inc()
	defer h.readers.Dec()

	buf := h.read()
	cs := h.cellSize
	r2 := radius * radius

	// Insertion floors in float64, so a point on the circle can land one cell
	// past the float32 range; scan one extra ring.
	minX, minY := CellCoord(center.X-radius, center.Y-radius, cs)
	maxX, maxY := CellCoord(center.X+radius, center.Y+radius, cs)
	x0, x1 := int64(minX)-1, int64(maxX)+1
	y0, y1 := int64(minY)-1, int64(maxY)+1

	occupied := int64(buf.cellCount())
	if cols, rows := x1-x0+1, y1-y0+1; cols > occupied || rows > occupied || cols*rows > occupied {
		buf.each(func(bucket []int32) {
			dst = appendWithin(dst, bucket, center, r2, positions)
		})
		return dst
	}

	// Stored points may sit a rounding error outside the float32 bounds of
	// their cell. pad widens every cell by that much and slack keeps the
	// whole-cell tests away from ties on the circle.
	mag := max(absf(center.X), absf(center.Y)) + radius + cs
	pad := cs*1e-4 + mag*1e-6
	slack := 4*radius*mag*2.4e-7 + r2*1e-5

	for cy := y0; cy <= y1; cy++ {
		for cx := x0; cx <= x1; cx++ {
			cellMinX := float32(cx)*cs - pad
			cellMaxX := float32(cx+1)*cs + pad
			cellMinY := float32(cy)*cs - pad
			cellMaxY := float32(cy+1)*cs + pad

			// Nearest point of the cell to the center
			var dx, dy float32
			if center.X < cellMinX {
				dx = cellMinX - center.X
			} else if center.X > cellMaxX {
				dx = center.X - cellMaxX
			}
			if center.Y < cellMinY {
				dy = cellMinY - center.Y
			} else if center.Y > cellMaxY {
				dy = center.Y - cellMaxY
			}
			if dx*dx+dy*dy > r2+slack {
				continue
			}

			bucket := buf.get(KeyForCell(int32(cx), int32(cy)))
			if len(bucket) == 0 {
				continue
			}

			if cornersInside(center, r2-slack, cellMinX, cellMinY, cellMaxX, cellMaxY) {
				dst = append(dst, bucket...)
				continue
			}
			dst = appendWithin(dst, bucket, center, r2, positions)
		}
	}
	return dst
}

func appendWithin(dst, bucket []int32, center components.Vec2, r2 float32, positions []components.Vec2) []int32 {
	for _, v := range bucket {
		if positions[v].Sub(center).LenSq() <= r2 {
			dst = append(dst, v)
		}
	}
	return dst
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// Query returns the values within radius of center in a new slice.
func (h *SpatialHash) Query(center components.Vec2, radius float32, positions []components.Vec2) []int32 {
	return h.QueryInto(nil, center, radius, positions)
}

func cornersInside(c components.Vec2, r2, minX, minY, maxX, maxY float32) bool {
	in := func(x, y float32) bool {
		dx, dy := x-c.X, y-c.Y
		return dx*dx+dy*dy <= r2
	}
	return in(minX, minY) && in(minX, maxY) && in(maxX, minY) && in(maxX, maxY)
}

// Count returns the number of entries in the read buffer.
func (h *SpatialHash) Count() int { return h.read().len() }

// IsEmpty reports whether the read buffer holds no entries.
func (h *SpatialHash) IsEmpty() bool { return h.Count() == 0 }

// CellCount returns the number of distinct cells in the read buffer.
func (h *SpatialHash) CellCount() int { return h.read().cellCount() }
