package sim

import (
	"github.com/pthm-cable/springmesh/components"
	"github.com/pthm-cable/springmesh/systems"
)

// gridPipeline rebuilds the spatial hash off the tick goroutine.
//
// The rebuild launched at the end of tick K fills the write buffer from a
// copy of the positions while tick K+1 runs. At the end of tick K+1 it is
// waited on and toggled in, so queries always see a complete buffer together
// with the exact positions it was built from.
type gridPipeline struct {
	hash *systems.SpatialHash
	pool *WorkerPool

	// snaps[i] holds the positions the buffer built from them was filled with.
	snaps     [2][]components.Vec2
	readSnap  int
	writeSnap int

	done    chan struct{}
	pending bool
}

func newGridPipeline(hash *systems.SpatialHash, pool *WorkerPool, positions []components.Vec2) *gridPipeline {
	g := &gridPipeline{
		hash: hash,
		pool: pool,
		snaps: [2][]components.Vec2{
			make([]components.Vec2, len(positions)),
			make([]components.Vec2, len(positions)),
		},
	}

	// The first snapshot is built synchronously so queries work from frame 0.
	copy(g.snaps[0], positions)
	g.insertAll(g.snaps[0])
	hash.Toggle()
	g.readSnap = 0
	return g
}

// positions returns the snapshot matching the hash's read buffer.
func (g *gridPipeline) positions() []components.Vec2 { return g.snaps[g.readSnap] }

// query returns the point indices within radius of center in the read buffer.
func (g *gridPipeline) query(dst []int32, center components.Vec2, radius float32) []int32 {
	return g.hash.QueryInto(dst, center, radius, g.positions())
}

// advance publishes the previous rebuild, if any, and starts a new one from
// positions.
func (g *gridPipeline) advance(positions []components.Vec2) {
	if g.pending {
		<-g.done
		g.hash.Toggle()
		g.readSnap = g.writeSnap
		g.pending = false
	}

	g.hash.ClearWrite()
	g.writeSnap = 1 - g.readSnap
	snap := g.snaps[g.writeSnap]
	copy(snap, positions)

	done := make(chan struct{})
	g.done = done
	g.pending = true
	go func() {
		defer close(done)
		g.insertAll(snap)
	}()
}

// wait blocks until the in-flight rebuild, if any, has finished.
func (g *gridPipeline) wait() {
	if g.pending {
		<-g.done
	}
}

// reset discards any in-flight rebuild and synchronously rebuilds the read
// buffer from positions.
func (g *gridPipeline) reset(positions []components.Vec2) {
	g.wait()
	g.pending = false

	g.hash.ClearWrite()
	g.writeSnap = 1 - g.readSnap
	copy(g.snaps[g.writeSnap], positions)
	g.insertAll(g.snaps[g.writeSnap])
	g.hash.Toggle()
	g.readSnap = g.writeSnap
}

func (g *gridPipeline) insertAll(snap []components.Vec2) {
	w := g.hash.Writer()
	defer w.Close()
	g.pool.ParallelFor(len(snap), func(start, end int) {
		for i := start; i < end; i++ {
			w.Insert(snap[i], int32(i))
		}
	})
}
