package solver

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// minChunk is the smallest point range handed to one kernel goroutine.
const minChunk = 256

// CPUExecutor emulates a compute coprocessor on goroutines. A dispatcher
// drains a bounded queue in order and fans each dispatch out across a
// limited number of kernel goroutines.
type CPUExecutor struct {
	workers int
	latency time.Duration
	wire    bool

	mu     sync.RWMutex // guards closed against in-progress Submit
	closed bool
	topo   atomic.Pointer[Topology]

	queue chan *cpuJob
	stop  chan struct{}
	wg    sync.WaitGroup

	completed atomic.Uint64
}

type cpuJob struct {
	dispatch Dispatch
	payload  []byte // params then points, when the wire format is on
	out      []PointResult
	req      *request
}

// NewCPUExecutor starts an executor with the given kernel parallelism, queue
// depth and artificial per-dispatch latency.
func NewCPUExecutor(workers, queueDepth int, latency time.Duration) *CPUExecutor {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	e := &CPUExecutor{
		workers: workers,
		latency: latency,
		queue:   make(chan *cpuJob, queueDepth),
		stop:    make(chan struct{}),
	}
	e.wg.Add(1)
	go e.dispatcher()
	return e
}

// UseWireFormat makes the executor move every upload, dispatch and result
// through the encoded record form, as an out-of-process executor would.
// Call it before Upload.
func (e *CPUExecutor) UseWireFormat() *CPUExecutor {
	e.wire = true
	return e
}

// Upload validates and installs the static topology.
func (e *CPUExecutor) Upload(t *Topology) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if e.wire {
		var err error
		if t, err = roundTripTopology(t); err != nil {
			return err
		}
	}
	e.topo.Store(t)
	return nil
}

// roundTripTopology returns a copy of t whose springs and persistent points
// went through their wire encoding.
func roundTripTopology(t *Topology) (*Topology, error) {
	springs, err := EncodeSprings(nil, t.Springs)
	if err != nil {
		return nil, err
	}
	persistent, err := EncodePersistent(nil, t.Persistent)
	if err != nil {
		return nil, err
	}
	out := *t
	out.Springs = make([]SpringRecord, len(t.Springs))
	out.Persistent = make([]PersistentPoint, len(t.Persistent))
	if err := DecodeSprings(springs, out.Springs); err != nil {
		return nil, err
	}
	if err := DecodePersistent(persistent, out.Persistent); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submit queues d. The points are copied, so the caller may reuse them.
func (e *CPUExecutor) Submit(d Dispatch, out []PointResult) (Request, error) {
	t := e.topo.Load()
	if t == nil {
		return nil, ErrNoTopology
	}
	if len(d.Points) != t.PointCount() || len(out) != t.PointCount() {
		return nil, fmt.Errorf("solver: dispatch of %d points into %d results, topology has %d",
			len(d.Points), len(out), t.PointCount())
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrExecutorClosed
	}

	job := &cpuJob{dispatch: Dispatch{Frame: d.Frame}, out: out, req: newRequest()}
	if e.wire {
		buf, err := EncodeParams(make([]byte, 0, ParamsSize+len(d.Points)*PointInputSize), d.Params)
		if err == nil {
			buf, err = EncodePointInputs(buf, d.Points)
		}
		if err != nil {
			return nil, fmt.Errorf("solver: encoding dispatch %d: %w", d.Frame, err)
		}
		job.payload = buf
	} else {
		job.dispatch.Params = d.Params
		job.dispatch.Points = append([]PointInput(nil), d.Points...)
	}

	select {
	case e.queue <- job:
		return job.req, nil
	default:
		return nil, ErrExecutorBusy
	}
}

// Close stops the dispatcher. Queued requests fail with ErrExecutorClosed;
// a dispatch already running finishes first.
func (e *CPUExecutor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.stop)
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// Completed returns the number of dispatches that finished successfully.
func (e *CPUExecutor) Completed() uint64 { return e.completed.Load() }

func (e *CPUExecutor) dispatcher() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			e.drain()
			return
		case job := <-e.queue:
			e.run(job)
		}
	}
}

func (e *CPUExecutor) drain() {
	for {
		select {
		case job := <-e.queue:
			job.req.finish(ErrExecutorClosed)
		default:
			return
		}
	}
}

func (e *CPUExecutor) run(job *cpuJob) {
	if e.latency > 0 {
		timer := time.NewTimer(e.latency)
		select {
		case <-timer.C:
		case <-e.stop:
			timer.Stop()
			job.req.finish(ErrExecutorClosed)
			return
		}
	}

	if job.payload != nil {
		job.req.finish(e.runWire(job))
		return
	}
	job.req.finish(e.solve(&job.dispatch.Params, job.dispatch.Points, job.out))
}

// runWire decodes the dispatch, solves into a private buffer and hands the
// results back through their encoding.
func (e *CPUExecutor) runWire(job *cpuJob) error {
	n := len(job.out)
	if len(job.payload) != ParamsSize+n*PointInputSize {
		return fmt.Errorf("solver: dispatch %d payload is %d bytes, want %d",
			job.dispatch.Frame, len(job.payload), ParamsSize+n*PointInputSize)
	}
	params, err := DecodeParams(job.payload[:ParamsSize])
	if err != nil {
		return err
	}
	points := make([]PointInput, n)
	if err := DecodePointInputs(job.payload[ParamsSize:], points); err != nil {
		return err
	}

	results := make([]PointResult, n)
	if err := e.solve(&params, points, results); err != nil {
		return err
	}
	encoded, err := EncodeResults(make([]byte, 0, n*PointResultSize), results)
	if err != nil {
		return err
	}
	return DecodeResults(encoded, job.out)
}

// solve runs the kernel over all points on up to e.workers goroutines.
func (e *CPUExecutor) solve(p *Params, points []PointInput, out []PointResult) error {
	t := e.topo.Load()
	n := len(points)
	chunk := (n + e.workers - 1) / e.workers
	if chunk < minChunk {
		chunk = minChunk
	}

	var g errgroup.Group
	g.SetLimit(e.workers)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			SolvePoints(t, p, points, out, start, end)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		e.completed.Inc()
	}
	return err
}
