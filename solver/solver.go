package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/sony/gobreaker"
	"go.uber.org/atomic"

	"github.com/pthm-cable/springmesh/config"
	"github.com/pthm-cable/springmesh/mesh"
)

var (
	// ErrWaitTimeout marks a request that missed its latency deadline.
	ErrWaitTimeout = errors.New("solver: wait for result timed out")
	// ErrSolverUnavailable is returned by Step once faults have persisted past
	// the configured threshold. The simulation cannot continue.
	ErrSolverUnavailable = errors.New("solver: executor unavailable")
)

// Parallel runs fn over [0, n) split into disjoint ranges and returns once
// every range is done.
type Parallel interface {
	ParallelFor(n int, fn func(start, end int))
}

// Inline runs the whole range on the calling goroutine.
type Inline struct{}

// ParallelFor implements Parallel.
func (Inline) ParallelFor(n int, fn func(start, end int)) {
	if n > 0 {
		fn(0, n)
	}
}

// FaultKind classifies a tick on which forces were not applied because of an
// executor problem.
type FaultKind uint8

const (
	FaultNone     FaultKind = iota
	FaultSlotBusy           // target ring slot still in flight
	FaultSubmit             // executor refused the dispatch
	FaultExecutor           // request finished with an error
	FaultTimeout            // overdue request missed the wait deadline
)

func (k FaultKind) String() string {
	switch k {
	case FaultNone:
		return "none"
	case FaultSlotBusy:
		return "slot_busy"
	case FaultSubmit:
		return "submit"
	case FaultExecutor:
		return "executor"
	case FaultTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("FaultKind(%d)", uint8(k))
	}
}

// Report describes what one Step did.
type Report struct {
	Frame        uint64
	Submitted    bool
	Slot         SlotID // slot whose results were applied, -1 if none
	Applied      bool
	AppliedFrame uint64
	Latency      int // frames between submission and application
	Dropped      int // completed results superseded by a newer one
	Fault        FaultKind
	Err          error
}

// Stats are cumulative solver counters, safe to read from any goroutine.
type Stats struct {
	Submitted atomic.Uint64
	Applied   atomic.Uint64
	Dropped   atomic.Uint64
	Faults    atomic.Uint64
	Timeouts  atomic.Uint64
	Stale     atomic.Uint64 // ticks that held previous velocities
	InFlight  atomic.Int64
}

// Options configure a Solver.
type Options struct {
	// Executor runs dispatches. Nil starts a CPUExecutor from config.
	Executor Executor
	Logger   *slog.Logger
}

// Solver owns the executor, the result ring and the fault breaker.
type Solver struct {
	cfg     config.SolverConfig
	exec    Executor
	ring    *Ring
	breaker *gobreaker.TwoStepCircuitBreaker
	log     *slog.Logger

	frame   uint64
	springs int
	inputs  []PointInput
	scratch []SlotID

	stats Stats
}

// New uploads the topology of s and prepares the ring.
func New(cfg config.SolverConfig, s *mesh.State, opts Options) (*Solver, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exec := opts.Executor
	if exec == nil {
		workers := cfg.Workers
		if workers <= 0 {
			workers = runtime.GOMAXPROCS(0)
		}
		cpu := NewCPUExecutor(workers, cfg.QueueDepth, cfg.SimulatedLatency)
		if cfg.WireFormat {
			cpu.UseWireFormat()
		}
		exec = cpu
	}

	if err := exec.Upload(NewTopology(s)); err != nil {
		exec.Close()
		return nil, fmt.Errorf("uploading topology: %w", err)
	}

	sv := &Solver{
		cfg:     cfg,
		exec:    exec,
		ring:    NewRing(cfg.RingSlots, s.Len()),
		log:     logger,
		springs: len(s.Springs),
		inputs:  make([]PointInput, s.Len()),
		scratch: make([]SlotID, 0, cfg.RingSlots),
	}

	maxFaults := uint32(cfg.MaxConsecutiveFaults)
	sv.breaker = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name: "solver",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFaults
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("solver breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return sv, nil
}

// Stats returns the live counters.
func (sv *Solver) Stats() *Stats { return &sv.stats }

// Ring exposes the result ring for inspection.
func (sv *Solver) Ring() *Ring { return sv.ring }

// Frame returns the next frame number to be submitted.
func (sv *Solver) Frame() uint64 { return sv.frame }

// Close shuts the executor down.
func (sv *Solver) Close() error { return sv.exec.Close() }

// Step submits this tick's state and applies the newest eligible result.
//
// Results are applied only once they are at least MinLatencyFrames old. When
// the oldest pending request reaches MaxLatencyFrames, Step waits for it up to
// WaitTimeout. Any executor problem leaves velocities untouched for the tick
// and counts as a fault; ErrSolverUnavailable is returned once
// MaxConsecutiveFaults faults have happened in a row.
func (sv *Solver) Step(ctx context.Context, s *mesh.State, dt float32, pool Parallel) (Report, error) {
	if pool == nil {
		pool = Inline{}
	}
	if sv.breaker.State() == gobreaker.StateOpen {
		return Report{Frame: sv.frame}, ErrSolverUnavailable
	}

	frame := sv.frame
	sv.frame++
	rep := Report{Frame: frame, Slot: -1}

	sv.buildInputs(s, pool)
	sv.submit(frame, dt, &rep)

	results, ok, err := sv.retrieve(ctx, frame, &rep)
	if err != nil {
		return rep, err
	}
	if ok {
		sv.apply(s, results, pool)
		sv.ring.Release(rep.Slot)
		sv.record(true)
		sv.stats.Applied.Inc()
		rep.Applied = true
	} else {
		sv.stats.Stale.Inc()
	}
	sv.stats.InFlight.Store(int64(sv.ring.InFlight()))

	if sv.breaker.State() == gobreaker.StateOpen {
		counts := sv.breaker.Counts()
		return rep, fmt.Errorf("%w: %d consecutive faults, last: %v",
			ErrSolverUnavailable, counts.ConsecutiveFailures, rep.Err)
	}
	return rep, nil
}

func (sv *Solver) buildInputs(s *mesh.State, pool Parallel) {
	pool.ParallelFor(s.Len(), func(start, end int) {
		for i := start; i < end; i++ {
			p, v := s.Positions[i], s.Velocities[i]
			sv.inputs[i] = PointInput{PosX: p.X, PosY: p.Y, VelX: v.X, VelY: v.Y}
		}
	})
}

func (sv *Solver) submit(frame uint64, dt float32, rep *Report) {
	d := Dispatch{
		Frame:  frame,
		Params: NewParams(sv.cfg, dt, len(sv.inputs), sv.springs),
		Points: sv.inputs,
	}
	id, err := sv.ring.Submit(sv.exec, d)
	if err != nil {
		kind := FaultSubmit
		if errors.Is(err, ErrSlotInFlight) {
			kind = FaultSlotBusy
		}
		sv.fault(rep, kind, err)
		return
	}
	rep.Submitted = true
	sv.stats.Submitted.Inc()
	sv.log.Debug("solver submit", "frame", frame, "slot", int(id))
}

// retrieve scans pending slots oldest first and takes the newest completed one
// that is old enough, releasing older completed slots it supersedes.
func (sv *Solver) retrieve(ctx context.Context, frame uint64, rep *Report) ([]PointResult, bool, error) {
	sv.scratch = append(sv.scratch[:0], sv.ring.Pending()...)

	var (
		best    []PointResult
		bestID  SlotID = -1
		haveAny bool
	)
	for _, id := range sv.scratch {
		age := int(frame - sv.ring.Frame(id))
		if age < sv.cfg.MinLatencyFrames {
			break
		}

		results, ok, err := sv.ring.TryTake(id)
		if !ok {
			if age < sv.cfg.MaxLatencyFrames || haveAny {
				break
			}
			wctx, cancel := context.WithTimeout(ctx, sv.cfg.WaitTimeout)
			results, err = sv.ring.Wait(wctx, id)
			cancel()
			if err != nil && sv.ring.IsPending(id) {
				if ctx.Err() != nil {
					return nil, false, ctx.Err()
				}
				sv.stats.Timeouts.Inc()
				sv.fault(rep, FaultTimeout, fmt.Errorf("%w: frame %d after %v", ErrWaitTimeout, sv.ring.Frame(id), sv.cfg.WaitTimeout))
				break
			}
		}

		if err != nil {
			sv.ring.Release(id)
			sv.fault(rep, FaultExecutor, err)
			continue
		}
		if haveAny {
			sv.ring.Release(bestID)
			sv.record(true)
			sv.stats.Dropped.Inc()
			rep.Dropped++
		}
		best, bestID, haveAny = results, id, true
	}

	if !haveAny {
		return nil, false, nil
	}
	rep.Slot = bestID
	rep.AppliedFrame = sv.ring.Frame(bestID)
	rep.Latency = int(frame - rep.AppliedFrame)
	return best, true, nil
}

func (sv *Solver) apply(s *mesh.State, results []PointResult, pool Parallel) {
	pool.ParallelFor(s.Len(), func(start, end int) {
		for i := start; i < end; i++ {
			if s.Static[i] {
				continue
			}
			r := results[i]
			s.Velocities[i].X += r.DVX
			s.Velocities[i].Y += r.DVY
		}
	})
}

func (sv *Solver) fault(rep *Report, kind FaultKind, err error) {
	rep.Fault = kind
	rep.Err = err
	sv.stats.Faults.Inc()
	sv.record(false)
	sv.log.Warn("solver fault", "frame", rep.Frame, "kind", kind.String(), "err", err)
}

// record feeds one outcome to the breaker.
func (sv *Solver) record(success bool) {
	done, err := sv.breaker.Allow()
	if err != nil {
		return
	}
	done(success)
}

// WaitIdle blocks until every pending request has finished, or ctx ends, and
// frees their slots without applying them.
func (sv *Solver) WaitIdle(ctx context.Context) error {
	sv.scratch = append(sv.scratch[:0], sv.ring.Pending()...)
	for _, id := range sv.scratch {
		if _, err := sv.ring.Wait(ctx, id); err != nil && sv.ring.IsPending(id) {
			return err
		}
		sv.ring.Release(id)
	}
	sv.stats.InFlight.Store(int64(sv.ring.InFlight()))
	return nil
}
