package solver

import (
	"context"
	"errors"
	"fmt"
)

// ErrSlotInFlight is returned when a submission targets a slot whose previous
// request has not been taken and released.
var ErrSlotInFlight = errors.New("solver: ring slot still in flight")

// SlotID identifies a ring slot.
type SlotID int

type slotState uint8

const (
	slotFree slotState = iota
	slotPending
	slotTaken
)

func (s slotState) String() string {
	switch s {
	case slotFree:
		return "free"
	case slotPending:
		return "pending"
	case slotTaken:
		return "taken"
	default:
		return fmt.Sprintf("slotState(%d)", uint8(s))
	}
}

type slot struct {
	state   slotState
	frame   uint64
	req     Request
	results []PointResult
}

// Ring is a fixed set of result buffers for pipelined solver requests.
//
// Frame f always lands in slot f mod N. A slot moves free -> pending on
// Submit, pending -> taken once its request is done and TryTake or Wait
// hands it out, and taken -> free on Release. Results are only visible in the
// taken state, so the simulation never reads memory the executor is still
// writing.
type Ring struct {
	slots   []slot
	pending []SlotID // oldest submission first
}

// NewRing allocates n slots holding results for points points each.
func NewRing(n, points int) *Ring {
	r := &Ring{
		slots:   make([]slot, n),
		pending: make([]SlotID, 0, n),
	}
	for i := range r.slots {
		r.slots[i].results = make([]PointResult, points)
	}
	return r
}

// Len returns the number of slots.
func (r *Ring) Len() int { return len(r.slots) }

// SlotFor returns the slot frame maps to.
func (r *Ring) SlotFor(frame uint64) SlotID {
	return SlotID(frame % uint64(len(r.slots)))
}

// IsFree reports whether id can accept a submission.
func (r *Ring) IsFree(id SlotID) bool { return r.slots[id].state == slotFree }

// IsPending reports whether id holds a request that has not been taken.
func (r *Ring) IsPending(id SlotID) bool { return r.slots[id].state == slotPending }

// Frame returns the frame last submitted into id.
func (r *Ring) Frame(id SlotID) uint64 { return r.slots[id].frame }

// InFlight returns the number of pending slots.
func (r *Ring) InFlight() int { return len(r.pending) }

// Pending returns the pending slots, oldest first. The slice is only valid
// until the next call that changes the ring.
func (r *Ring) Pending() []SlotID { return r.pending }

// Submit sends d to exec with results written into slot d.Frame mod N.
func (r *Ring) Submit(exec Executor, d Dispatch) (SlotID, error) {
	id := r.SlotFor(d.Frame)
	s := &r.slots[id]
	if s.state != slotFree {
		return id, fmt.Errorf("%w: slot %d is %s with frame %d, cannot take frame %d",
			ErrSlotInFlight, id, s.state, s.frame, d.Frame)
	}

	req, err := exec.Submit(d, s.results)
	if err != nil {
		return id, err
	}
	s.state = slotPending
	s.frame = d.Frame
	s.req = req
	r.pending = append(r.pending, id)
	return id, nil
}

// TryTake returns the results of id if its request has finished. ok is false
// while the request is still running. Once ok is true the slot is taken,
// even when err reports a failed request, and must be released.
func (r *Ring) TryTake(id SlotID) (results []PointResult, ok bool, err error) {
	s := r.mustPending(id, "TryTake")
	select {
	case <-s.req.Done():
		results, err = r.take(id)
		return results, true, err
	default:
		return nil, false, nil
	}
}

// Wait blocks until id's request finishes or ctx ends. On a ctx error the
// slot stays pending.
func (r *Ring) Wait(ctx context.Context, id SlotID) ([]PointResult, error) {
	s := r.mustPending(id, "Wait")
	select {
	case <-s.req.Done():
		return r.take(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a taken slot to the free state.
func (r *Ring) Release(id SlotID) {
	s := &r.slots[id]
	if s.state != slotTaken {
		panic(fmt.Sprintf("solver: Release of slot %d in state %s", id, s.state))
	}
	s.state = slotFree
	s.req = nil
}

func (r *Ring) mustPending(id SlotID, op string) *slot {
	s := &r.slots[id]
	if s.state != slotPending {
		panic(fmt.Sprintf("solver: %s of slot %d in state %s", op, id, s.state))
	}
	return s
}

func (r *Ring) take(id SlotID) ([]PointResult, error) {
	s := &r.slots[id]
	s.state = slotTaken
	for i, p := range r.pending {
		if p == id {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			break
		}
	}
	if err := s.req.Err(); err != nil {
		return nil, fmt.Errorf("solver: frame %d: %w", s.frame, err)
	}
	return s.results, nil
}
