package solver

import (
	"errors"
	"sync"
)

var (
	// ErrExecutorBusy is returned when the executor queue is full.
	ErrExecutorBusy = errors.New("solver: executor busy")
	// ErrExecutorClosed is returned by Submit after Close, and by requests
	// that were still queued when the executor shut down.
	ErrExecutorClosed = errors.New("solver: executor closed")
	// ErrNoTopology is returned by Submit before a successful Upload.
	ErrNoTopology = errors.New("solver: no topology uploaded")
)

// Executor runs solver dispatches asynchronously.
//
// Submit copies the dispatch and returns without waiting. The executor writes
// results into out until the returned request is done; the caller must not
// read or reuse out before then.
type Executor interface {
	Upload(t *Topology) error
	Submit(d Dispatch, out []PointResult) (Request, error)
	Close() error
}

// Request tracks one submitted dispatch.
type Request interface {
	// Done is closed once the executor has finished writing results.
	Done() <-chan struct{}
	// Err reports why the request failed. Only valid after Done is closed.
	Err() error
}

// request is a one-shot completion handle shared by the executors.
type request struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newRequest() *request {
	return &request{done: make(chan struct{})}
}

func (r *request) Done() <-chan struct{} { return r.done }

func (r *request) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

func (r *request) finish(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}
