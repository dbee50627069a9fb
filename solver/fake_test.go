package solver

import (
	"sync"

	"github.com/pthm-cable/springmesh/config"
	"github.com/pthm-cable/springmesh/mesh"
)

// manualExecutor lets tests decide when and how requests finish.
type manualExecutor struct {
	mu        sync.Mutex
	topo      *Topology
	auto      bool  // run the kernel and finish inside Submit
	failWith  error // finish every request with this error
	submitErr error // refuse every submission
	reqs      []*request
	closed    bool
}

func (m *manualExecutor) Upload(t *Topology) error {
	m.topo = t
	return t.Validate()
}

func (m *manualExecutor) Submit(d Dispatch, out []PointResult) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	r := newRequest()
	m.reqs = append(m.reqs, r)
	switch {
	case m.failWith != nil:
		r.finish(m.failWith)
	case m.auto:
		SolvePoints(m.topo, &d.Params, d.Points, out, 0, len(d.Points))
		r.finish(nil)
	}
	return r, nil
}

// completeAll finishes every outstanding request successfully.
func (m *manualExecutor) completeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reqs {
		r.finish(nil)
	}
}

func (m *manualExecutor) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.completeAll()
	return nil
}

func testSheet(rows, cols int) *mesh.State {
	s, err := mesh.BuildGrid(rows, cols, 1, true)
	if err != nil {
		panic(err)
	}
	return s
}

func testSolverConfig() config.SolverConfig {
	return config.Defaults().Solver
}
