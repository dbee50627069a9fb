package solver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/springmesh/components"
	"github.com/pthm-cable/springmesh/config"
	"github.com/pthm-cable/springmesh/mesh"
)

func newTestSolver(t *testing.T, s *mesh.State, exec Executor, tweak func(*Options)) *Solver {
	t.Helper()
	cfg := testSolverConfig()
	opts := Options{Executor: exec}
	if tweak != nil {
		tweak(&opts)
	}
	sv, err := New(cfg, s, opts)
	require.NoError(t, err)
	t.Cleanup(func() { sv.Close() })
	return sv
}

func newSolverWithConfig(t *testing.T, s *mesh.State, exec Executor, mutate func(c *config.SolverConfig)) *Solver {
	t.Helper()
	cfg := testSolverConfig()
	mutate(&cfg)
	sv, err := New(cfg, s, Options{Executor: exec})
	require.NoError(t, err)
	t.Cleanup(func() { sv.Close() })
	return sv
}

// disturb pushes the interior of s off rest so the solver has work to do.
func disturb(s *mesh.State) {
	for i := range s.Positions {
		if !s.Static[i] {
			s.Positions[i] = s.Positions[i].Add(components.Vec2{X: 0.2, Y: -0.1})
		}
	}
}

func TestStepAppliesWithOneFrameLatency(t *testing.T) {
	s := testSheet(5, 5)
	disturb(s)
	sv := newTestSolver(t, s, &manualExecutor{auto: true}, nil)
	ctx := context.Background()

	rep, err := sv.Step(ctx, s, 1.0/60, nil)
	require.NoError(t, err)
	assert.True(t, rep.Submitted)
	assert.False(t, rep.Applied, "results are never applied in the frame that submitted them")

	before := append([]components.Vec2(nil), s.Velocities...)
	rep, err = sv.Step(ctx, s, 1.0/60, nil)
	require.NoError(t, err)
	require.True(t, rep.Applied)
	assert.Equal(t, uint64(0), rep.AppliedFrame)
	assert.Equal(t, 1, rep.Latency)
	assert.Equal(t, FaultNone, rep.Fault)
	assert.NotEqual(t, before, s.Velocities)

	for i := range s.Velocities {
		if s.Static[i] {
			assert.Equal(t, components.Vec2{}, s.Velocities[i], "static point %d", i)
		}
	}

	for f := 2; f < 50; f++ {
		rep, err = sv.Step(ctx, s, 1.0/60, nil)
		require.NoError(t, err)
		require.True(t, rep.Applied, "frame %d", f)
		require.Equal(t, uint64(f-1), rep.AppliedFrame)
	}
	assert.Equal(t, uint64(50), sv.Stats().Submitted.Load())
	assert.Equal(t, uint64(49), sv.Stats().Applied.Load())
}

func TestStepTakesNewestCompletedResult(t *testing.T) {
	s := testSheet(4, 4)
	exec := &manualExecutor{}
	sv := newTestSolver(t, s, exec, nil)
	ctx := context.Background()

	// Frames 0 and 1 stay pending, then both complete before frame 2 retrieves
	for f := 0; f < 2; f++ {
		rep, err := sv.Step(ctx, s, 1.0/60, nil)
		require.NoError(t, err)
		require.False(t, rep.Applied)
	}
	exec.completeAll()

	rep, err := sv.Step(ctx, s, 1.0/60, nil)
	require.NoError(t, err)
	require.True(t, rep.Applied)
	assert.Equal(t, uint64(1), rep.AppliedFrame)
	assert.Equal(t, 1, rep.Dropped)
	assert.Equal(t, 1, sv.Ring().InFlight(), "only the frame just submitted is pending")
}

func TestStepTimeoutHoldsVelocities(t *testing.T) {
	s := testSheet(5, 5)
	disturb(s)
	exec := &manualExecutor{}
	sv := newSolverWithConfig(t, s, exec, func(c *config.SolverConfig) {
		c.MaxLatencyFrames = 3
		c.WaitTimeout = 5 * time.Millisecond
		c.MaxConsecutiveFaults = 100
	})
	ctx := context.Background()

	for f := 0; f < 3; f++ {
		rep, err := sv.Step(ctx, s, 1.0/60, nil)
		require.NoError(t, err)
		require.Equal(t, FaultNone, rep.Fault, "frame %d", f)
	}

	before := append([]components.Vec2(nil), s.Velocities...)
	rep, err := sv.Step(ctx, s, 1.0/60, nil)
	require.NoError(t, err, "a single timeout is not fatal")
	assert.Equal(t, FaultTimeout, rep.Fault)
	assert.ErrorIs(t, rep.Err, ErrWaitTimeout)
	assert.False(t, rep.Applied)
	assert.Equal(t, before, s.Velocities)
	assert.Equal(t, uint64(1), sv.Stats().Timeouts.Load())
	assert.Equal(t, 4, sv.Ring().InFlight(), "the overdue slot is still owned by the executor")
}

func TestStepFailedRequestSkipsApplication(t *testing.T) {
	s := testSheet(4, 4)
	disturb(s)
	boom := errors.New("device lost")
	sv := newTestSolver(t, s, &manualExecutor{failWith: boom}, nil)
	ctx := context.Background()

	_, err := sv.Step(ctx, s, 1.0/60, nil)
	require.NoError(t, err)

	before := append([]components.Vec2(nil), s.Velocities...)
	rep, err := sv.Step(ctx, s, 1.0/60, nil)
	require.NoError(t, err)
	assert.Equal(t, FaultExecutor, rep.Fault)
	assert.ErrorIs(t, rep.Err, boom)
	assert.False(t, rep.Applied)
	assert.Equal(t, before, s.Velocities)
}

func TestStepPersistentFaultsBecomeFatal(t *testing.T) {
	s := testSheet(4, 4)
	exec := &manualExecutor{submitErr: ErrExecutorBusy}
	sv := newSolverWithConfig(t, s, exec, func(c *config.SolverConfig) {
		c.MaxConsecutiveFaults = 3
	})
	ctx := context.Background()

	for f := 0; f < 2; f++ {
		rep, err := sv.Step(ctx, s, 1.0/60, nil)
		require.NoError(t, err, "frame %d", f)
		assert.Equal(t, FaultSubmit, rep.Fault)
		assert.ErrorIs(t, rep.Err, ErrExecutorBusy)
	}

	_, err := sv.Step(ctx, s, 1.0/60, nil)
	require.ErrorIs(t, err, ErrSolverUnavailable)

	_, err = sv.Step(ctx, s, 1.0/60, nil)
	require.ErrorIs(t, err, ErrSolverUnavailable, "the solver stays unavailable")
	assert.Equal(t, uint64(3), sv.Stats().Faults.Load())
}

func TestStepSuccessResetsFaultRun(t *testing.T) {
	s := testSheet(4, 4)
	exec := &manualExecutor{submitErr: ErrExecutorBusy}
	sv := newSolverWithConfig(t, s, exec, func(c *config.SolverConfig) {
		c.MaxConsecutiveFaults = 3
	})
	ctx := context.Background()

	for round := 0; round < 4; round++ {
		exec.submitErr = ErrExecutorBusy
		for f := 0; f < 2; f++ {
			_, err := sv.Step(ctx, s, 1.0/60, nil)
			require.NoError(t, err)
		}
		// Recover: two good frames so one result gets applied
		exec.submitErr = nil
		exec.auto = true
		for f := 0; f < 2; f++ {
			_, err := sv.Step(ctx, s, 1.0/60, nil)
			require.NoError(t, err, "round %d", round)
		}
	}
}

func TestStepHonorsContextCancel(t *testing.T) {
	s := testSheet(4, 4)
	sv := newSolverWithConfig(t, s, &manualExecutor{}, func(c *config.SolverConfig) {
		c.MaxLatencyFrames = 1
		c.WaitTimeout = time.Minute
	})
	_, err := sv.Step(context.Background(), s, 1.0/60, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sv.Step(ctx, s, 1.0/60, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitIdleFreesRing(t *testing.T) {
	s := testSheet(4, 4)
	exec := &manualExecutor{}
	sv := newTestSolver(t, s, exec, nil)
	ctx := context.Background()

	for f := 0; f < 3; f++ {
		_, err := sv.Step(ctx, s, 1.0/60, nil)
		require.NoError(t, err)
	}
	exec.completeAll()
	require.NoError(t, sv.WaitIdle(ctx))
	assert.Zero(t, sv.Ring().InFlight())
}
