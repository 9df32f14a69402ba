package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSWI() (*SWI, *Scheduler) {
	gate := NewGate(NewSimMask(), 0)
	sched := NewScheduler(gate)
	return NewSWI(gate, sched, NewTraceRing(gate, nil), 1), sched
}

func TestSWILifecycle(t *testing.T) {
	s, _ := newTestSWI()
	cb := func() {}

	assert.ErrorIs(t, s.Start(), ErrInvalidState)
	assert.ErrorIs(t, s.Stop(), ErrInvalidState)
	assert.ErrorIs(t, s.Init(nil), ErrNullArgument)
	assert.Equal(t, SWIUninitialized, s.State())

	require.NoError(t, s.Init(cb))
	assert.Equal(t, SWIReady, s.State())
	assert.ErrorIs(t, s.Init(cb), ErrInvalidState)
	assert.ErrorIs(t, s.Stop(), ErrInvalidState)

	require.NoError(t, s.Start())
	assert.Equal(t, SWIRunning, s.State())
	require.NoError(t, s.Start(), "start while running is idempotent")

	require.NoError(t, s.Stop())
	assert.Equal(t, SWIStopped, s.State())
	require.NoError(t, s.Stop())

	require.NoError(t, s.Start())
	assert.Equal(t, SWIRunning, s.State())

	require.NoError(t, s.Deinit())
	assert.Equal(t, SWIUninitialized, s.State())
	require.NoError(t, s.Deinit())
	assert.Equal(t, SWIUninitialized, s.State())
}

func TestSWITriggerOutsideRunning(t *testing.T) {
	s, sched := newTestSWI()
	var runs int
	cb := func() { runs++ }

	assert.ErrorIs(t, s.Trigger(), ErrInvalidState)

	require.NoError(t, s.Init(cb))
	assert.ErrorIs(t, s.Trigger(), ErrInvalidState)

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Trigger(), ErrInvalidState)

	require.NoError(t, s.Deinit())
	assert.ErrorIs(t, s.Trigger(), ErrInvalidState)

	sched.RunPending()
	assert.Equal(t, 0, runs)
}

func TestSWITriggersCoalesce(t *testing.T) {
	s, sched := newTestSWI()
	var runs int
	require.NoError(t, s.Init(func() { runs++ }))
	require.NoError(t, s.Start())

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Trigger())
	}
	assert.Equal(t, 0, runs, "trigger must not run the callback inline")

	sched.RunPending()
	assert.Equal(t, 1, runs)
	sched.RunPending()
	assert.Equal(t, 1, runs)

	stats := s.Stats()
	assert.Equal(t, uint64(10), stats.Triggers)
	assert.Equal(t, uint64(9), stats.Coalesced)
	assert.Equal(t, uint64(1), stats.Runs)
}

func TestSWITriggerDuringCallback(t *testing.T) {
	s, sched := newTestSWI()
	var runs int
	require.NoError(t, s.Init(func() {
		runs++
		if runs == 1 {
			require.NoError(t, s.Trigger())
		}
	}))
	require.NoError(t, s.Start())

	require.NoError(t, s.Trigger())
	sched.RunPending()
	sched.RunPending()
	assert.Equal(t, 2, runs)
}

func TestSWIStopCancelsPendingRun(t *testing.T) {
	s, sched := newTestSWI()
	var runs int
	require.NoError(t, s.Init(func() { runs++ }))
	require.NoError(t, s.Start())

	require.NoError(t, s.Trigger())
	require.NoError(t, s.Stop())
	assert.False(t, s.Pending())
	sched.RunPending()
	assert.Equal(t, 0, runs)

	require.NoError(t, s.Start())
	require.NoError(t, s.Trigger())
	require.NoError(t, s.Deinit())
	sched.RunPending()
	assert.Equal(t, 0, runs)
}

func TestSWITriggerFromInterrupt(t *testing.T) {
	gate := NewGate(NewSimMask(), 0)
	sched := NewScheduler(gate)
	s := NewSWI(gate, sched, nil, 2)

	var running, overlaps, runs atomic.Int32
	require.NoError(t, s.Init(func() {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(50 * time.Microsecond)
		running.Add(-1)
		runs.Add(1)
	}))
	require.NoError(t, s.Start())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sched.Run(ctx) }()

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				gate.Interrupt(func() { _ = s.Trigger() })
			}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	require.Eventually(t, func() bool { return runs.Load() >= 1 && !s.Pending() && running.Load() == 0 }, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, runs.Load(), int32(1))
	assert.LessOrEqual(t, runs.Load(), int32(200))
	assert.Equal(t, int32(0), overlaps.Load())
}
