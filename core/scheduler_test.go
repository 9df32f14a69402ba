package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerPostCoalesces(t *testing.T) {
	s := NewScheduler(NewGate(NewSimMask(), 0))
	var runs int
	w := &Work{Handler: func() { runs++ }}
	s.Register(w)

	assert.True(t, s.Post(w))
	assert.False(t, s.Post(w))
	assert.False(t, s.Post(w))
	assert.True(t, w.Pending())

	assert.Equal(t, 1, s.RunPending())
	assert.Equal(t, 1, runs)
	assert.False(t, w.Pending())
	assert.Equal(t, 0, s.RunPending())
}

func TestSchedulerPostFromHandlerRunsAgain(t *testing.T) {
	s := NewScheduler(NewGate(NewSimMask(), 0))
	var runs int
	var w *Work
	w = &Work{Handler: func() {
		runs++
		if runs == 1 {
			s.Post(w)
		}
	}}
	s.Register(w)
	s.Register(w)

	s.Post(w)
	s.RunPending()
	assert.Equal(t, 1, runs)
	assert.True(t, w.Pending())
	s.RunPending()
	assert.Equal(t, 2, runs)
}

func TestSchedulerCancelAndUnregister(t *testing.T) {
	s := NewScheduler(NewGate(NewSimMask(), 0))
	var runs int
	a := &Work{Handler: func() { runs++ }}
	b := &Work{Handler: func() { runs += 10 }}
	s.Register(a)
	s.Register(b)

	s.Post(a)
	assert.True(t, s.Cancel(a))
	assert.False(t, s.Cancel(a))

	s.Post(b)
	s.Unregister(b)
	assert.Equal(t, 0, s.RunPending())
	assert.Equal(t, 0, runs)
}

func TestSchedulerRun(t *testing.T) {
	s := NewScheduler(NewGate(NewSimMask(), 0))
	var runs atomic.Int32
	w := &Work{Handler: func() { runs.Add(1) }}
	s.Register(w)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	s.Post(w)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)

	// wait until the first Run owns the scheduler before probing a second one
	require.Eventually(t, func() bool { return s.running.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, s.Run(ctx), ErrSchedulerRunning)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}
