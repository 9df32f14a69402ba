package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// Work is a unit of deferred work. Posting an already pending Work is a no-op,
// so a burst of posts before the scheduler runs yields a single Handler call.
type Work struct {
	Handler func()
	pending atomic.Bool
}

// Pending reports whether w is waiting to run.
func (w *Work) Pending() bool {
	return w.pending.Load()
}

// Scheduler is the deferred-execution context: a run queue of registered Work
// items drained by one task. Post is safe from interrupt context.
type Scheduler struct {
	gate    *Gate
	wake    *Signal
	items   []*Work // guarded by gate, replaced on write
	runMu   sync.Mutex
	running atomic.Bool
}

// NewScheduler creates an empty scheduler guarded by gate.
func NewScheduler(gate *Gate) *Scheduler {
	return &Scheduler{gate: gate, wake: NewSignal()}
}

// Register adds w to the run queue. Registering twice is a no-op.
func (s *Scheduler) Register(w *Work) {
	s.gate.Enter()
	defer s.gate.Exit()
	for _, item := range s.items {
		if item == w {
			return
		}
	}
	items := make([]*Work, len(s.items), len(s.items)+1)
	copy(items, s.items)
	s.items = append(items, w)
}

// Unregister removes w and drops any pending post.
func (s *Scheduler) Unregister(w *Work) {
	s.gate.Enter()
	defer s.gate.Exit()
	w.pending.Store(false)
	items := make([]*Work, 0, len(s.items))
	for _, item := range s.items {
		if item != w {
			items = append(items, item)
		}
	}
	s.items = items
}

// Post marks w pending and wakes the scheduler. It returns false when w was
// already pending and the post coalesced. Never blocks.
func (s *Scheduler) Post(w *Work) bool {
	if !w.pending.CompareAndSwap(false, true) {
		return false
	}
	s.wake.Notify()
	return true
}

// Cancel drops a pending post of w, reporting whether one was dropped.
func (s *Scheduler) Cancel(w *Work) bool {
	return w.pending.Swap(false)
}

// RunPending runs every pending item once on the calling task and returns
// how many ran. The pending flag is cleared before the handler runs, so a post
// made by or during the handler schedules another run.
func (s *Scheduler) RunPending() int {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.gate.Enter()
	items := s.items
	s.gate.Exit()

	ran := 0
	for _, w := range items {
		if w.pending.Swap(false) {
			ran++
			if w.Handler != nil {
				w.Handler()
			}
		}
	}
	return ran
}

// Run drains the queue whenever it is woken until ctx is done. Only one Run
// may be active at a time.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSchedulerRunning
	}
	defer s.running.Store(false)

	for {
		s.RunPending()
		if err := s.wake.Wait(ctx); err != nil {
			return err
		}
	}
}
