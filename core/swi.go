package core

import "sync/atomic"

// SWIState is the lifecycle state of a software interrupt.
type SWIState int32

const (
	SWIUninitialized SWIState = iota
	SWIReady
	SWIRunning
	SWIStopped
)

func (s SWIState) String() string {
	switch s {
	case SWIUninitialized:
		return "uninitialized"
	case SWIReady:
		return "ready"
	case SWIRunning:
		return "running"
	case SWIStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SWIStats counts trigger outcomes.
type SWIStats struct {
	Triggers  uint64 // accepted triggers, coalesced ones included
	Coalesced uint64 // triggers merged into an already pending run
	Runs      uint64 // callback invocations
}

// SWI is a software interrupt: Trigger, from any context, schedules one
// future run of the callback on the Scheduler. Triggers that arrive before the
// callback runs coalesce into that run.
//
// Start while already running is idempotent and keeps the registered
// callback; to replace the callback, Deinit and Init again.
type SWI struct {
	gate  *Gate
	sched *Scheduler
	trace *TraceRing
	id    uint8
	work  Work

	// guarded by gate
	state    SWIState
	callback func()

	triggers  atomic.Uint64
	coalesced atomic.Uint64
	runs      atomic.Uint64
}

// NewSWI creates an uninitialized SWI whose callback runs on sched. id only
// labels trace events; trace may be nil.
func NewSWI(gate *Gate, sched *Scheduler, trace *TraceRing, id uint8) *SWI {
	s := &SWI{gate: gate, sched: sched, trace: trace, id: id}
	s.work.Handler = s.run
	sched.Register(&s.work)
	return s
}

// Init stores cb and moves Uninitialized → Ready.
func (s *SWI) Init(cb func()) error {
	if cb == nil {
		return ErrNullArgument
	}
	s.gate.Enter()
	defer s.gate.Exit()
	if s.state != SWIUninitialized {
		return ErrInvalidState
	}
	s.callback = cb
	s.state = SWIReady
	return nil
}

// Start enables delivery: Ready|Stopped → Running.
func (s *SWI) Start() error {
	s.gate.Enter()
	defer s.gate.Exit()
	switch s.state {
	case SWIReady, SWIStopped:
		s.state = SWIRunning
		return nil
	case SWIRunning:
		return nil
	default:
		return ErrInvalidState
	}
}

// Stop disables delivery without forgetting the callback. A run that was
// triggered but has not started yet is cancelled.
func (s *SWI) Stop() error {
	s.gate.Enter()
	defer s.gate.Exit()
	switch s.state {
	case SWIRunning:
		s.state = SWIStopped
		s.sched.Cancel(&s.work)
		return nil
	case SWIStopped:
		return nil
	default:
		return ErrInvalidState
	}
}

// Deinit returns to Uninitialized and releases the callback. It always
// succeeds.
func (s *SWI) Deinit() error {
	s.gate.Enter()
	defer s.gate.Exit()
	s.state = SWIUninitialized
	s.callback = nil
	s.sched.Cancel(&s.work)
	return nil
}

// Trigger schedules one run of the callback. It never blocks and never runs
// the callback inline. Outside Running it returns ErrInvalidState.
func (s *SWI) Trigger() error {
	s.gate.Enter()
	if s.state != SWIRunning {
		s.gate.Exit()
		return ErrInvalidState
	}
	posted := s.sched.Post(&s.work)
	s.gate.Exit()

	s.triggers.Add(1)
	if posted {
		s.trace.Record(TraceSWITrigger, s.id, 0)
	} else {
		s.coalesced.Add(1)
		s.trace.Record(TraceSWICoalesced, s.id, 0)
	}
	return nil
}

// State returns the current lifecycle state.
func (s *SWI) State() SWIState {
	s.gate.Enter()
	defer s.gate.Exit()
	return s.state
}

// Pending reports whether a run is scheduled but has not started.
func (s *SWI) Pending() bool {
	return s.work.Pending()
}

// Stats returns the trigger/run counters.
func (s *SWI) Stats() SWIStats {
	return SWIStats{
		Triggers:  s.triggers.Load(),
		Coalesced: s.coalesced.Load(),
		Runs:      s.runs.Load(),
	}
}

func (s *SWI) run() {
	s.gate.Enter()
	if s.state != SWIRunning || s.callback == nil {
		s.gate.Exit()
		return
	}
	cb := s.callback
	s.gate.Exit()

	n := s.runs.Add(1)
	s.trace.Record(TraceSWIRun, s.id, uint32(n))
	cb()
}
