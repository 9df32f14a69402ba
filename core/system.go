package core

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SystemConfig describes a complete interrupt layer.
type SystemConfig struct {
	// Gate, when set, is shared with drivers built before the system and
	// Mask and MaxNesting are ignored.
	Gate *Gate

	// Mask is the hardware interrupt mask; nil selects DefaultMask.
	Mask       MaskController
	MaxNesting int

	Driver           PortDriver
	Pins             PinMap
	Dispatch         DispatchMode
	QueueSize        int
	DropLogPerSecond int

	// Clock timestamps trace events; nil selects Micros.
	Clock  Clock
	Logger zerolog.Logger
}

// System owns one gate and everything that shares it: the deferred-work
// scheduler, a software interrupt, the GPIO router and its worker.
type System struct {
	Gate      *Gate
	Scheduler *Scheduler
	SWI       *SWI
	Router    *Router
	Trace     *TraceRing

	log zerolog.Logger
}

// NewSystem wires the primitives for cfg.
func NewSystem(cfg SystemConfig) (*System, error) {
	gate := cfg.Gate
	if gate == nil {
		gate = NewGate(cfg.Mask, cfg.MaxNesting)
	}
	trace := NewTraceRing(gate, cfg.Clock)
	sched := NewScheduler(gate)

	router, err := NewRouter(RouterConfig{
		Gate:             gate,
		Driver:           cfg.Driver,
		Pins:             cfg.Pins,
		Mode:             cfg.Dispatch,
		QueueSize:        cfg.QueueSize,
		Trace:            trace,
		Logger:           cfg.Logger,
		DropLogPerSecond: cfg.DropLogPerSecond,
	})
	if err != nil {
		return nil, err
	}

	return &System{
		Gate:      gate,
		Scheduler: sched,
		SWI:       NewSWI(gate, sched, trace, 0),
		Router:    router,
		Trace:     trace,
		log:       cfg.Logger,
	}, nil
}

// NewSWI creates an additional software interrupt on the system scheduler.
func (s *System) NewSWI(id uint8) *SWI {
	return NewSWI(s.Gate, s.Scheduler, s.Trace, id)
}

// Run drives the scheduler and, in deferred mode, the GPIO worker until ctx
// is done or one of them fails.
func (s *System) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Scheduler.Run(ctx) })
	if w := s.Router.Worker(); w != nil {
		g.Go(func() error { return w.Run(ctx) })
	}
	s.log.Info().
		Stringer("dispatch", s.Router.Mode()).
		Msg("interrupt system running")
	err := g.Wait()
	s.log.Info().Err(err).Msg("interrupt system stopped")
	return err
}
