// Package board assembles an interrupt system for a Linux board from a
// BoardConfig: on-chip GPIO through periph.io and PCA9554 expanders on I2C,
// all behind one router.
package board

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"tinygo.org/x/drivers"

	"irqcore/config"
	"irqcore/core"
	"irqcore/expander"
	"irqcore/periphhal"
)

// DefaultPollInterval is used for expanders without an INT line.
const DefaultPollInterval = 20 * time.Millisecond

// I2CBus is an I2C bus that must be closed after use.
type I2CBus interface {
	drivers.I2C
	io.Closer
}

// Options supplies the hardware access a Board needs.
type Options struct {
	Resolve      periphhal.Resolver
	OpenI2C      func(name string) (I2CBus, error)
	PollInterval time.Duration
	Logger       zerolog.Logger
}

type chip struct {
	cfg  config.ExpanderConfig
	dev  *expander.PCA9554
	bus  I2CBus
	poll bool
}

// Board is a running configuration.
type Board struct {
	System *core.System

	cfg   *config.BoardConfig
	gpio  *periphhal.Driver
	chips []*chip
	fired []atomic.Uint64
	poll  time.Duration
	log   zerolog.Logger

	lastReported atomic.Uint64
}

// Build wires the board described by cfg. On error everything already
// opened is closed again.
func Build(cfg *config.BoardConfig, opts Options) (_ *Board, err error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	gate := core.NewGate(nil, cfg.MaxNesting)

	gpio, err := periphhal.New(periphhal.Config{
		Gate:    gate,
		Resolve: opts.Resolve,
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	brd := &Board{
		cfg:   cfg,
		gpio:  gpio,
		fired: make([]atomic.Uint64, len(cfg.Pins)),
		poll:  opts.PollInterval,
		log:   opts.Logger,
	}
	defer func() {
		if err == nil {
			return
		}
		if brd.System != nil && brd.System.SWI.State() == core.SWIRunning {
			_ = brd.System.SWI.Stop()
		}
		_ = brd.Close()
	}()

	mux := core.PortMux{}
	for _, port := range cfg.PinMap().Ports() {
		mux[port] = gpio
	}
	for _, e := range cfg.Expanders {
		if opts.OpenI2C == nil {
			return nil, fmt.Errorf("board: expander %s needs an I2C bus", e.Name)
		}
		bus, err := opts.OpenI2C(e.Bus)
		if err != nil {
			return nil, fmt.Errorf("board: expander %s: %w", e.Name, err)
		}
		dev, err := expander.New(expander.Config{
			Bus:    bus,
			Addr:   e.Addr,
			Port:   core.PortID(e.Port),
			Gate:   gate,
			Logger: opts.Logger.With().Str("expander", e.Name).Logger(),
		})
		if err != nil {
			_ = bus.Close()
			return nil, err
		}
		brd.chips = append(brd.chips, &chip{cfg: e, dev: dev, bus: bus, poll: e.Int == ""})
		if err := dev.Reset(); err != nil {
			return nil, fmt.Errorf("board: expander %s: %w", e.Name, err)
		}
		// prime edge detection before any trigger is armed
		if _, err := dev.Poll(); err != nil {
			return nil, fmt.Errorf("board: expander %s: %w", e.Name, err)
		}
		mux[core.PortID(e.Port)] = dev
	}

	sc, err := cfg.SystemConfig(mux, opts.Logger)
	if err != nil {
		return nil, err
	}
	sc.Gate = gate
	sys, err := core.NewSystem(sc)
	if err != nil {
		return nil, err
	}
	brd.System = sys

	if err := sys.SWI.Init(brd.report); err != nil {
		return nil, err
	}
	if err := sys.SWI.Start(); err != nil {
		return nil, err
	}

	for i := range cfg.Pins {
		id := core.PinID(i)
		h := core.Handler(brd.onEdge)
		if c := brd.intChip(cfg.Pins[i].Name); c != nil {
			if sys.Router.Mode() != core.DispatchDeferred {
				return nil, fmt.Errorf("board: expander %s INT needs deferred dispatch", c.cfg.Name)
			}
			h = c.dev.Handler()
		}
		if err := sys.Router.RegisterHandler(id, h, cfg.Pins[i].Name); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyTriggers(sys.Router); err != nil {
		return nil, err
	}
	return brd, nil
}

func (b *Board) intChip(pin string) *chip {
	for _, c := range b.chips {
		if c.cfg.Int != "" && c.cfg.Int == pin {
			return c
		}
	}
	return nil
}

func (b *Board) onEdge(pin core.PinID, arg any) {
	b.fired[pin].Add(1)
	if b.System.Router.Mode() == core.DispatchDeferred {
		b.log.Info().Uint8("pin", uint8(pin)).Str("name", arg.(string)).Msg("edge")
	}
	if err := b.System.SWI.Trigger(); err != nil {
		b.log.Debug().Err(err).Msg("report not triggered")
	}
}

// report runs on the scheduler and summarises activity since the last run.
func (b *Board) report() {
	var total uint64
	for i := range b.fired {
		total += b.fired[i].Load()
	}
	prev := b.lastReported.Swap(total)
	st := b.System.Router.Stats()
	b.log.Info().
		Uint64("new_edges", total-prev).
		Uint64("edges", total).
		Uint64("dropped", st.Dropped).
		Uint64("overflow", st.Overflow).
		Msg("activity")
}

// Fired returns how many edges the pin called name has handled.
func (b *Board) Fired(name string) uint64 {
	id, ok := b.cfg.PinID(name)
	if !ok {
		return 0
	}
	return b.fired[id].Load()
}

// Run services the board until ctx is done.
func (b *Board) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.System.Run(ctx) })
	for _, c := range b.chips {
		if c.poll {
			dev := c.dev
			g.Go(func() error { return dev.Run(ctx, b.poll) })
		}
	}
	return g.Wait()
}

// Close stops pin watchers and closes I2C buses.
func (b *Board) Close() error {
	errs := []error{b.gpio.Close()}
	for _, c := range b.chips {
		errs = append(errs, c.bus.Close())
	}
	return errors.Join(errs...)
}
