package core

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Handler handles an interrupt on a logical pin. arg is the value given to
// RegisterHandler.
type Handler func(pin PinID, arg any)

// DispatchMode selects where handlers run.
type DispatchMode uint8

const (
	// DispatchInline runs handlers inside the interrupt frame. Handlers must
	// be short and must not block.
	DispatchInline DispatchMode = iota

	// DispatchDeferred queues the pin id and runs handlers on the
	// DeferredWorker task, where they may block.
	DispatchDeferred
)

func (m DispatchMode) String() string {
	switch m {
	case DispatchInline:
		return "inline"
	case DispatchDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// ParseDispatchMode parses "inline" or "deferred".
func ParseDispatchMode(s string) (DispatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inline":
		return DispatchInline, nil
	case "deferred":
		return DispatchDeferred, nil
	default:
		return 0, fmt.Errorf("irqcore: unknown dispatch mode %q", s)
	}
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Gate   *Gate
	Driver PortDriver
	Pins   PinMap
	Mode   DispatchMode

	// QueueSize is the deferred queue capacity (DispatchDeferred only).
	QueueSize int

	// Trace receives fire/drop events; may be nil.
	Trace *TraceRing

	Logger zerolog.Logger

	// DropLogPerSecond caps drop/overflow warnings per category; 0 disables
	// the cap.
	DropLogPerSecond int
}

// RouterStats counts dispatch outcomes.
type RouterStats struct {
	Dispatched uint64 // handler invocations
	Queued     uint64 // ids handed to the deferred worker
	Dropped    uint64 // firings on unmapped pins
	Overflow   uint64 // firings lost to a full deferred queue
	Spurious   uint64 // firings on mapped pins that are not subscribed or are muted
	Unhandled  uint64 // firings on pins with no handler registered
}

type handlerSlot struct {
	fn  Handler
	arg any
}

// portDescriptor is the per-port callback registration.
type portDescriptor struct {
	port      PortID
	ids       [MaxPortPins]int16 // physical pin → logical id, -1 if unmapped
	pins      PinMask            // subscribed pins (non-disabled trigger)
	muted     PinMask            // subscribed pins disabled by SetEnabled
	installed bool
}

// Router multiplexes logical pin interrupts onto per-port hardware callbacks
// and forwards each firing to the pin's handler, inline or through the
// deferred worker.
type Router struct {
	gate   *Gate
	driver PortDriver
	pins   PinMap
	mode   DispatchMode
	trace  *TraceRing
	log    *eventLog

	// cfgMu serializes task-side configuration; the gate keeps interrupt
	// context out while tables change.
	cfgMu sync.Mutex

	handlers []handlerSlot // guarded by gate
	flags    []Trigger     // guarded by cfgMu
	ports    map[PortID]*portDescriptor

	queue  *PinQueue
	wake   *Signal
	worker *DeferredWorker

	dispatched atomic.Uint64
	queued     atomic.Uint64
	dropped    atomic.Uint64
	overflow   atomic.Uint64
	spurious   atomic.Uint64
	unhandled  atomic.Uint64
}

// NewRouter builds the handler and descriptor tables for cfg.Pins. No
// hardware is touched until a pin is configured.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Gate == nil || cfg.Driver == nil {
		return nil, ErrNullArgument
	}
	if err := cfg.Pins.Validate(); err != nil {
		return nil, err
	}

	r := &Router{
		gate:     cfg.Gate,
		driver:   cfg.Driver,
		pins:     cfg.Pins,
		mode:     cfg.Mode,
		trace:    cfg.Trace,
		log:      newEventLog(cfg.Logger, cfg.DropLogPerSecond),
		handlers: make([]handlerSlot, len(cfg.Pins)),
		flags:    make([]Trigger, len(cfg.Pins)),
		ports:    make(map[PortID]*portDescriptor),
	}

	for _, port := range cfg.Pins.Ports() {
		desc := &portDescriptor{port: port}
		for i := range desc.ids {
			desc.ids[i] = -1
		}
		r.ports[port] = desc
	}
	for id, loc := range cfg.Pins {
		r.ports[loc.Port].ids[loc.Pin] = int16(id)
	}

	switch cfg.Mode {
	case DispatchInline:
	case DispatchDeferred:
		r.queue = NewPinQueue(cfg.QueueSize)
		r.wake = NewSignal()
		r.worker = &DeferredWorker{router: r}
	default:
		return nil, fmt.Errorf("irqcore: unknown dispatch mode %d", cfg.Mode)
	}
	return r, nil
}

// Mode returns the dispatch mode.
func (r *Router) Mode() DispatchMode {
	return r.mode
}

// Worker returns the deferred worker, or nil in inline mode.
func (r *Router) Worker() *DeferredWorker {
	return r.worker
}

// RegisterHandler installs or replaces the handler for pin. A nil handler is
// ignored.
func (r *Router) RegisterHandler(pin PinID, h Handler, arg any) error {
	if int(pin) >= len(r.handlers) {
		return ErrPinOutOfRange
	}
	if h == nil {
		return nil
	}
	r.gate.Enter()
	r.handlers[pin] = handlerSlot{fn: h, arg: arg}
	r.gate.Exit()
	return nil
}

// Configure sets the trigger for pin. The port callback is installed when the
// first pin on the port is enabled and removed when the last one is disabled.
// A failed install rolls back the subscription; a failed removal is reported
// and leaves the descriptor installed. The pin's own trigger configuration
// is applied in every case.
func (r *Router) Configure(pin PinID, trigger Trigger) error {
	loc, err := r.pins.Resolve(pin)
	if err != nil {
		return err
	}
	if !trigger.Valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedTrigger, trigger)
	}

	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()

	desc := r.ports[loc.Port]
	bit := loc.Mask()

	r.gate.Enter()
	wasSet := desc.pins&bit != 0
	if trigger.Enabled() {
		desc.pins |= bit
	} else {
		desc.pins &^= bit
	}
	desc.muted &^= bit
	pins, installed := desc.pins, desc.installed
	r.gate.Exit()

	var errs []error
	switch {
	case !installed && pins != 0:
		if err := r.driver.InstallCallback(loc.Port, pins, r.portInterrupt); err != nil {
			r.gate.Enter()
			if !wasSet {
				desc.pins &^= bit
			}
			r.gate.Exit()
			r.trace.Record(TraceDriverFault, uint8(loc.Port), uint32(bit))
			errs = append(errs, &DriverError{Op: "install", Port: loc.Port, Pin: loc.Pin, Err: err})
		} else {
			r.gate.Enter()
			desc.installed = true
			r.gate.Exit()
		}

	case installed && pins == 0:
		if err := r.driver.RemoveCallback(loc.Port); err != nil {
			r.trace.Record(TraceDriverFault, uint8(loc.Port), 0)
			r.log.log.Error().
				Err(err).
				Uint8("port", uint8(loc.Port)).
				Msg("port callback removal failed; hardware still holds the callback")
			errs = append(errs, &DriverError{Op: "remove", Port: loc.Port, Pin: loc.Pin, Err: err})
		} else {
			r.gate.Enter()
			desc.installed = false
			r.gate.Exit()
		}
	}

	r.flags[pin] = trigger
	if err := r.driver.ConfigurePin(loc.Port, loc.Pin, trigger); err != nil {
		errs = append(errs, &DriverError{Op: "configure", Port: loc.Port, Pin: loc.Pin, Err: err})
	}
	return errors.Join(errs...)
}

// SetEnabled mutes or restores pin without forgetting its configured
// trigger. Enabling applies the trigger last given to Configure.
func (r *Router) SetEnabled(pin PinID, enabled bool) error {
	loc, err := r.pins.Resolve(pin)
	if err != nil {
		return err
	}

	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()

	desc := r.ports[loc.Port]
	bit := loc.Mask()
	trigger := TriggerDisabled

	r.gate.Enter()
	if enabled {
		desc.muted &^= bit
		trigger = r.flags[pin]
	} else {
		desc.muted |= bit
	}
	r.gate.Exit()

	if err := r.driver.ConfigurePin(loc.Port, loc.Pin, trigger); err != nil {
		return &DriverError{Op: "configure", Port: loc.Port, Pin: loc.Pin, Err: err}
	}
	return nil
}

// Flags returns the trigger last given to Configure for pin.
func (r *Router) Flags(pin PinID) (Trigger, error) {
	if int(pin) >= len(r.flags) {
		return 0, ErrPinOutOfRange
	}
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	return r.flags[pin], nil
}

// Enabled reports whether pin is configured and not muted.
func (r *Router) Enabled(pin PinID) (bool, error) {
	loc, err := r.pins.Resolve(pin)
	if err != nil {
		return false, err
	}
	r.gate.Enter()
	defer r.gate.Exit()
	desc := r.ports[loc.Port]
	bit := loc.Mask()
	return desc.pins&bit != 0 && desc.muted&bit == 0, nil
}

// Installed reports whether the callback for port is attached to the driver.
func (r *Router) Installed(port PortID) bool {
	desc, ok := r.ports[port]
	if !ok {
		return false
	}
	r.gate.Enter()
	defer r.gate.Exit()
	return desc.installed
}

// Subscribed returns the pins of port with an enabled trigger.
func (r *Router) Subscribed(port PortID) PinMask {
	desc, ok := r.ports[port]
	if !ok {
		return 0
	}
	r.gate.Enter()
	defer r.gate.Exit()
	return desc.pins
}

// Stats returns the dispatch counters.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		Dispatched: r.dispatched.Load(),
		Queued:     r.queued.Load(),
		Dropped:    r.dropped.Load(),
		Overflow:   r.overflow.Load(),
		Spurious:   r.spurious.Load(),
		Unhandled:  r.unhandled.Load(),
	}
}

// portInterrupt is the PortCallback handed to the driver. It runs in
// interrupt context.
func (r *Router) portInterrupt(port PortID, pins PinMask) {
	desc, ok := r.ports[port]
	if !ok {
		r.drop(port, pins)
		return
	}

	r.gate.Enter()
	active := desc.pins &^ desc.muted
	r.gate.Exit()

	var unmapped PinMask
	queued := false
	for bit := uint8(0); pins != 0 && bit < MaxPortPins; bit++ {
		m := PinMask(1) << bit
		if pins&m == 0 {
			continue
		}
		pins &^= m

		id := desc.ids[bit]
		if id < 0 {
			unmapped |= m
			continue
		}
		if active&m == 0 {
			r.spurious.Add(1)
			continue
		}

		if r.mode == DispatchInline {
			r.invoke(PinID(id))
			continue
		}
		if !r.queue.Push(PinID(id)) {
			r.overflow.Add(1)
			r.trace.Record(TraceGPIOOverflow, uint8(id), uint32(r.queue.Len()))
			r.log.warn("overflow").
				Uint8("pin", uint8(id)).
				Int("capacity", r.queue.Cap()).
				Msg("deferred pin queue full, interrupt dropped")
			continue
		}
		r.queued.Add(1)
		r.trace.Record(TraceGPIOQueued, uint8(id), 0)
		queued = true
	}

	if unmapped != 0 {
		r.drop(port, unmapped)
	}
	if queued {
		r.wake.Notify()
	}
}

// drop records a firing that resolves to no logical pin.
func (r *Router) drop(port PortID, pins PinMask) {
	r.dropped.Add(1)
	r.trace.Record(TraceGPIODrop, uint8(port), uint32(pins))
	r.log.warn("drop").
		Uint8("port", uint8(port)).
		Uint32("pins", uint32(pins)).
		Msg("interrupt on unmapped pin dropped")
}

// invoke runs the handler registered for id on the calling context.
func (r *Router) invoke(id PinID) {
	r.gate.Enter()
	slot := r.handlers[id]
	r.gate.Exit()

	if slot.fn == nil {
		r.unhandled.Add(1)
		return
	}
	r.dispatched.Add(1)
	r.trace.Record(TraceGPIOFire, uint8(id), uint32(r.mode))
	slot.fn(id, slot.arg)
}
