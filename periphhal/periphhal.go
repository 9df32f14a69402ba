// Package periphhal implements core.PortDriver for Linux boards using
// periph.io. Each pin with an edge trigger gets a watcher goroutine that
// blocks in WaitForEdge and delivers the edge through the gate, the same way
// a hardware vector would.
package periphhal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"irqcore/core"
)

// DefaultPollTimeout bounds each WaitForEdge call so watchers notice Close.
const DefaultPollTimeout = 100 * time.Millisecond

// Resolver maps a router pin location to a periph pin.
type Resolver func(port core.PortID, pin uint8) (gpio.PinIO, error)

// Init loads the periph host drivers. Calling it more than once is harmless.
func Init() error {
	_, err := host.Init()
	return err
}

// ByName resolves pins through gpioreg using format, which receives the
// global line number port*32+pin (e.g. "GPIO%d").
func ByName(format string) Resolver {
	return func(port core.PortID, pin uint8) (gpio.PinIO, error) {
		name := fmt.Sprintf(format, int(port)*core.MaxPortPins+int(pin))
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("periphhal: no pin named %s", name)
		}
		return p, nil
	}
}

// Config configures a Driver.
type Config struct {
	Gate    *core.Gate
	Resolve Resolver

	// Pull is applied whenever a pin is reconfigured. gpio.Float, the zero
	// value, is replaced by gpio.PullNoChange.
	Pull        gpio.Pull
	PollTimeout time.Duration
	Logger      zerolog.Logger
}

// Driver is a core.PortDriver over periph GPIO pins.
type Driver struct {
	gate    *core.Gate
	resolve Resolver
	pull    gpio.Pull
	poll    time.Duration
	log     zerolog.Logger

	mu       sync.Mutex
	cbs      map[core.PortID]core.PortCallback
	watchers map[core.PinLocation]*watcher
	running  sync.WaitGroup
	closed   bool
}

type watcher struct {
	pin  gpio.PinIO
	stop chan struct{}
	done chan struct{}
}

// New returns a Driver. Call Init first on real hardware.
func New(cfg Config) (*Driver, error) {
	if cfg.Gate == nil || cfg.Resolve == nil {
		return nil, core.ErrNullArgument
	}
	if cfg.Pull == gpio.Float {
		cfg.Pull = gpio.PullNoChange
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	return &Driver{
		gate:     cfg.Gate,
		resolve:  cfg.Resolve,
		pull:     cfg.Pull,
		poll:     cfg.PollTimeout,
		log:      cfg.Logger,
		cbs:      make(map[core.PortID]core.PortCallback),
		watchers: make(map[core.PinLocation]*watcher),
	}, nil
}

// EdgeFor maps a trigger onto periph edge detection. Level triggers have no
// periph equivalent.
func EdgeFor(t core.Trigger) (gpio.Edge, error) {
	switch t {
	case core.TriggerDisabled:
		return gpio.NoEdge, nil
	case core.TriggerEdgeRising:
		return gpio.RisingEdge, nil
	case core.TriggerEdgeFalling:
		return gpio.FallingEdge, nil
	case core.TriggerEdgeBoth:
		return gpio.BothEdges, nil
	default:
		return gpio.NoEdge, core.ErrUnsupportedTrigger
	}
}

// InstallCallback implements core.PortDriver.
func (d *Driver) InstallCallback(port core.PortID, _ core.PinMask, cb core.PortCallback) error {
	if cb == nil {
		return core.ErrNullArgument
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return core.ErrInvalidState
	}
	d.cbs[port] = cb
	return nil
}

// RemoveCallback implements core.PortDriver. Watchers keep running but
// their edges are discarded until a callback is installed again.
func (d *Driver) RemoveCallback(port core.PortID) error {
	d.mu.Lock()
	delete(d.cbs, port)
	d.mu.Unlock()
	return nil
}

// ConfigurePin implements core.PortDriver.
func (d *Driver) ConfigurePin(port core.PortID, pin uint8, trigger core.Trigger) error {
	if pin >= core.MaxPortPins {
		return core.ErrPinOutOfRange
	}
	edge, err := EdgeFor(trigger)
	if err != nil {
		return err
	}
	loc := core.PinLocation{Port: port, Pin: pin}

	prev := d.stopWatcher(loc)

	p, err := d.resolve(port, pin)
	if err != nil {
		return err
	}
	if err := p.In(d.pull, edge); err != nil {
		return fmt.Errorf("periphhal: %s: %w", p, err)
	}
	if edge == gpio.NoEdge {
		return nil
	}

	w := &watcher{pin: p, stop: make(chan struct{}), done: make(chan struct{})}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return core.ErrInvalidState
	}
	d.watchers[loc] = w
	d.running.Add(1)
	d.mu.Unlock()

	go d.watch(loc, w, prev)
	d.log.Debug().
		Str("pin", p.Name()).
		Stringer("trigger", trigger).
		Msg("periphhal: watching pin")
	return nil
}

// stopWatcher signals the watcher on loc to exit and returns it without
// waiting. The caller may be that watcher, running a handler inline.
func (d *Driver) stopWatcher(loc core.PinLocation) *watcher {
	d.mu.Lock()
	w := d.watchers[loc]
	delete(d.watchers, loc)
	d.mu.Unlock()
	if w != nil {
		close(w.stop)
	}
	return w
}

// watch delivers edges on w.pin until stopped. prev is the watcher it
// replaces; both never wait on the pin at the same time.
func (d *Driver) watch(loc core.PinLocation, w *watcher, prev *watcher) {
	defer d.running.Done()
	defer close(w.done)
	if prev != nil {
		select {
		case <-prev.done:
		case <-w.stop:
			return
		}
	}
	for {
		select {
		case <-w.stop:
			return
		default:
		}
		if !w.pin.WaitForEdge(d.poll) {
			continue
		}
		select {
		case <-w.stop:
			return
		default:
		}
		d.mu.Lock()
		cb := d.cbs[loc.Port]
		d.mu.Unlock()
		if cb == nil {
			continue
		}
		mask := loc.Mask()
		d.gate.Interrupt(func() {
			select {
			case <-w.stop:
			default:
				cb(loc.Port, mask)
			}
		})
	}
}

// Close stops every watcher, including ones already replaced by a
// reconfiguration, and disables edge detection on the pins still watched.
// It must not be called from a handler running inline.
func (d *Driver) Close() error {
	d.mu.Lock()
	d.closed = true
	watchers := d.watchers
	d.watchers = make(map[core.PinLocation]*watcher)
	d.mu.Unlock()

	for _, w := range watchers {
		close(w.stop)
	}
	d.running.Wait()

	var errs []error
	for _, w := range watchers {
		if err := w.pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
