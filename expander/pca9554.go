// Package expander drives a PCA9554(A) 8-bit I2C I/O expander as one router
// port. The chip has a single open-drain INT line, so edges are recovered in
// software from successive input register reads.
package expander

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"tinygo.org/x/drivers"

	"irqcore/core"
)

const (
	InputPortRegister = iota
	OutputPortRegister
	PolarityInvRegister
	ConfigurationRegister
)

// Pins is the number of I/O lines on the chip.
const Pins = 8

// Config configures a PCA9554.
type Config struct {
	Bus  drivers.I2C
	Addr uint16

	// Port is the router port id this chip answers for.
	Port core.PortID

	// Gate delivers callbacks as interrupt-context entries.
	Gate   *core.Gate
	Logger zerolog.Logger
}

// PCA9554 is a core.PortDriver backed by the expander's input register.
type PCA9554 struct {
	bus  drivers.I2C
	addr uint16
	port core.PortID
	gate *core.Gate
	log  zerolog.Logger

	mu sync.Mutex

	// Cached chip states
	configurationReg byte
	outputPortReg    byte
	inputPortReg     byte
	primed           bool

	triggers [Pins]core.Trigger
	watched  byte
	callback core.PortCallback
}

// New creates a driver for the chip at cfg.Addr. The chip is not touched
// until a pin is configured or Reset is called.
func New(cfg Config) (*PCA9554, error) {
	if cfg.Bus == nil || cfg.Gate == nil {
		return nil, core.ErrNullArgument
	}
	return &PCA9554{
		bus:              cfg.Bus,
		addr:             cfg.Addr,
		port:             cfg.Port,
		gate:             cfg.Gate,
		log:              cfg.Logger,
		configurationReg: 0xff, // power-on default: all inputs
	}, nil
}

// Port returns the router port id of the chip.
func (d *PCA9554) Port() core.PortID { return d.port }

// Reset writes the cached direction and output registers and clears the
// polarity inversion register.
func (d *PCA9554) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeReg(PolarityInvRegister, 0); err != nil {
		return err
	}
	if err := d.writeReg(OutputPortRegister, d.outputPortReg); err != nil {
		return err
	}
	return d.writeReg(ConfigurationRegister, d.configurationReg)
}

// InstallCallback implements core.PortDriver.
func (d *PCA9554) InstallCallback(port core.PortID, pins core.PinMask, cb core.PortCallback) error {
	if port != d.port {
		return fmt.Errorf("pca9554: no port %d", port)
	}
	if pins>>Pins != 0 {
		return core.ErrPinOutOfRange
	}
	d.mu.Lock()
	d.callback = cb
	d.mu.Unlock()
	d.log.Debug().Uint8("port", uint8(port)).Uint32("pins", uint32(pins)).Msg("pca9554: callback installed")
	return nil
}

// RemoveCallback implements core.PortDriver.
func (d *PCA9554) RemoveCallback(port core.PortID) error {
	if port != d.port {
		return fmt.Errorf("pca9554: no port %d", port)
	}
	d.mu.Lock()
	d.callback = nil
	d.mu.Unlock()
	return nil
}

// ConfigurePin implements core.PortDriver. A pin with an enabled trigger is
// switched to input; disabling a trigger leaves the direction alone.
func (d *PCA9554) ConfigurePin(port core.PortID, pin uint8, trigger core.Trigger) error {
	if port != d.port {
		return fmt.Errorf("pca9554: no port %d", port)
	}
	if pin >= Pins {
		return core.ErrPinOutOfRange
	}
	if !trigger.Valid() {
		return core.ErrUnsupportedTrigger
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	bit := byte(1) << pin
	if trigger.Enabled() && d.configurationReg&bit == 0 {
		if err := d.writeReg(ConfigurationRegister, d.configurationReg|bit); err != nil {
			return err
		}
		d.configurationReg |= bit
	}
	d.triggers[pin] = trigger
	if trigger.Enabled() {
		d.watched |= bit
	} else {
		d.watched &^= bit
	}
	d.log.Debug().Uint8("pin", pin).Stringer("trigger", trigger).Msg("pca9554: pin configured")
	return nil
}

// Poll reads the input register and delivers the pins whose trigger matched
// since the previous read. The first read only primes the edge detector.
func (d *PCA9554) Poll() (core.PinMask, error) {
	d.mu.Lock()
	cur, err := d.readReg(InputPortRegister)
	if err != nil {
		d.mu.Unlock()
		return 0, err
	}
	prev, primed := d.inputPortReg, d.primed
	d.inputPortReg, d.primed = cur, true

	var fired byte
	for pin := 0; pin < Pins; pin++ {
		bit := byte(1) << pin
		if d.watched&bit == 0 || d.configurationReg&bit == 0 {
			continue
		}
		if matches(d.triggers[pin], bit, prev, cur, primed) {
			fired |= bit
		}
	}
	cb := d.callback
	d.mu.Unlock()

	if fired == 0 || cb == nil {
		return 0, nil
	}
	mask := core.PinMask(fired)
	d.gate.Interrupt(func() { cb(d.port, mask) })
	return mask, nil
}

func matches(t core.Trigger, bit, prev, cur byte, primed bool) bool {
	high := cur&bit != 0
	if t&core.TriggerLevelHigh != 0 && high {
		return true
	}
	if t&core.TriggerLevelLow != 0 && !high {
		return true
	}
	if !primed {
		return false
	}
	was := prev&bit != 0
	if t&core.TriggerEdgeRising != 0 && !was && high {
		return true
	}
	return t&core.TriggerEdgeFalling != 0 && was && !high
}

// Handler returns a router handler for the host pin wired to the chip's INT
// output. Poll talks to the bus, so register it on a deferred router.
func (d *PCA9554) Handler() core.Handler {
	return func(core.PinID, any) {
		if _, err := d.Poll(); err != nil {
			d.log.Error().Err(err).Msg("pca9554: poll after INT failed")
		}
	}
}

// Run polls the chip every interval until ctx is done, for boards where INT
// is not wired.
func (d *PCA9554) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := d.Poll(); err != nil {
				d.log.Warn().Err(err).Msg("pca9554: poll failed")
			}
		}
	}
}

// WriteOutput sets the output register. Only pins configured as outputs
// drive their line.
func (d *PCA9554) WriteOutput(b byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeReg(OutputPortRegister, b); err != nil {
		return err
	}
	d.outputPortReg = b
	return nil
}

// SetOutputs switches the pins in mask to outputs.
func (d *PCA9554) SetOutputs(mask byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	conf := d.configurationReg &^ mask
	if err := d.writeReg(ConfigurationRegister, conf); err != nil {
		return err
	}
	d.configurationReg = conf
	d.watched &^= mask
	return nil
}

func (d *PCA9554) readReg(reg byte) (byte, error) {
	var buf [1]byte
	if err := d.bus.Tx(d.addr, []byte{reg}, buf[:]); err != nil {
		return 0, fmt.Errorf("pca9554: read register %d: %w", reg, err)
	}
	return buf[0], nil
}

func (d *PCA9554) writeReg(reg, v byte) error {
	if err := d.bus.Tx(d.addr, []byte{reg, v}, nil); err != nil {
		return fmt.Errorf("pca9554: write register %d: %w", reg, err)
	}
	d.log.Debug().Uint8("reg", reg).Uint8("value", v).Msg("pca9554: register written")
	return nil
}
