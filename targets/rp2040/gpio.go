//go:build rp2040 || rp2350

package main

import (
	"machine"

	"irqcore/core"
)

// numPins is the number of bank 0 GPIOs on the RP2040.
const numPins = 30

// RPPortDriver implements core.PortDriver for GPIO bank 0, exposed as
// port 0. machine.Pin.SetInterrupt gives every pin its own callback; they
// all funnel into the one router port callback.
type RPPortDriver struct {
	gate    *core.Gate
	cb      core.PortCallback
	changes [numPins]machine.PinChange
	irq     func(machine.Pin)
}

// NewRPPortDriver creates the bank 0 driver.
func NewRPPortDriver(gate *core.Gate) *RPPortDriver {
	d := &RPPortDriver{gate: gate}
	// method value allocated once, never in interrupt context
	d.irq = d.pinIRQ
	return d
}

func (d *RPPortDriver) InstallCallback(port core.PortID, _ core.PinMask, cb core.PortCallback) error {
	if port != 0 {
		return core.ErrPinOutOfRange
	}
	d.gate.Enter()
	d.cb = cb
	d.gate.Exit()
	return nil
}

func (d *RPPortDriver) RemoveCallback(port core.PortID) error {
	if port != 0 {
		return core.ErrPinOutOfRange
	}
	d.gate.Enter()
	d.cb = nil
	d.gate.Exit()
	return nil
}

func (d *RPPortDriver) ConfigurePin(port core.PortID, pin uint8, trigger core.Trigger) error {
	if port != 0 || pin >= numPins {
		return core.ErrPinOutOfRange
	}
	change, err := pinChange(trigger)
	if err != nil {
		return err
	}
	p := machine.Pin(pin)

	// SetInterrupt refuses a second callback; clear the old one first
	if d.changes[pin] != 0 {
		if err := p.SetInterrupt(d.changes[pin], nil); err != nil {
			return err
		}
		d.changes[pin] = 0
	}
	if change == 0 {
		return nil
	}

	p.Configure(machine.PinConfig{Mode: pullFor(trigger)})
	if err := p.SetInterrupt(change, d.irq); err != nil {
		return err
	}
	d.changes[pin] = change
	return nil
}

func (d *RPPortDriver) pinIRQ(p machine.Pin) {
	d.gate.Enter()
	if d.cb != nil {
		d.cb(0, core.PinMask(1)<<uint8(p))
	}
	d.gate.Exit()
}

func pinChange(t core.Trigger) (machine.PinChange, error) {
	switch t {
	case core.TriggerDisabled:
		return 0, nil
	case core.TriggerEdgeRising:
		return machine.PinRising, nil
	case core.TriggerEdgeFalling:
		return machine.PinFalling, nil
	case core.TriggerEdgeBoth:
		return machine.PinToggle, nil
	case core.TriggerLevelLow:
		return machine.PinLevelLow, nil
	case core.TriggerLevelHigh:
		return machine.PinLevelHigh, nil
	}
	return 0, core.ErrUnsupportedTrigger
}

// pullFor biases the idle level away from the trigger so a floating input
// does not fire: falling and low-level triggers idle high.
func pullFor(t core.Trigger) machine.PinMode {
	if t&(core.TriggerEdgeFalling|core.TriggerLevelLow) != 0 {
		return machine.PinInputPullup
	}
	return machine.PinInputPulldown
}
