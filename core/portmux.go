package core

import "fmt"

// PortMux routes each port to its own PortDriver, so one router can serve
// on-chip banks and external expanders together.
type PortMux map[PortID]PortDriver

func (m PortMux) driver(port PortID) (PortDriver, error) {
	d, ok := m[port]
	if !ok || d == nil {
		return nil, fmt.Errorf("irqcore: no driver for port %d", port)
	}
	return d, nil
}

// InstallCallback implements PortDriver.
func (m PortMux) InstallCallback(port PortID, pins PinMask, cb PortCallback) error {
	d, err := m.driver(port)
	if err != nil {
		return err
	}
	return d.InstallCallback(port, pins, cb)
}

// RemoveCallback implements PortDriver.
func (m PortMux) RemoveCallback(port PortID) error {
	d, err := m.driver(port)
	if err != nil {
		return err
	}
	return d.RemoveCallback(port)
}

// ConfigurePin implements PortDriver.
func (m PortMux) ConfigurePin(port PortID, pin uint8, trigger Trigger) error {
	d, err := m.driver(port)
	if err != nil {
		return err
	}
	return d.ConfigurePin(port, pin, trigger)
}
