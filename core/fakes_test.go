package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeDriver is an in-memory PortDriver. Edges are only delivered to pins
// whose trigger accepts them, like real hardware.
type fakeDriver struct {
	mu        sync.Mutex
	gate      *Gate
	callbacks map[PortID]PortCallback
	triggers  map[PinLocation]Trigger
	installs  map[PortID]int
	removes   map[PortID]int

	failInstall   error
	failRemove    error
	failConfigure error
}

func newFakeDriver(gate *Gate) *fakeDriver {
	return &fakeDriver{
		gate:      gate,
		callbacks: make(map[PortID]PortCallback),
		triggers:  make(map[PinLocation]Trigger),
		installs:  make(map[PortID]int),
		removes:   make(map[PortID]int),
	}
}

func (d *fakeDriver) InstallCallback(port PortID, pins PinMask, cb PortCallback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failInstall != nil {
		return d.failInstall
	}
	d.callbacks[port] = cb
	d.installs[port]++
	return nil
}

func (d *fakeDriver) RemoveCallback(port PortID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failRemove != nil {
		return d.failRemove
	}
	delete(d.callbacks, port)
	d.removes[port]++
	return nil
}

func (d *fakeDriver) ConfigurePin(port PortID, pin uint8, trigger Trigger) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failConfigure != nil {
		return d.failConfigure
	}
	d.triggers[PinLocation{Port: port, Pin: pin}] = trigger
	return nil
}

func (d *fakeDriver) trigger(port PortID, pin uint8) Trigger {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.triggers[PinLocation{Port: port, Pin: pin}]
}

func (d *fakeDriver) counts(port PortID) (installs, removes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.installs[port], d.removes[port]
}

// edge simulates a physical edge and reports whether an interrupt was raised.
func (d *fakeDriver) edge(port PortID, pin uint8, rising bool) bool {
	d.mu.Lock()
	cb := d.callbacks[port]
	trig := d.triggers[PinLocation{Port: port, Pin: pin}]
	d.mu.Unlock()

	want := TriggerEdgeFalling
	if rising {
		want = TriggerEdgeRising
	}
	if cb == nil || trig&want == 0 {
		return false
	}
	d.gate.Interrupt(func() { cb(port, PinMask(1)<<pin) })
	return true
}

// raise delivers pins to the port callback regardless of pin configuration.
func (d *fakeDriver) raise(port PortID, pins PinMask) {
	d.mu.Lock()
	cb := d.callbacks[port]
	d.mu.Unlock()
	if cb != nil {
		d.gate.Interrupt(func() { cb(port, pins) })
	}
}

// testPins maps ids 0-7 to port 0 pins 0-7 and ids 8-11 to port 1 pins 0-3.
func testPins() PinMap {
	var m PinMap
	for i := uint8(0); i < 8; i++ {
		m = append(m, PinLocation{Port: 0, Pin: i})
	}
	for i := uint8(0); i < 4; i++ {
		m = append(m, PinLocation{Port: 1, Pin: i})
	}
	return m
}

func requireViolation(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a contract violation panic")
		_, ok := r.(*ContractViolation)
		require.True(t, ok, "panic value %T is not *ContractViolation", r)
	}()
	fn()
}
