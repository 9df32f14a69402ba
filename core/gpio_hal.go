package core

import (
	"errors"
	"sort"
	"strings"
)

// MaxPortPins is the number of physical pins a single port can address.
const MaxPortPins = 32

// PortID identifies a physical GPIO port (bank).
type PortID uint8

// PinID is a logical pin id, independent of its port/pin pair.
type PinID uint8

// PinMask is a bitmask of physical pins on one port.
type PinMask uint32

// PinLocation is the physical position of a logical pin.
type PinLocation struct {
	Port PortID
	Pin  uint8
}

// Mask returns the single-bit mask for the location's pin.
func (l PinLocation) Mask() PinMask {
	return PinMask(1) << l.Pin
}

// PinMap maps logical pin ids (the slice index) to physical locations.
type PinMap []PinLocation

// Resolve returns the physical location of id.
func (m PinMap) Resolve(id PinID) (PinLocation, error) {
	if int(id) >= len(m) {
		return PinLocation{}, ErrPinOutOfRange
	}
	return m[id], nil
}

// Lookup finds the logical id mapped to a physical pin.
func (m PinMap) Lookup(port PortID, pin uint8) (PinID, bool) {
	for i, loc := range m {
		if loc.Port == port && loc.Pin == pin {
			return PinID(i), true
		}
	}
	return 0, false
}

// Ports returns the distinct ports referenced by the map, in ascending order.
func (m PinMap) Ports() []PortID {
	seen := make(map[PortID]bool)
	var ports []PortID
	for _, loc := range m {
		if !seen[loc.Port] {
			seen[loc.Port] = true
			ports = append(ports, loc.Port)
		}
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

// Validate checks that every location is addressable and used once.
func (m PinMap) Validate() error {
	if len(m) > 256 {
		return errors.New("irqcore: pin map larger than 256 entries")
	}
	seen := make(map[PinLocation]bool, len(m))
	for _, loc := range m {
		if loc.Pin >= MaxPortPins {
			return &DriverError{Op: "map", Port: loc.Port, Pin: loc.Pin, Err: ErrPinOutOfRange}
		}
		if seen[loc] {
			return &DriverError{Op: "map", Port: loc.Port, Pin: loc.Pin, Err: errors.New("mapped twice")}
		}
		seen[loc] = true
	}
	return nil
}

// Trigger is a pin interrupt trigger configuration.
type Trigger uint8

const (
	TriggerDisabled    Trigger = 0
	TriggerEdgeRising  Trigger = 1 << 0
	TriggerEdgeFalling Trigger = 1 << 1
	TriggerLevelLow    Trigger = 1 << 2
	TriggerLevelHigh   Trigger = 1 << 3

	TriggerEdgeBoth = TriggerEdgeRising | TriggerEdgeFalling

	triggerEdges  = TriggerEdgeBoth
	triggerLevels = TriggerLevelLow | TriggerLevelHigh
)

// Enabled reports whether t requests any interrupt.
func (t Trigger) Enabled() bool {
	return t != TriggerDisabled
}

// IsLevel reports whether t is a level trigger.
func (t Trigger) IsLevel() bool {
	return t&triggerLevels != 0
}

// Valid rejects unknown bits, mixed edge/level requests and both levels at
// once.
func (t Trigger) Valid() bool {
	if t&^(triggerEdges|triggerLevels) != 0 {
		return false
	}
	if t&triggerEdges != 0 && t&triggerLevels != 0 {
		return false
	}
	return t&triggerLevels != triggerLevels
}

var triggerNames = map[Trigger]string{
	TriggerDisabled:    "disabled",
	TriggerEdgeRising:  "edge-rising",
	TriggerEdgeFalling: "edge-falling",
	TriggerEdgeBoth:    "edge-both",
	TriggerLevelLow:    "level-low",
	TriggerLevelHigh:   "level-high",
}

func (t Trigger) String() string {
	if name, ok := triggerNames[t]; ok {
		return name
	}
	return "trigger(" + utoa(uint64(t)) + ")"
}

// ParseTrigger parses the names produced by Trigger.String.
func ParseTrigger(s string) (Trigger, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range triggerNames {
		if name == s {
			return t, nil
		}
	}
	return 0, ErrUnsupportedTrigger
}

// PortCallback is invoked by a PortDriver, in interrupt context, with the
// pins of port that fired.
type PortCallback func(port PortID, pins PinMask)

// PortDriver is the hardware interface the router programs. Platform code
// provides the implementation.
type PortDriver interface {
	// InstallCallback attaches cb to port, bound to the pins currently
	// subscribed. Only one callback per port is installed at a time.
	InstallCallback(port PortID, pins PinMask, cb PortCallback) error

	// RemoveCallback detaches the port callback.
	RemoveCallback(port PortID) error

	// ConfigurePin applies trigger to one physical pin.
	ConfigurePin(port PortID, pin uint8, trigger Trigger) error
}
