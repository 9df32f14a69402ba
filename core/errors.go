package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNullArgument is returned when a required callback or handler is nil.
	ErrNullArgument = errors.New("irqcore: null argument")

	// ErrInvalidState is returned when an operation is not permitted in the
	// current lifecycle state.
	ErrInvalidState = errors.New("irqcore: invalid state")

	// ErrPinOutOfRange is returned for a logical pin id outside the pin map.
	ErrPinOutOfRange = errors.New("irqcore: pin out of range")

	// ErrSchedulerRunning is returned by a second concurrent Scheduler.Run.
	ErrSchedulerRunning = errors.New("irqcore: scheduler already running")

	// ErrUnsupportedTrigger is returned by port drivers that cannot apply the
	// requested trigger type.
	ErrUnsupportedTrigger = errors.New("irqcore: unsupported trigger")
)

// DriverError wraps a hardware configuration failure reported by a PortDriver.
type DriverError struct {
	Op   string
	Port PortID
	Pin  uint8
	Err  error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("irqcore: %s port=%d pin=%d: %v", e.Op, e.Port, e.Pin, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// ContractViolation is the panic value raised when a caller breaks a contract
// that would otherwise corrupt shared interrupt state. It is never returned.
type ContractViolation struct {
	Msg string
}

func (c *ContractViolation) Error() string {
	return "irqcore: contract violation: " + c.Msg
}

func violate(msg string) {
	panic(&ContractViolation{Msg: msg})
}
