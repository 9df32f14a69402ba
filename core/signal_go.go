//go:build !tinygo

package core

import "context"

// Signal is a binary wake signal. Any number of Notify calls before a Wait
// collapse into one wake-up.
type Signal struct {
	ch chan struct{}
}

// NewSignal returns an unsignalled Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify sets the signal. It never blocks and is safe from interrupt context.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// TryWait consumes the signal if it is set.
func (s *Signal) TryWait() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal is set, consuming it, or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
