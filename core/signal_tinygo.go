//go:build tinygo

package core

import (
	"context"
	"sync/atomic"
	"time"
)

// Channel operations are not safe from TinyGo interrupt handlers, so the
// device build polls an atomic flag instead.
const signalPollInterval = 20 * time.Microsecond

// Signal is a binary wake signal. Any number of Notify calls before a Wait
// collapse into one wake-up.
type Signal struct {
	flag atomic.Uint32
}

// NewSignal returns an unsignalled Signal.
func NewSignal() *Signal {
	return &Signal{}
}

// Notify sets the signal. It never blocks and is safe from interrupt context.
func (s *Signal) Notify() {
	s.flag.Store(1)
}

// TryWait consumes the signal if it is set.
func (s *Signal) TryWait() bool {
	return s.flag.Swap(0) == 1
}

// Wait blocks until the signal is set, consuming it, or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	for {
		if s.TryWait() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		time.Sleep(signalPollInterval)
	}
}
