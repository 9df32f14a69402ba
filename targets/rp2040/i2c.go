//go:build rp2040 || rp2350

package main

import (
	"machine"
	"sync"
)

// lockedI2C serialises transactions from the deferred worker and the
// console loop onto one machine.I2C.
type lockedI2C struct {
	mu  sync.Mutex
	bus *machine.I2C
}

// openI2C0 configures I2C0 on its default pins (SDA=GP4, SCL=GP5).
func openI2C0(frequencyHz uint32) (*lockedI2C, error) {
	err := machine.I2C0.Configure(machine.I2CConfig{
		Frequency: frequencyHz,
	})
	if err != nil {
		return nil, err
	}
	return &lockedI2C{bus: machine.I2C0}, nil
}

// Tx implements drivers.I2C.
func (b *lockedI2C) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bus.Tx(addr, w, r)
}
