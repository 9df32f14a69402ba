//go:build rp2040 || rp2350

package main

import (
	"machine"
	"strings"
)

// initConsole sets up USB CDC; TinyGo provides the descriptors.
func initConsole() {
	_ = machine.Serial.Configure(machine.UARTConfig{})
}

// consoleWrite is the core.DebugWriter for the USB console.
func consoleWrite(s string) {
	_, _ = machine.Serial.Write([]byte(s))
	_, _ = machine.Serial.Write([]byte("\r\n"))
}

// lineReader accumulates console input into commands.
type lineReader struct {
	buf [32]byte
	n   int
}

// poll drains the USB receive buffer and returns a complete command line,
// if one has arrived.
func (l *lineReader) poll() (string, bool) {
	for machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			return "", false
		}
		switch {
		case b == '\n' || b == '\r':
			if l.n == 0 {
				continue
			}
			line := strings.TrimSpace(string(l.buf[:l.n]))
			l.n = 0
			return line, true
		case l.n < len(l.buf):
			l.buf[l.n] = b
			l.n++
		}
	}
	return "", false
}
