//go:build rp2040 || rp2350

package main

import (
	"runtime/volatile"
	"unsafe"
)

// RP2040/RP2350 Timer peripheral memory map
const (
	timerBase     = 0x40054000
	timerTIMERAWL = timerBase + 0x0C // Raw timer low word
)

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// hardwareMicros reads the low 32 bits of the 1MHz hardware timer. It is
// cheap enough to timestamp every trace event from interrupt context.
func hardwareMicros() uint32 {
	return timerRAWL.Get()
}
