package core

import "time"

var bootTime = time.Now()

// Clock returns a free-running tick count used to timestamp trace events.
type Clock func() uint32

// Micros returns microseconds since boot. It wraps every ~71 minutes, which
// is fine for ordering nearby trace events.
func Micros() uint32 {
	return uint32(time.Since(bootTime) / time.Microsecond)
}
