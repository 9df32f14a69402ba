//go:build !tinygo

package core

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// SimMask is the hosted stand-in for the global interrupt-enable mask.
// It records the enabled state and how often it was disabled and restored.
type SimMask struct {
	mu       sync.Mutex
	enabled  bool
	disables int
	restores int
}

// NewSimMask returns a mask with interrupts enabled.
func NewSimMask() *SimMask {
	return &SimMask{enabled: true}
}

// Disable saves the current enabled state and masks interrupts.
func (m *SimMask) Disable() MaskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var state MaskState
	if m.enabled {
		state = 1
	}
	m.enabled = false
	m.disables++
	return state
}

// Restore puts the enabled state back to what Disable saved.
func (m *SimMask) Restore(state MaskState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = state != 0
	m.restores++
}

// SetEnabled forces the enabled state, e.g. to model a caller that already
// runs with interrupts masked.
func (m *SimMask) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

// Enabled reports whether interrupts are currently enabled.
func (m *SimMask) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Counts returns the number of Disable and Restore calls seen so far.
func (m *SimMask) Counts() (disables, restores int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disables, m.restores
}

// DefaultMask returns the mask controller for this build.
func DefaultMask() MaskController {
	return NewSimMask()
}

// coreOwner emulates the single physical core on a hosted build: only the
// goroutine that owns it may run inside a gate, everyone else waits for the
// outermost Exit.
type coreOwner struct {
	mu    sync.Mutex
	owner atomic.Uint64
}

// acquire reports true when the calling goroutine just took ownership.
func (c *coreOwner) acquire() bool {
	id := goroutineID()
	if c.owner.Load() == id {
		return false
	}
	c.mu.Lock()
	c.owner.Store(id)
	return true
}

func (c *coreOwner) release() {
	c.owner.Store(0)
	c.mu.Unlock()
}

// foreign reports whether a goroutine other than the caller owns the core.
func (c *coreOwner) foreign() bool {
	owner := c.owner.Load()
	return owner != 0 && owner != goroutineID()
}

// goroutineID parses the calling goroutine's id out of its stack header,
// "goroutine N [running]:". Ids start at 1.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
