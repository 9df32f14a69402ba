//go:build tinygo

package core

import "runtime/interrupt"

type cpuMask struct{}

// Disable disables interrupts and returns the previous state
func (cpuMask) Disable() MaskState {
	return MaskState(interrupt.Disable())
}

// Restore restores the interrupt state
func (cpuMask) Restore(state MaskState) {
	interrupt.Restore(interrupt.State(state))
}

// DefaultMask returns the mask controller for this build.
func DefaultMask() MaskController {
	return cpuMask{}
}

// Single core: masking interrupts is the only exclusion needed.
type coreOwner struct{}

func (coreOwner) acquire() bool { return false }

func (coreOwner) release() {}

func (coreOwner) foreign() bool { return false }
