package core

// DefaultMaxNesting bounds Gate nesting. Going deeper is treated as runaway
// recursion.
const DefaultMaxNesting = 32

// MaskState is the opaque interrupt-enable state saved by a MaskController.
type MaskState uintptr

// MaskController is the hardware global interrupt mask.
type MaskController interface {
	// Disable reads the current mask, disables all maskable interrupts and
	// returns what was read.
	Disable() MaskState

	// Restore reinstates a state returned by Disable.
	Restore(state MaskState)
}

// Gate is a reentrant critical region. The outermost Enter saves the
// interrupt mask and disables interrupts; the matching outermost Exit restores
// it. Enter/Exit must be strictly paired.
type Gate struct {
	hw       MaskController
	core     coreOwner
	depth    uint32
	maxDepth uint32
	saved    MaskState
}

// NewGate creates a gate over hw. A nil hw selects DefaultMask and a
// non-positive maxDepth selects DefaultMaxNesting.
func NewGate(hw MaskController, maxDepth int) *Gate {
	if hw == nil {
		hw = DefaultMask()
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxNesting
	}
	return &Gate{hw: hw, maxDepth: uint32(maxDepth)}
}

// Enter opens (or nests) the critical region.
func (g *Gate) Enter() {
	acquired := g.core.acquire()
	if g.depth >= g.maxDepth {
		if acquired {
			g.core.release()
		}
		violate("critical region nesting exceeds limit")
	}
	if g.depth == 0 {
		g.saved = g.hw.Disable()
	}
	g.depth++
}

// Exit closes one level of the critical region. Exit without a matching
// Enter, or from a context that does not hold the region, panics with a
// *ContractViolation.
func (g *Gate) Exit() {
	if g.core.foreign() {
		violate("critical region exit from non-owner")
	}
	if g.depth == 0 {
		violate("critical region exit without enter")
	}
	g.depth--
	if g.depth == 0 {
		saved := g.saved
		g.saved = 0
		g.hw.Restore(saved)
		g.core.release()
	}
}

// Lock is Enter, so a Gate can be used as a sync.Locker.
func (g *Gate) Lock() { g.Enter() }

// Unlock is Exit.
func (g *Gate) Unlock() { g.Exit() }

// Do runs fn inside the critical region. The region is left even if fn
// panics.
func (g *Gate) Do(fn func()) {
	g.Enter()
	defer g.Exit()
	fn()
}

// Interrupt delivers isr as an interrupt-context entry: it runs with
// interrupts masked and cannot interleave with a task inside the gate.
// Hosted hardware backends use it to emulate ISR entry.
func (g *Gate) Interrupt(isr func()) {
	g.Do(isr)
}

// Depth returns the current nesting depth. Only meaningful to the context
// that holds the gate.
func (g *Gate) Depth() int {
	return int(g.depth)
}
