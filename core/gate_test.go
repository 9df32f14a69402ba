package core

import (
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateNestedRestoresMask(t *testing.T) {
	mask := NewSimMask()
	g := NewGate(mask, 0)

	g.Enter()
	g.Enter()
	g.Enter()
	assert.False(t, mask.Enabled())
	assert.Equal(t, 3, g.Depth())

	g.Exit()
	g.Exit()
	assert.False(t, mask.Enabled(), "inner exits must not re-enable interrupts")
	g.Exit()
	assert.True(t, mask.Enabled())
	assert.Equal(t, 0, g.Depth())

	disables, restores := mask.Counts()
	assert.Equal(t, 1, disables)
	assert.Equal(t, 1, restores)
}

func TestGateKeepsPriorDisabledState(t *testing.T) {
	mask := NewSimMask()
	mask.SetEnabled(false)
	g := NewGate(mask, 0)

	g.Enter()
	g.Enter()
	g.Exit()
	g.Exit()
	assert.False(t, mask.Enabled())
}

func TestGateDisabledIffDepthPositive(t *testing.T) {
	mask := NewSimMask()
	g := NewGate(mask, 8)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		switch {
		case g.Depth() == 0:
			g.Enter()
		case g.Depth() == 8:
			g.Exit()
		case rng.Intn(2) == 0:
			g.Enter()
		default:
			g.Exit()
		}
		require.Equal(t, g.Depth() == 0, mask.Enabled(), "step %d depth %d", i, g.Depth())
	}
	for g.Depth() > 0 {
		g.Exit()
	}
	assert.True(t, mask.Enabled())
}

func TestGateExitWithoutEnter(t *testing.T) {
	g := NewGate(NewSimMask(), 0)
	requireViolation(t, g.Exit)

	g.Enter()
	g.Exit()
	requireViolation(t, g.Exit)
}

func TestGateNestingLimit(t *testing.T) {
	mask := NewSimMask()
	g := NewGate(mask, 4)
	for i := 0; i < 4; i++ {
		g.Enter()
	}
	requireViolation(t, g.Enter)
	assert.Equal(t, 4, g.Depth())

	for i := 0; i < 4; i++ {
		g.Exit()
	}
	assert.True(t, mask.Enabled())
}

func TestGateDoLeavesOnPanic(t *testing.T) {
	mask := NewSimMask()
	g := NewGate(mask, 0)

	assert.Panics(t, func() {
		g.Do(func() { panic("boom") })
	})
	assert.Equal(t, 0, g.Depth())
	assert.True(t, mask.Enabled())
}

func TestGateLocker(t *testing.T) {
	mask := NewSimMask()
	g := NewGate(mask, 0)

	func() {
		g.Lock()
		defer g.Unlock()
		assert.False(t, mask.Enabled())
	}()
	assert.True(t, mask.Enabled())
}

func TestGateExcludesOtherContexts(t *testing.T) {
	g := NewGate(NewSimMask(), 0)
	var entered atomic.Bool
	done := make(chan struct{})

	g.Enter()
	go func() {
		defer close(done)
		g.Interrupt(func() { entered.Store(true) })
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, entered.Load(), "interrupt ran while the gate was held")
	g.Exit()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("interrupt never ran after the gate was released")
	}
	assert.True(t, entered.Load())
}

func TestGateInterruptMayNest(t *testing.T) {
	mask := NewSimMask()
	g := NewGate(mask, 0)

	var depth int
	g.Interrupt(func() {
		g.Enter()
		depth = g.Depth()
		g.Exit()
	})
	assert.Equal(t, 2, depth)
	assert.True(t, mask.Enabled())
}
