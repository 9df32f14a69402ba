//go:build !tinygo

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoroutineIDDistinctAndNonZero(t *testing.T) {
	self := goroutineID()
	require.NotZero(t, self)
	assert.Equal(t, self, goroutineID())

	ids := make(chan uint64, 2)
	for i := 0; i < 2; i++ {
		go func() { ids <- goroutineID() }()
	}
	a, b := <-ids, <-ids
	require.NotZero(t, a)
	require.NotZero(t, b)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, self, a)
	assert.NotEqual(t, self, b)
}

func TestGateExitFromNonOwner(t *testing.T) {
	mask := NewSimMask()
	g := NewGate(mask, 0)

	g.Enter()
	recovered := make(chan any, 1)
	go func() {
		defer func() { recovered <- recover() }()
		g.Exit()
	}()
	r := <-recovered
	require.IsType(t, &ContractViolation{}, r)

	assert.Equal(t, 1, g.Depth())
	assert.False(t, mask.Enabled(), "a foreign exit must not restore the mask")
	g.Exit()
	assert.True(t, mask.Enabled())
	assert.Equal(t, 0, g.Depth())
}

func TestGateOuterExitUnlocksForOthers(t *testing.T) {
	g := NewGate(NewSimMask(), 0)
	for i := 0; i < 3; i++ {
		g.Enter()
		g.Exit()
	}

	done := make(chan int)
	go func() {
		g.Enter()
		depth := g.Depth()
		g.Exit()
		done <- depth
	}()
	assert.Equal(t, 1, <-done)
}
