package core

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemDeferredButtonToSWI(t *testing.T) {
	mask := NewSimMask()
	var logs bytes.Buffer
	gate := NewGate(mask, 0)
	drv := newFakeDriver(gate)

	sys, err := NewSystem(SystemConfig{
		Gate:             gate,
		Driver:           drv,
		Pins:             testPins(),
		Dispatch:         DispatchDeferred,
		DropLogPerSecond: 1,
		Logger:           zerolog.New(zerolog.SyncWriter(&logs)),
	})
	require.NoError(t, err)
	require.Same(t, gate, sys.Gate)

	var presses, swiRuns atomic.Int32
	require.NoError(t, sys.SWI.Init(func() { swiRuns.Add(1) }))
	require.NoError(t, sys.SWI.Start())
	require.NoError(t, sys.Router.RegisterHandler(5, func(PinID, any) {
		presses.Add(1)
		assert.NoError(t, sys.SWI.Trigger())
	}, nil))
	require.NoError(t, sys.Router.Configure(5, TriggerEdgeFalling))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sys.Run(ctx) }()

	drv.edge(0, 5, false)
	require.Eventually(t, func() bool { return presses.Load() == 1 && swiRuns.Load() == 1 }, time.Second, time.Millisecond)

	drv.raise(0, PinMask(1<<30))
	drv.raise(0, PinMask(1<<31))
	assert.Equal(t, uint64(2), sys.Router.Stats().Dropped)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.True(t, mask.Enabled())
	assert.Contains(t, logs.String(), "interrupt on unmapped pin dropped")
	assert.Equal(t, 1, bytes.Count(logs.Bytes(), []byte("unmapped pin dropped")), "second drop is rate limited")
}

func TestNewSystemRejectsBadPins(t *testing.T) {
	_, err := NewSystem(SystemConfig{
		Driver: newFakeDriver(NewGate(nil, 0)),
		Pins:   PinMap{{Port: 0, Pin: 40}},
	})
	assert.ErrorIs(t, err, ErrPinOutOfRange)
}
