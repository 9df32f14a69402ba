package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortMuxRoutesByPort(t *testing.T) {
	gate := NewGate(NewSimMask(), 0)
	bank, expander := newFakeDriver(gate), newFakeDriver(gate)
	r, err := NewRouter(RouterConfig{
		Gate:   gate,
		Driver: PortMux{0: bank, 1: expander},
		Pins:   testPins(),
	})
	require.NoError(t, err)

	rec := &recorder{}
	require.NoError(t, r.RegisterHandler(2, rec.handle, nil))
	require.NoError(t, r.RegisterHandler(9, rec.handle, nil))
	require.NoError(t, r.Configure(2, TriggerEdgeRising))
	require.NoError(t, r.Configure(9, TriggerEdgeFalling))

	assert.Equal(t, TriggerEdgeRising, bank.trigger(0, 2))
	assert.Equal(t, TriggerEdgeFalling, expander.trigger(1, 1))
	assert.Equal(t, TriggerDisabled, bank.trigger(1, 1))

	assert.True(t, expander.edge(1, 1, false))
	assert.True(t, bank.edge(0, 2, true))
	assert.Equal(t, []call{{9, nil}, {2, nil}}, rec.snapshot())
}

func TestPortMuxMissingDriver(t *testing.T) {
	m := PortMux{0: newFakeDriver(nil)}
	assert.Error(t, m.InstallCallback(3, 1, func(PortID, PinMask) {}))
	assert.Error(t, m.RemoveCallback(3))
	assert.Error(t, m.ConfigurePin(3, 0, TriggerEdgeRising))
}
