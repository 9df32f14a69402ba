package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"irqcore/config"
	"irqcore/core"
	"irqcore/expander"
)

const boardYAML = `
name: bench
dispatch: deferred
pins:
  - name: button
    port: 0
    pin: 17
    trigger: edge-falling
  - name: exp_int
    port: 0
    pin: 4
    trigger: edge-falling
  - name: door
    port: 2
    pin: 0
    trigger: edge-rising
expanders:
  - name: io
    bus: "1"
    addr: 0x20
    port: 2
    int: exp_int
`

type fakeBus struct {
	mu     sync.Mutex
	regs   [4]byte
	closed bool
	fail   error
}

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	if addr != 0x20 {
		return errors.New("nack")
	}
	if len(r) == 1 {
		r[0] = b.regs[w[0]]
	} else {
		b.regs[w[0]] = w[1]
	}
	return nil
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) setInput(v byte) {
	b.mu.Lock()
	b.regs[expander.InputPortRegister] = v
	b.mu.Unlock()
}

type rig struct {
	pins map[core.PinLocation]*gpiotest.Pin
	bus  *fakeBus
}

func newRig() *rig {
	r := &rig{pins: make(map[core.PinLocation]*gpiotest.Pin), bus: &fakeBus{}}
	for _, n := range []uint8{4, 17} {
		r.pins[core.PinLocation{Port: 0, Pin: n}] = &gpiotest.Pin{
			N:         fmt.Sprintf("GPIO%d", n),
			Num:       int(n),
			EdgesChan: make(chan gpio.Level, 4),
		}
	}
	return r
}

func (r *rig) options() Options {
	return Options{
		Resolve: func(port core.PortID, pin uint8) (gpio.PinIO, error) {
			p, ok := r.pins[core.PinLocation{Port: port, Pin: pin}]
			if !ok {
				return nil, errors.New("no such pin")
			}
			return p, nil
		},
		OpenI2C: func(name string) (I2CBus, error) {
			if name != "1" {
				return nil, errors.New("no such bus")
			}
			return r.bus, nil
		},
		Logger: zerolog.Nop(),
	}
}

func TestBoardRoutesHostAndExpanderPins(t *testing.T) {
	cfg, err := config.LoadYAML([]byte(boardYAML))
	require.NoError(t, err)
	r := newRig()

	b, err := Build(cfg, r.options())
	require.NoError(t, err)
	defer b.Close()
	assert.True(t, b.System.Router.Installed(0))
	assert.True(t, b.System.Router.Installed(2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	r.pins[core.PinLocation{Port: 0, Pin: 17}].EdgesChan <- gpio.Low
	require.Eventually(t, func() bool { return b.Fired("button") == 1 }, 2*time.Second, time.Millisecond)

	r.bus.setInput(0x01)
	r.pins[core.PinLocation{Port: 0, Pin: 4}].EdgesChan <- gpio.Low
	require.Eventually(t, func() bool { return b.Fired("door") == 1 }, 2*time.Second, time.Millisecond)
	assert.Zero(t, b.Fired("exp_int"), "INT line is consumed by the expander")

	require.Eventually(t, func() bool { return b.System.SWI.Stats().Runs >= 1 }, 2*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, b.Close())
	assert.True(t, r.bus.closed)
}

func TestBuildRejectsInlineExpanderInt(t *testing.T) {
	cfg, err := config.LoadYAML([]byte(boardYAML))
	require.NoError(t, err)
	cfg.Dispatch = "inline"
	r := newRig()

	var b *Board
	require.NotPanics(t, func() { b, err = Build(cfg, r.options()) })
	assert.Nil(t, b)
	assert.ErrorContains(t, err, "needs deferred dispatch")
	assert.True(t, r.bus.closed)
}

func TestBuildMissingBus(t *testing.T) {
	cfg, err := config.LoadYAML([]byte(boardYAML))
	require.NoError(t, err)
	cfg.Expanders[0].Bus = "7"

	var b *Board
	require.NotPanics(t, func() { b, err = Build(cfg, newRig().options()) })
	assert.Nil(t, b)
	assert.ErrorContains(t, err, "no such bus")
}

func TestBuildClosesBusOnResetFailure(t *testing.T) {
	cfg, err := config.LoadYAML([]byte(boardYAML))
	require.NoError(t, err)
	r := newRig()
	r.bus.fail = errors.New("bus stuck")

	var b *Board
	require.NotPanics(t, func() { b, err = Build(cfg, r.options()) })
	assert.Nil(t, b)
	assert.ErrorContains(t, err, "bus stuck")
	assert.ErrorContains(t, err, "expander io")
	assert.True(t, r.bus.closed)
}

func TestBuildStopsSWIWhenTriggersFail(t *testing.T) {
	cfg, err := config.LoadYAML([]byte(boardYAML))
	require.NoError(t, err)
	r := newRig()
	// port 0 pin 4 cannot be resolved, so arming its trigger fails after the
	// system is up
	delete(r.pins, core.PinLocation{Port: 0, Pin: 4})

	var b *Board
	require.NotPanics(t, func() { b, err = Build(cfg, r.options()) })
	assert.Nil(t, b)
	assert.Error(t, err)
	assert.True(t, r.bus.closed)
}
