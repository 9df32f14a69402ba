//go:build rp2040 || rp2350

package main

import (
	"context"
	"machine"
	"strconv"
	"sync/atomic"
	"time"

	"irqcore/core"
	"irqcore/expander"
)

// Logical pins
const (
	pinButton core.PinID = iota
	pinExpanderInt
	pinDoor
)

var pins = core.PinMap{
	pinButton:      {Port: 0, Pin: 15},
	pinExpanderInt: {Port: 0, Pin: 16},
	pinDoor:        {Port: 1, Pin: 0}, // PCA9554 IO0
}

const expanderAddr = 0x20

var doorEvents atomic.Uint32

func main() {
	initConsole()

	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})

	gate := core.NewGate(nil, core.DefaultMaxNesting)
	mux := core.PortMux{0: NewRPPortDriver(gate)}

	chip := openExpander(gate)
	if chip != nil {
		mux[chip.Port()] = chip
	}

	sys, err := core.NewSystem(core.SystemConfig{
		Gate:     gate,
		Driver:   mux,
		Pins:     pins,
		Dispatch: core.DispatchDeferred,
		Clock:    hardwareMicros,
	})
	if err != nil {
		fatal("system: " + err.Error())
	}

	// Presses coalesce into one LED toggle per scheduler pass.
	ledOn := false
	must(sys.SWI.Init(func() {
		ledOn = !ledOn
		led.Set(ledOn)
	}))
	must(sys.SWI.Start())

	must(sys.Router.RegisterHandler(pinButton, func(core.PinID, any) {
		_ = sys.SWI.Trigger()
	}, nil))
	must(sys.Router.Configure(pinButton, core.TriggerEdgeFalling))

	if chip != nil {
		must(sys.Router.RegisterHandler(pinExpanderInt, chip.Handler(), nil))
		must(sys.Router.Configure(pinExpanderInt, core.TriggerEdgeFalling))
		must(sys.Router.RegisterHandler(pinDoor, func(core.PinID, any) {
			doorEvents.Add(1)
		}, nil))
		must(sys.Router.Configure(pinDoor, core.TriggerEdgeBoth))
	}

	go func() {
		_ = sys.Run(context.Background())
	}()

	consoleWrite("irqcore ready")
	var console lineReader
	for {
		if line, ok := console.poll(); ok {
			handleCommand(sys, line)
		}
		time.Sleep(time.Millisecond)
	}
}

func openExpander(gate *core.Gate) *expander.PCA9554 {
	bus, err := openI2C0(400000)
	if err != nil {
		consoleWrite("i2c0: " + err.Error())
		return nil
	}
	chip, err := expander.New(expander.Config{
		Bus:  bus,
		Addr: expanderAddr,
		Port: 1,
		Gate: gate,
	})
	if err != nil {
		return nil
	}
	if err := chip.Reset(); err != nil {
		consoleWrite("pca9554: not found")
		return nil
	}
	if _, err := chip.Poll(); err != nil {
		return nil
	}
	return chip
}

func handleCommand(sys *core.System, line string) {
	switch line {
	case "dump":
		sys.Trace.Dump(consoleWrite)
	case "clear":
		sys.Trace.Clear()
		consoleWrite("ok")
	case "stats":
		st := sys.Router.Stats()
		sw := sys.SWI.Stats()
		consoleWrite("stats: dispatched=" + u64(st.Dispatched) +
			" queued=" + u64(st.Queued) +
			" dropped=" + u64(st.Dropped) +
			" overflow=" + u64(st.Overflow) +
			" swi_runs=" + u64(sw.Runs) +
			" swi_coalesced=" + u64(sw.Coalesced) +
			" door=" + u64(uint64(doorEvents.Load())))
	default:
		consoleWrite("unknown command: " + line)
	}
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func must(err error) {
	if err != nil {
		fatal(err.Error())
	}
}

func fatal(msg string) {
	for {
		consoleWrite("fatal: " + msg)
		time.Sleep(time.Second)
	}
}
