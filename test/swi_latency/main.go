//go:build rp2040 || rp2350

// SWI latency benchmark
//
// Measures the cost of the interrupt gate and the time from SWI trigger to
// callback on real hardware. Output goes to the USB console.

package main

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"irqcore/core"
)

// ranAt is the time the SWI callback last ran.
var ranAt atomic.Uint64

// Get current time in microseconds
func micros() uint64 {
	return uint64(time.Now().UnixMicro())
}

func main() {
	time.Sleep(2 * time.Second) // give the host time to open the console

	sys, err := core.NewSystem(core.SystemConfig{Driver: core.PortMux{}})
	if err != nil {
		println("system:", err.Error())
		return
	}
	if err := sys.SWI.Init(func() { ranAt.Store(micros()) }); err != nil {
		println("init:", err.Error())
		return
	}
	_ = sys.SWI.Start()
	go func() {
		_ = sys.Scheduler.Run(context.Background())
	}()

	for {
		println("\n=== irqcore latency benchmarks ===")

		println("\n--- Test 1: Gate enter/exit ---")
		testGate(sys.Gate, 10000)

		println("\n--- Test 2: SWI trigger to callback ---")
		report(testTriggerLatency(sys.SWI, 200))

		println("\n--- Test 3: Coalescing burst ---")
		testBurst(sys.SWI, 100)

		time.Sleep(10 * time.Second)
	}
}

// testGate times nested Enter/Exit pairs.
func testGate(g *core.Gate, iterations int) {
	start := micros()
	for i := 0; i < iterations; i++ {
		g.Enter()
		g.Enter()
		g.Exit()
		g.Exit()
	}
	elapsed := micros() - start
	println("  Iterations:", iterations)
	println("  Total:", uint32(elapsed), "us")
	println("  Per nested pair (ns):", uint32(elapsed*1000/uint64(iterations*2)))
}

func testTriggerLatency(swi *core.SWI, iterations int) []uint32 {
	samples := make([]uint32, 0, iterations)
	for i := 0; i < iterations; i++ {
		ranAt.Store(0)
		t0 := micros()
		if err := swi.Trigger(); err != nil {
			println("  trigger:", err.Error())
			return samples
		}

		timeout := time.Now().Add(10 * time.Millisecond)
		for ranAt.Load() == 0 {
			if time.Now().After(timeout) {
				println("  WARNING: Timeout on iteration", i)
				break
			}
			time.Sleep(1 * time.Microsecond)
		}
		if t1 := ranAt.Load(); t1 != 0 {
			samples = append(samples, uint32(t1-t0))
		}
		time.Sleep(100 * time.Microsecond)
	}
	return samples
}

// testBurst fires many triggers back to back and reports how many runs they
// collapsed into.
func testBurst(swi *core.SWI, n int) {
	before := swi.Stats()
	for i := 0; i < n; i++ {
		_ = swi.Trigger()
	}
	time.Sleep(20 * time.Millisecond)
	after := swi.Stats()
	println("  Triggers:", uint32(after.Triggers-before.Triggers))
	println("  Coalesced:", uint32(after.Coalesced-before.Coalesced))
	println("  Runs:", uint32(after.Runs-before.Runs))
}

func report(samples []uint32) {
	if len(samples) == 0 {
		println("  no samples")
		return
	}
	sorted := append([]uint32(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total uint64
	for _, s := range sorted {
		total += uint64(s)
	}
	minLatency, maxLatency := sorted[0], sorted[len(sorted)-1]

	println("\nResults:")
	println("  Samples:", len(sorted))
	println("  Min latency:", minLatency, "us")
	println("  Max latency:", maxLatency, "us")
	println("  Avg latency:", uint32(total/uint64(len(sorted))), "us")
	println("  Jitter (max-min):", maxLatency-minLatency, "us")

	println("\nPercentiles:")
	println("  P50 (median):", sorted[len(sorted)*50/100], "us")
	println("  P90:", sorted[len(sorted)*90/100], "us")
	println("  P99:", sorted[len(sorted)*99/100], "us")
}
