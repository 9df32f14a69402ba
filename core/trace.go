package core

import (
	"errors"
	"strconv"
	"strings"
)

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TraceKind identifies what a TraceEvent records.
type TraceKind uint8

// Event type codes
const (
	TraceSWITrigger   TraceKind = 1 // SWI trigger accepted
	TraceSWICoalesced TraceKind = 2 // SWI trigger merged into a pending run
	TraceSWIRun       TraceKind = 3 // SWI callback ran
	TraceGPIOFire     TraceKind = 4 // handler invoked (inline or deferred)
	TraceGPIOQueued   TraceKind = 5 // pin id handed to the deferred worker
	TraceGPIODrop     TraceKind = 6 // unmapped pin, event dropped
	TraceGPIOOverflow TraceKind = 7 // deferred queue full, event dropped
	TraceDriverFault  TraceKind = 8 // port driver install/remove failed
)

// TraceRingSize is the number of events kept for post-mortem.
const TraceRingSize = 32

const tracePrefix = "[IRQ] "

var traceKindNames = [...]string{
	TraceSWITrigger:   "SWI_TRIGGER",
	TraceSWICoalesced: "SWI_COALESCED",
	TraceSWIRun:       "SWI_RUN",
	TraceGPIOFire:     "GPIO_FIRE",
	TraceGPIOQueued:   "GPIO_QUEUED",
	TraceGPIODrop:     "GPIO_DROP",
	TraceGPIOOverflow: "GPIO_OVERFLOW",
	TraceDriverFault:  "DRIVER_FAULT",
}

func (k TraceKind) String() string {
	if int(k) < len(traceKindNames) && traceKindNames[k] != "" {
		return traceKindNames[k]
	}
	return "UNKNOWN"
}

// TraceEvent captures one interrupt-path event.
type TraceEvent struct {
	Kind  TraceKind
	ID    uint8  // SWI id, logical pin or port, depending on Kind
	Tick  uint32 // Clock value at record time
	Value uint32 // Context-dependent value
}

// String formats the event the way Dump writes it.
func (e TraceEvent) String() string {
	return tracePrefix + e.Kind.String() +
		" id=" + utoa(uint64(e.ID)) +
		" tick=" + utoa(uint64(e.Tick)) +
		" v=" + utoa(uint64(e.Value))
}

var errTraceLine = errors.New("irqcore: malformed trace line")

// ParseTraceLine parses a line produced by TraceEvent.String.
func ParseTraceLine(line string) (TraceEvent, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, tracePrefix) {
		return TraceEvent{}, errTraceLine
	}
	fields := strings.Fields(line[len(tracePrefix):])
	if len(fields) != 4 {
		return TraceEvent{}, errTraceLine
	}

	var ev TraceEvent
	for k := range traceKindNames {
		if traceKindNames[k] != "" && traceKindNames[k] == fields[0] {
			ev.Kind = TraceKind(k)
		}
	}
	if ev.Kind == 0 {
		return TraceEvent{}, errTraceLine
	}

	var vals [3]uint64
	for i, key := range [...]string{"id=", "tick=", "v="} {
		f := fields[i+1]
		if !strings.HasPrefix(f, key) {
			return TraceEvent{}, errTraceLine
		}
		bits := 32
		if i == 0 {
			bits = 8
		}
		v, err := strconv.ParseUint(f[len(key):], 10, bits)
		if err != nil {
			return TraceEvent{}, errors.Join(errTraceLine, err)
		}
		vals[i] = v
	}
	ev.ID = uint8(vals[0])
	ev.Tick = uint32(vals[1])
	ev.Value = uint32(vals[2])
	return ev, nil
}

// TraceRing keeps the last TraceRingSize events. Record is safe from
// interrupt context. A nil *TraceRing discards everything.
type TraceRing struct {
	gate  *Gate
	clock Clock
	ring  [TraceRingSize]TraceEvent
	head  uint8 // Next write position
	total uint32
}

// NewTraceRing creates a ring guarded by gate. A nil clock selects Micros.
func NewTraceRing(gate *Gate, clock Clock) *TraceRing {
	if clock == nil {
		clock = Micros
	}
	return &TraceRing{gate: gate, clock: clock}
}

// Record captures an event in the ring buffer.
func (r *TraceRing) Record(kind TraceKind, id uint8, value uint32) {
	if r == nil {
		return
	}
	tick := r.clock()
	r.gate.Enter()
	r.ring[r.head] = TraceEvent{Kind: kind, ID: id, Tick: tick, Value: value}
	r.head = (r.head + 1) % TraceRingSize
	r.total++
	r.gate.Exit()
}

// Events returns the recorded events, oldest first.
func (r *TraceRing) Events() []TraceEvent {
	if r == nil {
		return nil
	}
	r.gate.Enter()
	snapshot := r.ring
	start := r.head
	r.gate.Exit()

	events := make([]TraceEvent, 0, TraceRingSize)
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := snapshot[(start+i)%TraceRingSize]
		if evt.Kind == 0 {
			continue // Empty slot
		}
		events = append(events, evt)
	}
	return events
}

// Total returns how many events were ever recorded, including overwritten
// ones.
func (r *TraceRing) Total() uint32 {
	if r == nil {
		return 0
	}
	r.gate.Enter()
	defer r.gate.Exit()
	return r.total
}

// Dump writes the ring, oldest first, one line per event.
// Call it from task context; the writer may block.
func (r *TraceRing) Dump(w DebugWriter) {
	if w == nil {
		return
	}
	w(tracePrefix + "=== trace dump total=" + utoa(uint64(r.Total())) + " ===")
	for _, evt := range r.Events() {
		w(evt.String())
	}
	w(tracePrefix + "=== end dump ===")
}

// Clear empties the ring.
func (r *TraceRing) Clear() {
	if r == nil {
		return
	}
	r.gate.Enter()
	r.ring = [TraceRingSize]TraceEvent{}
	r.head = 0
	r.total = 0
	r.gate.Exit()
}
