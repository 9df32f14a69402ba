// Package monitor follows the trace output of an irqcore device console.
package monitor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"irqcore/core"
)

// Device console commands understood by the firmware.
const (
	CmdDump  = "dump"
	CmdStats = "stats"
	CmdClear = "clear"
)

const dumpHeader = "[IRQ] === trace dump"
const dumpFooter = "[IRQ] === end dump ==="

// Dump is one complete trace dump received from the device.
type Dump struct {
	Events []core.TraceEvent
	At     time.Time
}

// Monitor reads lines from a device console, decodes trace events and
// forwards commands.
type Monitor struct {
	port io.ReadWriter
	log  zerolog.Logger

	mu      sync.Mutex
	counts  map[core.TraceKind]uint64
	partial []core.TraceEvent
	inDump  bool
	dumps   chan Dump
	lines   uint64
	garbled uint64
}

// New creates a monitor for port.
func New(port io.ReadWriter, log zerolog.Logger) *Monitor {
	return &Monitor{
		port:   port,
		log:    log,
		counts: make(map[core.TraceKind]uint64),
		dumps:  make(chan Dump, 4),
	}
}

// Dumps delivers completed trace dumps. Dumps nobody collects are dropped.
func (m *Monitor) Dumps() <-chan Dump { return m.dumps }

// Send writes a console command to the device.
func (m *Monitor) Send(cmd string) error {
	_, err := io.WriteString(m.port, strings.TrimSpace(cmd)+"\n")
	return err
}

// Counts returns how many trace events of each kind have been seen.
func (m *Monitor) Counts() map[core.TraceKind]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[core.TraceKind]uint64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}

// Run reads the console until ctx is done or the port fails. An io.EOF from
// a port with a read timeout just means the line was idle.
func (m *Monitor) Run(ctx context.Context) error {
	buf := make([]byte, 256)
	var line []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := m.port.Read(buf)
		line = append(line, buf[:n]...)
		for {
			i := bytes.IndexByte(line, '\n')
			if i < 0 {
				break
			}
			m.handleLine(string(bytes.TrimRight(line[:i], "\r")))
			line = line[i+1:]
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			if n == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(10 * time.Millisecond):
				}
			}
		default:
			return err
		}
	}
}

func (m *Monitor) handleLine(line string) {
	if line == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines++

	switch {
	case strings.HasPrefix(line, dumpHeader):
		m.inDump = true
		m.partial = m.partial[:0]
		return
	case line == dumpFooter:
		if m.inDump {
			m.publish()
		}
		m.inDump = false
		return
	}

	ev, err := core.ParseTraceLine(line)
	if err != nil {
		if strings.HasPrefix(line, "[IRQ]") {
			m.garbled++
			m.log.Warn().Str("line", line).Msg("unparseable trace line")
			return
		}
		m.log.Info().Str("console", line).Send()
		return
	}
	m.counts[ev.Kind]++
	if m.inDump {
		m.partial = append(m.partial, ev)
	}

	var e *zerolog.Event
	switch ev.Kind {
	case core.TraceGPIODrop, core.TraceGPIOOverflow, core.TraceDriverFault:
		e = m.log.Warn()
	default:
		e = m.log.Debug()
	}
	e.Stringer("kind", ev.Kind).
		Uint8("id", ev.ID).
		Uint32("tick", ev.Tick).
		Uint32("value", ev.Value).
		Msg("trace")
}

func (m *Monitor) publish() {
	d := Dump{Events: append([]core.TraceEvent(nil), m.partial...), At: time.Now()}
	select {
	case m.dumps <- d:
	default:
		m.log.Debug().Int("events", len(d.Events)).Msg("dump not collected")
	}
}
