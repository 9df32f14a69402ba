package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"irqcore/core"
	"irqcore/host/monitor"
	"irqcore/host/serial"
)

var (
	device  = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud    = flag.Int("baud", 115200, "Baud rate (ignored for USB CDC)")
	verbose = flag.Bool("verbose", false, "Log every trace event")
)

func main() {
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("irqmon failed")
	}
}

func run(ctx context.Context, log zerolog.Logger) error {
	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	port, err := serial.Open(cfg)
	if err != nil {
		return err
	}
	defer port.Close()
	log.Info().Str("device", port.Device()).Msg("connected")

	mon := monitor.New(port, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case d := <-mon.Dumps():
				printDump(d)
			}
		}
	})
	g.Go(func() error { return commandLoop(ctx, mon) })
	return g.Wait()
}

// commandLoop reads operator commands from stdin. Returning on "quit"
// cancels the group.
func commandLoop(ctx context.Context, mon *monitor.Monitor) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	printHelp()
	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}
		if line == "" {
			continue
		}

		switch cmd := strings.Fields(line)[0]; cmd {
		case "quit", "exit", "q":
			return context.Canceled
		case "help", "?":
			printHelp()
		case "counts":
			printCounts(mon.Counts())
		case monitor.CmdDump, monitor.CmdStats, monitor.CmdClear:
			if err := mon.Send(cmd); err != nil {
				return fmt.Errorf("send %s: %w", cmd, err)
			}
		default:
			fmt.Printf("Unknown command: %s (type 'help' for available commands)\n", cmd)
		}
	}
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  help           - Show this help message")
	fmt.Println("  dump           - Ask the device for its trace ring")
	fmt.Println("  stats          - Ask the device for router and SWI counters")
	fmt.Println("  clear          - Clear the device trace ring")
	fmt.Println("  counts         - Trace events seen by this monitor, by kind")
	fmt.Println("  quit/exit/q    - Exit the program")
	fmt.Println()
}

func printDump(d monitor.Dump) {
	fmt.Printf("--- trace dump, %d events ---\n", len(d.Events))
	var prev uint32
	for i, ev := range d.Events {
		delta := uint32(0)
		if i > 0 {
			delta = ev.Tick - prev
		}
		prev = ev.Tick
		fmt.Printf("  %-14s id=%-3d v=%-10d +%dus\n", ev.Kind, ev.ID, ev.Value, delta)
	}
}

func printCounts(counts map[core.TraceKind]uint64) {
	kinds := make([]core.TraceKind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		fmt.Printf("  %-14s %d\n", k, counts[k])
	}
}
