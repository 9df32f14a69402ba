package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/i2c/i2creg"

	"irqcore/config"
	"irqcore/host/board"
	"irqcore/periphhal"
)

var (
	configPath = flag.String("config", "board.yaml", "Board configuration (.yaml, .yml or .json)")
	pinFormat  = flag.String("pin-format", "GPIO%d", "gpioreg name for line port*32+pin")
	poll       = flag.Duration("poll", board.DefaultPollInterval, "Expander poll interval when INT is not wired")
	stats      = flag.Duration("stats", 30*time.Second, "Router statistics log interval (0 disables)")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
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
		log.Fatal().Err(err).Msg("irqd failed")
	}
}

func run(ctx context.Context, log zerolog.Logger) error {
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}
	if err := periphhal.Init(); err != nil {
		return err
	}

	b, err := board.Build(cfg, board.Options{
		Resolve: periphhal.ByName(*pinFormat),
		OpenI2C: func(name string) (board.I2CBus, error) {
			return i2creg.Open(name)
		},
		PollInterval: *poll,
		Logger:       log,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Msg("close")
		}
	}()

	log.Info().
		Str("board", cfg.Name).
		Int("pins", len(cfg.Pins)).
		Int("expanders", len(cfg.Expanders)).
		Str("dispatch", cfg.Dispatch).
		Msg("irqd started")

	if *stats > 0 {
		go func() {
			t := time.NewTicker(*stats)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					st := b.System.Router.Stats()
					log.Info().
						Uint64("dispatched", st.Dispatched).
						Uint64("queued", st.Queued).
						Uint64("dropped", st.Dropped).
						Uint64("overflow", st.Overflow).
						Uint64("spurious", st.Spurious).
						Uint32("trace_total", b.System.Trace.Total()).
						Msg("router stats")
				}
			}
		}()
	}

	return b.Run(ctx)
}
