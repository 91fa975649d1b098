package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tgk/sluice/engine"
	"github.com/tgk/sluice/internal/checkpoint"
	"github.com/tgk/sluice/internal/logger"
	"github.com/tgk/sluice/internal/metrics"
	"github.com/tgk/sluice/internal/schema"
	"github.com/tgk/sluice/pipeline"
	"github.com/tgk/sluice/server"
)

var buildString = "unknown"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	ko := koanf.New(".")
	if err := initFlags(ko); err != nil {
		log.Fatal().Err(err).Msg("configuration failed")
	}

	if ko.Bool("version") {
		fmt.Println(buildString)
		return
	}
	if ko.Bool("debug") {
		logger.SetDevelopment(true)
	}

	if err := run(ko); err != nil {
		os.Exit(1)
	}
}

func run(ko *koanf.Koanf) error {
	mainLog := logger.GetLogger("sluice")
	mainLog.Info().Str("build", buildString).Msg("starting")

	store, err := openCheckpointStore(ko)
	if err != nil {
		mainLog.Error().Err(err).Msg("opening checkpoint store failed")
		return err
	}
	defer store.Close()

	specs, err := pipeline.ParseConfig(ko)
	if err != nil {
		mainLog.Error().Err(err).Msg("invalid pipeline configuration")
		return err
	}

	m := metrics.New()
	opts := []engine.Option{}
	if d := ko.Duration("drain_timeout"); d > 0 {
		opts = append(opts, engine.WithDrainTimeout(d))
	}
	eng := engine.New(store, m, opts...)

	registry := schema.NewRegistry()
	for _, spec := range specs {
		p, err := pipeline.Build(spec, registry)
		if err != nil {
			mainLog.Error().Err(err).Msg("building pipeline failed")
			return err
		}
		if err := eng.Add(p); err != nil {
			mainLog.Error().Err(err).Msg("registering pipeline failed")
			return err
		}
		mainLog.Info().
			Str("pipeline", spec.Name).
			Str("source", spec.Source.Name).
			Str("sink", spec.Sink.Name).
			Msg("pipeline configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if port := ko.String("port"); port != "" {
		go func() {
			if err := server.Run(ctx, ":"+port, server.Handler(eng, m)); err != nil {
				mainLog.Error().Err(err).Msg("admin server failed")
			}
		}()
	}

	runErr := eng.Run(ctx)
	for _, rep := range eng.Report() {
		evt := mainLog.Info()
		if rep.Error != "" {
			evt = mainLog.Error().Str("error", rep.Error)
		}
		evt.
			Str("source", rep.SourceID).
			Uint64("last_committed_offset", rep.LastCommitted).
			Bool("clean", rep.Clean).
			Msg("final source state")
	}
	return runErr
}

func openCheckpointStore(ko *koanf.Koanf) (checkpoint.Store, error) {
	backend := ko.String("checkpoint.backend")
	path := ko.String("checkpoint.path")
	switch backend {
	case "badger":
		return checkpoint.NewBadgerStore(path)
	case "bbolt":
		return checkpoint.NewBoltStore(path)
	case "memory":
		return checkpoint.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", backend)
	}
}
