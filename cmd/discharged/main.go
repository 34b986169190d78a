// Command discharged runs the discharge controller as a service. It
// owns the instrument link, records sessions to the logbook, publishes
// Prometheus metrics and exposes the REST API the shop floor UI drives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"codeberg.org/hvlab/dischargectl/internal/config"
	"codeberg.org/hvlab/dischargectl/internal/engine"
	"codeberg.org/hvlab/dischargectl/internal/errors"
	"codeberg.org/hvlab/dischargectl/internal/httpapi"
	"codeberg.org/hvlab/dischargectl/internal/instrument"
	"codeberg.org/hvlab/dischargectl/internal/logbook"
	"codeberg.org/hvlab/dischargectl/internal/logger"
	"codeberg.org/hvlab/dischargectl/internal/monitor"
	"codeberg.org/hvlab/dischargectl/internal/pid"
	"codeberg.org/hvlab/dischargectl/internal/profile"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Msg("Config loaded")

	if err := run(cfg); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := pid.Write(); err != nil {
		logError(err, "failed to acquire pid file")
		return err
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logError(err, "failed to remove pid file")
		}
	}()

	store := profile.NewStore(cfg.Profiles.Path)
	if err := store.EnsureDefaults(); err != nil {
		logError(err, "failed to prepare profile store")
		return err
	}

	book, err := logbook.NewService(logbook.Config{
		Enabled: cfg.Logbook.Enabled,
		Path:    cfg.Logbook.Path,
	})
	if err != nil {
		logError(err, "failed to open logbook")
		return err
	}
	defer book.Close()

	registry := prometheus.NewRegistry()
	mon := monitor.NewSink(registry)

	eng, err := engine.New(engine.Config{
		SampleInterval:  cfg.Engine.SampleInterval(),
		StartingVoltage: cfg.Engine.StartingVoltage,
		StartingCurrent: cfg.Engine.StartingCurrent,
	}, buildInstrument(cfg), book, mon)
	if err != nil {
		logError(err, "failed to initialize engine")
		return err
	}
	defer eng.Close()

	srv, err := httpapi.NewServer(httpapi.Config{
		Enabled:        true,
		Listen:         cfg.HTTP.Listen,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, httpapi.Deps{
		Engine:  eng,
		Store:   store,
		Logbook: book,
		Metrics: mon.Handler(),
		Mode:    sessionMode(cfg),
	})
	if err != nil {
		logError(err, "failed to initialize http server")
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			logError(err, "http server failed")
			return err
		}
		return nil
	case <-sigs:
		logger.Info().Msg("Received termination signal.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logError(err, "http shutdown failed")
	}
	if err := <-serveErr; err != nil {
		logError(err, "http server failed")
	}

	return nil
}

// buildInstrument picks the simulator in test mode, otherwise the TCP
// link to the electronic load.
func buildInstrument(cfg *config.Config) instrument.Instrument {
	if cfg.TestMode {
		logger.Info().Msg("Test mode: driving the simulated instrument")
		return instrument.NewSimulator(instrument.SimConfig{
			InitialVoltage:   cfg.Simulator.InitialVoltage,
			ResistanceFactor: cfg.Simulator.ResistanceFactor,
			DecayPerTick:     cfg.Simulator.DecayPerTick,
			Noise:            cfg.Simulator.Noise,
			CVCurrentStart:   cfg.Simulator.CVCurrentStart,
			CVCurrentDecay:   cfg.Simulator.CVCurrentDecay,
			Seed:             cfg.Simulator.Seed,
		})
	}

	return instrument.NewLink(instrument.Config{
		Address:      cfg.Instrument.Address,
		Port:         cfg.Instrument.Port,
		Timeout:      cfg.Instrument.Timeout(),
		Retries:      cfg.Instrument.Retries,
		RetryBackoff: cfg.Instrument.RetryBackoff(),
		SettleDelay:  cfg.Instrument.SettleDelay(),
		VerifySets:   cfg.Instrument.VerifySets,
	})
}

func sessionMode(cfg *config.Config) string {
	if cfg.TestMode {
		return "Test"
	}

	return "Real"
}

func logError(err error, msg string) {
	var coded errors.Error
	if errors.As(err, &coded) {
		logger.ErrorWithCode(coded).Msg(msg)
		return
	}

	logger.Error().Err(err).Msg(msg)
}
