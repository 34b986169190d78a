// Command dischargectl runs one discharge session from the command
// line and exits when the profile completes, the operator interrupts
// it, or the instrument faults.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/hvlab/dischargectl/internal/config"
	"codeberg.org/hvlab/dischargectl/internal/engine"
	"codeberg.org/hvlab/dischargectl/internal/errors"
	"codeberg.org/hvlab/dischargectl/internal/instrument"
	"codeberg.org/hvlab/dischargectl/internal/logbook"
	"codeberg.org/hvlab/dischargectl/internal/logger"
	"codeberg.org/hvlab/dischargectl/internal/profile"
)

var errFactory = errors.New()

// waiter signals the main goroutine when the session ends either way.
type waiter struct {
	done  chan struct{}
	fault error
}

func newWaiter() *waiter {
	return &waiter{done: make(chan struct{})}
}

func (w *waiter) Push(engine.Sample) {}

func (w *waiter) SessionCompleted(engine.Summary) {
	close(w.done)
}

func (w *waiter) SessionFaulted(_ engine.SessionInfo, cause error) {
	w.fault = cause
	close(w.done)
}

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
	if cfg.Run.Registration == "" {
		err := errFactory.New(errors.ErrValidationFailed).
			WithMessage("a registration number is required, pass --registration")
		logError(err, "cannot start discharge")
		return err
	}

	store := profile.NewStore(cfg.Profiles.Path)
	if err := store.EnsureDefaults(); err != nil {
		logError(err, "failed to prepare profile store")
		return err
	}

	prof, err := store.Get(cfg.Run.Profile)
	if err != nil {
		logError(err, "failed to load discharge profile")
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

	w := newWaiter()

	eng, err := engine.New(engine.Config{
		SampleInterval:  cfg.Engine.SampleInterval(),
		StartingVoltage: cfg.Engine.StartingVoltage,
		StartingCurrent: cfg.Engine.StartingCurrent,
	}, buildInstrument(cfg), book, w)
	if err != nil {
		logError(err, "failed to initialize engine")
		return err
	}
	defer eng.Close()

	meta := engine.Metadata{
		Registration: cfg.Run.Registration,
		Operator:     cfg.Run.Operator,
		Location:     cfg.Run.Location,
		Comment:      cfg.Run.Comment,
		Mode:         sessionMode(cfg),
	}

	if err := eng.Start(context.Background(), prof, meta); err != nil {
		logError(err, "failed to start discharge")
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-w.done:
	case <-sigs:
		logger.Info().Msg("Received termination signal.")
		// The session may finish on its own between the signal and Stop.
		if err := eng.Stop(); err != nil && !errors.IsCode(err, errors.ErrInvalidState) {
			logError(err, "failed to stop discharge")
			return err
		}
		<-w.done
	}

	if w.fault != nil {
		return w.fault
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
	if coded := asCoded(err); coded != nil {
		logger.ErrorWithCode(coded).Msg(msg)
		return
	}

	logger.Error().Err(err).Msg(msg)
}

func asCoded(err error) errors.Error {
	var coded errors.Error
	if errors.As(err, &coded) {
		return coded
	}

	return nil
}
