// Package engine runs discharge sessions: a fixed-interval sampling
// loop drives the instrument through a profile's steps, integrates
// energy, and fans samples out to sinks. At most one session exists per
// engine; a finished session stays observable until the next Start
// replaces it.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"codeberg.org/hvlab/dischargectl/internal/errors"
	"codeberg.org/hvlab/dischargectl/internal/instrument"
	"codeberg.org/hvlab/dischargectl/internal/logger"
	"codeberg.org/hvlab/dischargectl/internal/profile"
	"codeberg.org/hvlab/dischargectl/internal/scpi"
)

var errFactory = errors.New()

// shutdownTimeout bounds the input-off command issued while stopping,
// which must run even after the session context is canceled.
const shutdownTimeout = 5 * time.Second

// Config tunes the sampling loop.
type Config struct {
	SampleInterval  time.Duration
	StartingVoltage float64
	StartingCurrent float64
}

func DefaultConfig() Config {
	return Config{
		SampleInterval:  time.Second,
		StartingVoltage: 400,
	}
}

func (c Config) Validate() error {
	if c.SampleInterval <= 0 {
		return errFactory.New(errors.ErrInvalidInterval)
	}
	if c.StartingVoltage < 0 || c.StartingCurrent < 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "starting values must not be negative")
	}

	return nil
}

// Engine owns the instrument link for the duration of its sessions. All
// outside interaction goes through the command surface; nothing else
// may touch the link while a session is live.
type Engine struct {
	cfg   Config
	inst  instrument.Instrument
	sinks []Sink

	mu     sync.Mutex
	active *session
	closed bool
}

func New(cfg Config, inst instrument.Instrument, sinks ...Sink) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Engine{cfg: cfg, inst: inst, sinks: sinks}, nil
}

// Start validates the profile and metadata, programs the first step and
// launches the sampling loop. Valid while no session is live; a
// completed or faulted session is replaced. Validation failures change
// nothing; failures past validation roll the engine back to Idle.
func (e *Engine) Start(ctx context.Context, p profile.Profile, meta Metadata) error {
	meta.Registration = strings.ToUpper(strings.TrimSpace(meta.Registration))
	if meta.Registration == "" {
		return errFactory.New(ErrValidationFailed).WithMessage("registration is required")
	}

	start := profile.Starting{Voltage: e.cfg.StartingVoltage, Current: e.cfg.StartingCurrent}
	if err := p.Validate(start); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errFactory.New(ErrClosed).WithMessage("engine is shut down")
	}
	if s := e.active; s != nil {
		switch s.State() {
		case Completed, Faulted:
		default:
			return stateError("start", s.State())
		}
	}

	if e.inst.State() != instrument.Connected {
		if err := e.inst.Connect(ctx); err != nil {
			e.active = nil
			return errFactory.Wrap(ErrStartFailed, err)
		}
	}

	identity, err := e.inst.Identify(ctx)
	if err != nil {
		logger.Debug().Err(err).Msg("instrument identity unavailable")
		identity = scpi.Identity{}
	}

	// Input on first, then the function and level of the first step.
	step := p.Steps[0]
	if err := e.inst.SetInput(ctx, true); err != nil {
		e.active = nil
		return errFactory.Wrap(ErrStartFailed, err)
	}
	if err := e.inst.SetMode(ctx, step.Kind, step.Level); err != nil {
		_ = e.inst.SetInput(ctx, false)
		e.active = nil
		return errFactory.Wrap(ErrStartFailed, err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		profile:   p,
		meta:      meta,
		identity:  identity,
		interval:  e.cfg.SampleInterval,
		ctx:       sessCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     Running,
		startedAt: time.Now(),
		spans:     []StepSpan{{Index: 0, Kind: step.Kind, Level: step.Level}},
	}
	e.active = sess

	info := sess.info()
	for _, s := range e.sinks {
		if obs, ok := s.(SessionObserver); ok {
			obs.SessionStarted(info)
		}
	}

	logger.Info().
		Str("profile", p.Name).
		Str("registration", meta.Registration).
		Str("mode", meta.Mode).
		Str("instrument", identity.Raw).
		Int("steps", len(p.Steps)).
		Msg("discharge started")

	go e.run(sess)

	return nil
}

// Pause queues input-off for the next tick boundary. Paused ticks
// record no samples, so the energy accumulator holds its value.
func (e *Engine) Pause() error {
	sess := e.session()
	if sess == nil {
		return stateError("pause", Idle)
	}

	return sess.requestPause()
}

// Resume queues re-programming of the active step and input-on for the
// next tick boundary.
func (e *Engine) Resume() error {
	sess := e.session()
	if sess == nil {
		return stateError("resume", Idle)
	}

	return sess.requestResume()
}

// Stop ends the session. It is accepted while Running or Paused and
// cancels any in-flight instrument call, so a retry burst never delays
// the shutdown.
func (e *Engine) Stop() error {
	sess := e.session()
	if sess == nil {
		return stateError("stop", Idle)
	}
	if err := sess.requestStop(); err != nil {
		return err
	}
	sess.cancel()

	return nil
}

// Reset returns the engine to an empty Idle. Only an engine with no
// session accepts it; anything else would silently drop session data.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		return stateError("reset", e.active.State())
	}

	return nil
}

// Close stops a live session, waits for its loop to exit and refuses
// further Starts. The instrument connection stays with whoever opened
// it.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	sess := e.active
	e.mu.Unlock()

	if sess == nil {
		return nil
	}

	switch sess.State() {
	case Running, Paused, Stopping:
		sess.mu.Lock()
		sess.stopRequested = true
		sess.mu.Unlock()
		sess.cancel()
		<-sess.done
	}

	return nil
}

// Status is a point-in-time view of the engine for logs and the HTTP
// surface.
type Status struct {
	State         State
	Connection    instrument.ConnectionState
	ProfileName   string
	Metadata      Metadata
	StepIndex     int
	StepCount     int
	SampleCount   int
	CumulativeKWh float64
	LastSample    *Sample
	StartedAt     time.Time
	EndedAt       time.Time
	FaultMessage  string
}

func (e *Engine) Status() Status {
	st := Status{State: Idle, Connection: e.inst.State()}

	sess := e.session()
	if sess == nil {
		return st
	}

	sess.mu.RLock()
	defer sess.mu.RUnlock()

	st.State = sess.state
	st.ProfileName = sess.profile.Name
	st.Metadata = sess.meta
	st.StepIndex = sess.stepIndex
	st.StepCount = len(sess.profile.Steps)
	st.SampleCount = len(sess.samples)
	st.CumulativeKWh = sess.cumulativeKWh
	st.StartedAt = sess.startedAt
	st.EndedAt = sess.endedAt
	if n := len(sess.samples); n > 0 {
		last := sess.samples[n-1]
		st.LastSample = &last
	}
	if sess.fault != nil {
		st.FaultMessage = sess.fault.Error()
	}

	return st
}

// History returns a copy of the samples of the current or most recent
// session.
func (e *Engine) History() []Sample {
	sess := e.session()
	if sess == nil {
		return nil
	}

	sess.mu.RLock()
	defer sess.mu.RUnlock()

	out := make([]Sample, len(sess.samples))
	copy(out, sess.samples)

	return out
}

func (e *Engine) session() *session {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.active
}

func (e *Engine) run(sess *session) {
	defer close(sess.done)

	ticker := time.NewTicker(sess.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.ctx.Done():
			e.finish(sess, true)
			return
		case <-ticker.C:
			if e.tick(sess) {
				return
			}
		}
	}
}

// tick is one loop pass: a pending stop wins outright, queued control
// transitions land next (the applying tick records no sample, so every
// sample belongs to exactly one state and step), then the measurement
// and whatever transition it triggers. Reports whether the session
// reached a terminal state.
func (e *Engine) tick(sess *session) bool {
	if sess.stopWanted() || sess.ctx.Err() != nil {
		e.finish(sess, true)
		return true
	}

	state, wantPaused := sess.control()
	switch {
	case state == Running && wantPaused:
		if err := e.inst.SetInput(sess.ctx, false); err != nil {
			return e.linkFailure(sess, err)
		}
		sess.setState(Paused)
		logger.Info().Msg("discharge paused")
		return false
	case state == Paused && !wantPaused:
		step := sess.currentStep()
		if err := e.inst.SetInput(sess.ctx, true); err != nil {
			return e.linkFailure(sess, err)
		}
		if err := e.inst.SetMode(sess.ctx, step.Kind, step.Level); err != nil {
			return e.linkFailure(sess, err)
		}
		sess.setState(Running)
		logger.Info().Msg("discharge resumed")
		return false
	case state == Paused:
		return false
	}

	m, err := e.inst.QueryMeasurement(sess.ctx)
	if err != nil {
		return e.linkFailure(sess, err)
	}

	sample := sess.record(m)
	for _, s := range e.sinks {
		s.Push(sample)
	}

	logger.Debug().
		Int("step", sample.StepIndex).
		Float64("voltage", sample.Voltage).
		Float64("current", sample.Current).
		Float64("power", sample.Power).
		Float64("energy_kwh", sample.CumulativeKWh).
		Msg("sample")

	// A device fault outranks a stop-condition crossing in the same tick.
	fault, err := e.inst.QueryFault(sess.ctx)
	if err != nil {
		return e.linkFailure(sess, err)
	}
	if fault != nil {
		e.fail(sess, errFactory.New(ErrDeviceFault).
			WithMessage(fault.Message).
			WithData(*fault))
		return true
	}

	step := sess.profile.Steps[sample.StepIndex]
	if !stopMet(step.Stop, m) {
		return false
	}

	if sample.StepIndex == len(sess.profile.Steps)-1 {
		e.finish(sess, false)
		return true
	}

	next := sess.advance()
	if err := e.inst.SetMode(sess.ctx, next.Kind, next.Level); err != nil {
		return e.linkFailure(sess, err)
	}
	logger.Info().
		Int("step", sample.StepIndex+1).
		Str("kind", string(next.Kind)).
		Float64("level", next.Level).
		Msg("step advanced")

	return false
}

// stopMet evaluates a stop condition against a fresh measurement. The
// discharge only ever crosses downward, so the comparison is
// at-or-below.
func stopMet(stop profile.StopCondition, m instrument.Measurement) bool {
	value := m.Voltage
	if stop.Metric == profile.MetricCurrent {
		value = m.Current
	}

	return value <= stop.Threshold
}

// linkFailure distinguishes a canceled in-flight call, which means a
// stop landed, from a real link failure.
func (e *Engine) linkFailure(sess *session, err error) bool {
	if sess.stopWanted() || sess.ctx.Err() != nil {
		e.finish(sess, true)
		return true
	}
	e.fail(sess, err)

	return true
}

// finish walks the session through Stopping to Completed and emits the
// summary exactly once. The input-off command runs on its own context
// because the session context may already be canceled.
func (e *Engine) finish(sess *session, aborted bool) {
	sess.mu.Lock()
	if sess.state == Completed || sess.state == Faulted {
		sess.mu.Unlock()
		return
	}
	sess.state = Stopping
	sess.endedAt = time.Now()
	sess.closeSpanLocked()
	sess.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.inst.SetInput(ctx, false); err != nil {
		logger.Warn().Err(err).Msg("input off on shutdown failed")
	}

	sum := sess.summary(aborted)
	for _, s := range e.sinks {
		if ss, ok := s.(SummarySink); ok {
			ss.SessionCompleted(sum)
		}
	}

	sess.setState(Completed)

	logger.Info().
		Str("registration", sum.Metadata.Registration).
		Float64("total_kwh", sum.TotalKWh).
		Int("samples", len(sum.Samples)).
		Bool("aborted", aborted).
		Msg("discharge completed")
}

// fail marks the session Faulted: history stays, no summary goes out,
// and the engine issues no further commands on the link.
func (e *Engine) fail(sess *session, cause error) {
	sess.mu.Lock()
	if sess.state == Completed || sess.state == Faulted {
		sess.mu.Unlock()
		return
	}
	sess.fault = cause
	sess.endedAt = time.Now()
	sess.closeSpanLocked()
	sess.mu.Unlock()

	info := sess.info()
	for _, s := range e.sinks {
		if fs, ok := s.(FaultSink); ok {
			fs.SessionFaulted(info, cause)
		}
	}

	sess.setState(Faulted)

	var coded errors.Error
	if errors.As(cause, &coded) {
		logger.ErrorWithCode(coded).Msg("discharge faulted")
	} else {
		logger.Error().Err(cause).Msg("discharge faulted")
	}
}

func stateError(op string, state State) error {
	return errFactory.New(ErrInvalidState).
		WithMessage("cannot " + op + " while " + state.String()).
		WithData(struct{ State string }{State: state.String()})
}
