package instrument

import (
	"context"
	"math/rand"
	"sync"

	"codeberg.org/hvlab/dischargectl/internal/errors"
	"codeberg.org/hvlab/dischargectl/internal/profile"
	"codeberg.org/hvlab/dischargectl/internal/scpi"
)

// SimConfig tunes the simulated battery model.
type SimConfig struct {
	InitialVoltage   float64 // volts at connect
	ResistanceFactor float64 // sag per ampere per measurement in the resistive model
	DecayPerTick     float64 // fixed voltage drop per loaded measurement; 0 selects the resistive model
	Noise            float64 // noise scale, 0 makes the model deterministic
	CVCurrentStart   float64 // amperes at the start of a CV step
	CVCurrentDecay   float64 // fraction of CV current removed per measurement
	Seed             int64
}

func DefaultSimConfig() SimConfig {
	return SimConfig{
		InitialVoltage:   400,
		ResistanceFactor: 0.01,
		Noise:            1,
		CVCurrentStart:   5,
		CVCurrentDecay:   0.05,
		Seed:             1,
	}
}

// Simulator is a battery-and-load model satisfying the same capability
// set as the TCP link. The model advances one step per measurement
// query, which keeps it in lockstep with whatever loop is sampling it.
type Simulator struct {
	cfg SimConfig

	mu        sync.Mutex
	state     ConnectionState
	inputOn   bool
	kind      profile.StepKind
	level     float64
	voltage   float64
	cvCurrent float64
	rng       *rand.Rand
	fault     *Fault
}

var _ Instrument = (*Simulator)(nil)

func NewSimulator(cfg SimConfig) *Simulator {
	return &Simulator{cfg: cfg}
}

// Connect resets the model to a fresh battery.
func (s *Simulator) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.voltage = s.cfg.InitialVoltage
	s.cvCurrent = s.cfg.CVCurrentStart
	s.rng = rand.New(rand.NewSource(s.cfg.Seed))
	s.inputOn = false
	s.fault = nil
	s.state = Connected

	return nil
}

func (s *Simulator) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inputOn = false
	s.state = Disconnected

	return nil
}

func (s *Simulator) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Simulator) Identify(_ context.Context) (scpi.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Connected {
		return scpi.Identity{}, notConnected()
	}

	return scpi.Identity{
		Manufacturer: "Simulated Instrument",
		Model:        "Model Test",
		Serial:       "S/N 12345",
		Raw:          "Simulated Instrument, Model Test, S/N 12345",
	}, nil
}

func (s *Simulator) SetMode(_ context.Context, kind profile.StepKind, level float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Connected {
		return notConnected()
	}

	s.kind = kind
	s.level = level
	if kind == profile.ConstantVoltage {
		s.cvCurrent = s.cfg.CVCurrentStart
	}

	return nil
}

func (s *Simulator) SetInput(_ context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Connected {
		return notConnected()
	}

	s.inputOn = on

	return nil
}

func (s *Simulator) QueryMeasurement(_ context.Context) (Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Connected {
		return Measurement{}, notConnected()
	}

	return s.advance(), nil
}

func (s *Simulator) QueryFault(_ context.Context) (*Fault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Connected {
		return nil, notConnected()
	}
	if s.fault == nil {
		return nil, nil
	}

	f := *s.fault

	return &f, nil
}

// InjectFault arms the fault channel; the next QueryFault reports it.
func (s *Simulator) InjectFault(code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fault = &Fault{Code: code, Message: message}
}

// ClearFault disarms an injected fault.
func (s *Simulator) ClearFault() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fault = nil
}

// advance moves the model one measurement forward. With the input off
// the battery only self-discharges (not at all in fixed-decay mode);
// under load the voltage sags with the drawn current, and a battery
// below one volt no longer sources current.
func (s *Simulator) advance() Measurement {
	var current float64

	switch {
	case !s.inputOn:
		if s.cfg.DecayPerTick == 0 {
			s.voltage -= s.noise(0.01, 0.03)
		}
	case s.kind == profile.ConstantCurrent:
		current = s.level * s.jitter()
		s.voltage -= s.loadedDrop(current * s.cfg.ResistanceFactor)
	case s.kind == profile.ConstantPower:
		power := s.level * s.jitter()
		if s.voltage > 1 {
			current = power / s.voltage
		}
		s.voltage -= s.loadedDrop(current * s.cfg.ResistanceFactor * 0.5)
	case s.kind == profile.ConstantVoltage:
		s.voltage += (s.level-s.voltage)*0.1 + s.noise(-0.05, 0.05)
		s.cvCurrent *= 1 - s.cfg.CVCurrentDecay
		if s.cvCurrent < 0.01 {
			s.cvCurrent = 0.01
		}
		current = s.cvCurrent * s.jitter()
	}

	if s.voltage < 0 {
		s.voltage = 0
	}
	if s.voltage < 1 {
		current = 0
	}

	return Measurement{Voltage: s.voltage, Current: current}
}

// loadedDrop is the per-measurement voltage sag under load.
func (s *Simulator) loadedDrop(resistive float64) float64 {
	if s.cfg.DecayPerTick > 0 {
		return s.cfg.DecayPerTick
	}

	return resistive + s.noise(0.01, 0.05)
}

// noise draws uniformly from [lo, hi) scaled by the noise setting.
func (s *Simulator) noise(lo, hi float64) float64 {
	if s.cfg.Noise <= 0 {
		return 0
	}

	return (lo + s.rng.Float64()*(hi-lo)) * s.cfg.Noise
}

// jitter wobbles a setpoint by up to ±2%.
func (s *Simulator) jitter() float64 {
	if s.cfg.Noise <= 0 {
		return 1
	}

	return 1 + (s.rng.Float64()*0.04-0.02)*s.cfg.Noise
}

func notConnected() error {
	return errFactory.New(errors.ErrConnectionFailed).WithMessage("not connected")
}
