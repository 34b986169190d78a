package engine

import (
	"context"
	"sync"
	"time"

	"codeberg.org/hvlab/dischargectl/internal/instrument"
	"codeberg.org/hvlab/dischargectl/internal/profile"
	"codeberg.org/hvlab/dischargectl/internal/scpi"
)

// joulesPerKWh converts accumulated watt-seconds to kilowatt-hours.
const joulesPerKWh = 3.6e6

// State is the session lifecycle. The engine reports Idle while it has
// no session to report on.
type State int32

const (
	Idle State = iota
	Running
	Paused
	Stopping
	Completed
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	case Completed:
		return "completed"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Metadata identifies the battery under test and the circumstances of
// the discharge. All fields pass through to the summary and logbook
// untouched, except Registration which is uppercased on Start.
type Metadata struct {
	Registration string
	Operator     string
	Location     string
	Comment      string
	Mode         string
}

// Sample is one measurement with its derived values. Power is always
// voltage times current; the instrument's own power reading is not
// used.
type Sample struct {
	Timestamp          time.Time
	Elapsed            time.Duration
	StepIndex          int
	Voltage            float64
	Current            float64
	Power              float64
	EnergyIncrementKWh float64
	CumulativeKWh      float64
}

// StepSpan records when one profile step was active, in elapsed session
// time. The last span of an aborted or faulted session closes at the
// final recorded sample.
type StepSpan struct {
	Index int
	Kind  profile.StepKind
	Level float64
	Start time.Duration
	End   time.Duration
}

// Stats aggregates a finished session for the certificate.
type Stats struct {
	MinVoltage   float64
	AvgVoltage   float64
	MaxVoltage   float64
	MinCurrent   float64
	AvgCurrent   float64
	MaxCurrent   float64
	MinPower     float64
	AvgPower     float64
	MaxPower     float64
	StartVoltage float64
	EndVoltage   float64
}

// Summary is the complete record of a session that reached Completed.
// Faulted sessions never produce one.
type Summary struct {
	Profile   profile.Profile
	Metadata  Metadata
	Identity  scpi.Identity
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
	Aborted   bool
	TotalKWh  float64
	Samples   []Sample
	Steps     []StepSpan
	Stats     Stats
}

// session carries the mutable state of one discharge run. The loop
// goroutine is the only writer once the session is live; mu makes reads
// from command and status callers safe. No instrument I/O ever runs
// under mu.
type session struct {
	profile  profile.Profile
	meta     Metadata
	identity scpi.Identity
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu            sync.RWMutex
	state         State
	stepIndex     int
	samples       []Sample
	spans         []StepSpan
	cumulativeKWh float64
	startedAt     time.Time
	endedAt       time.Time
	fault         error
	stopRequested bool
	wantPaused    bool
}

func (s *session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

func (s *session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = st
}

// control reads the state and the queued pause wish in one consistent
// snapshot.
func (s *session) control() (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state, s.wantPaused
}

func (s *session) stopWanted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.stopRequested
}

func (s *session) requestStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Running, Paused, Stopping:
	default:
		return stateError("stop", s.state)
	}
	s.stopRequested = true

	return nil
}

// requestPause and requestResume validate against the queued wish, not
// only the applied state, so pause followed by an immediate resume is
// legal even before the loop has reached the next tick boundary.
func (s *session) requestPause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Running, Paused:
	default:
		return stateError("pause", s.state)
	}
	if s.stopRequested {
		return stateError("pause", Stopping)
	}
	if s.wantPaused {
		return errFactory.New(ErrInvalidState).WithMessage("session is already paused")
	}
	s.wantPaused = true

	return nil
}

func (s *session) requestResume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Running, Paused:
	default:
		return stateError("resume", s.state)
	}
	if s.stopRequested {
		return stateError("resume", Stopping)
	}
	if !s.wantPaused {
		return errFactory.New(ErrInvalidState).WithMessage("session is not paused")
	}
	s.wantPaused = false

	return nil
}

func (s *session) currentStep() profile.Step {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.profile.Steps[s.stepIndex]
}

// record appends the sample derived from one measurement. Elapsed time
// and the energy increment both use the fixed sample interval, which
// keeps the integration independent of scheduling jitter.
func (s *session) record(m instrument.Measurement) Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	power := m.Voltage * m.Current
	increment := power * s.interval.Seconds() / joulesPerKWh
	s.cumulativeKWh += increment

	sample := Sample{
		Timestamp:          time.Now(),
		Elapsed:            time.Duration(len(s.samples)+1) * s.interval,
		StepIndex:          s.stepIndex,
		Voltage:            m.Voltage,
		Current:            m.Current,
		Power:              power,
		EnergyIncrementKWh: increment,
		CumulativeKWh:      s.cumulativeKWh,
	}
	s.samples = append(s.samples, sample)

	return sample
}

// advance closes the active step span and opens the next step.
func (s *session) advance() profile.Step {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeSpanLocked()
	s.stepIndex++
	step := s.profile.Steps[s.stepIndex]
	s.spans = append(s.spans, StepSpan{
		Index: s.stepIndex,
		Kind:  step.Kind,
		Level: step.Level,
		Start: s.elapsedLocked(),
	})

	return step
}

// elapsedLocked is the sampled time of the session so far. Paused ticks
// record nothing, so this grows only while the load is drawing.
func (s *session) elapsedLocked() time.Duration {
	return time.Duration(len(s.samples)) * s.interval
}

func (s *session) closeSpanLocked() {
	if n := len(s.spans); n > 0 && s.spans[n-1].End == 0 {
		s.spans[n-1].End = s.elapsedLocked()
	}
}

func (s *session) info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionInfo{
		Profile:   s.profile,
		Metadata:  s.meta,
		Identity:  s.identity,
		StartedAt: s.startedAt,
	}
}

// summary snapshots the finished session. The caller must have closed
// the open step span and set the end timestamp first.
func (s *session) summary(aborted bool) Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples := make([]Sample, len(s.samples))
	copy(samples, s.samples)
	spans := make([]StepSpan, len(s.spans))
	copy(spans, s.spans)

	return Summary{
		Profile:   s.profile,
		Metadata:  s.meta,
		Identity:  s.identity,
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
		Duration:  s.elapsedLocked(),
		Aborted:   aborted,
		TotalKWh:  s.cumulativeKWh,
		Samples:   samples,
		Steps:     spans,
		Stats:     computeStats(samples),
	}
}

func computeStats(samples []Sample) Stats {
	if len(samples) == 0 {
		return Stats{}
	}

	first := samples[0]
	st := Stats{
		MinVoltage:   first.Voltage,
		MaxVoltage:   first.Voltage,
		MinCurrent:   first.Current,
		MaxCurrent:   first.Current,
		MinPower:     first.Power,
		MaxPower:     first.Power,
		StartVoltage: first.Voltage,
		EndVoltage:   samples[len(samples)-1].Voltage,
	}

	var sumV, sumI, sumP float64
	for _, smp := range samples {
		sumV += smp.Voltage
		sumI += smp.Current
		sumP += smp.Power

		if smp.Voltage < st.MinVoltage {
			st.MinVoltage = smp.Voltage
		}
		if smp.Voltage > st.MaxVoltage {
			st.MaxVoltage = smp.Voltage
		}
		if smp.Current < st.MinCurrent {
			st.MinCurrent = smp.Current
		}
		if smp.Current > st.MaxCurrent {
			st.MaxCurrent = smp.Current
		}
		if smp.Power < st.MinPower {
			st.MinPower = smp.Power
		}
		if smp.Power > st.MaxPower {
			st.MaxPower = smp.Power
		}
	}

	n := float64(len(samples))
	st.AvgVoltage = sumV / n
	st.AvgCurrent = sumI / n
	st.AvgPower = sumP / n

	return st
}
