// Package instrument drives NGI-style electronic loads. Two
// implementations exist: a TCP SCPI link for real hardware and an
// in-process simulator for test mode. Callers hold the Instrument
// interface and must never care which one is behind it.
package instrument

import (
	"context"

	"codeberg.org/hvlab/dischargectl/internal/profile"
	"codeberg.org/hvlab/dischargectl/internal/scpi"
)

// Instrument is the capability set a discharge session needs
type Instrument interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Disconnect() error
	State() ConnectionState
	Identify(ctx context.Context) (scpi.Identity, error)

	// Load programming
	SetMode(ctx context.Context, kind profile.StepKind, level float64) error
	SetInput(ctx context.Context, on bool) error

	// Status
	QueryMeasurement(ctx context.Context) (Measurement, error)
	QueryFault(ctx context.Context) (*Fault, error)
}

// Measurement is one voltage/current reading. Power is derived by the
// consumer, not measured.
type Measurement struct {
	Voltage float64
	Current float64
}

// Fault is an entry from the instrument's error queue. A nil *Fault
// from QueryFault means the queue is empty.
type Fault struct {
	Code    int
	Message string
}

// ConnectionState tracks the link lifecycle. Owned by the instrument,
// observed by everyone else.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Faulted
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}
