package logbook

import (
	"context"
	"time"

	"codeberg.org/hvlab/dischargectl/internal/engine"
)

// Service is the persistence surface. The engine drives the write side
// through its sink hooks; the HTTP layer reads through Reader.
type Service interface {
	engine.Sink
	engine.SessionObserver
	engine.SummarySink
	engine.FaultSink
	Reader
	Close() error
}

// Reader answers logbook queries.
type Reader interface {
	RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	SessionData(ctx context.Context, id int64) (*SessionDetail, error)
}

// SessionRecord is one discharges row. EndedAt and TotalKWh are nil for
// a session that is still running or was cut off before completion.
type SessionRecord struct {
	ID           int64
	Registration string
	ProfileName  string
	Operator     string
	Location     string
	Mode         string
	Instrument   string
	StartedAt    time.Time
	EndedAt      *time.Time
	TotalKWh     *float64
	Aborted      bool
	Comment      string
}

// SampleRecord is one samples row.
type SampleRecord struct {
	Timestamp      time.Time
	ElapsedSeconds float64
	StepIndex      int
	Voltage        float64
	Current        float64
	Power          float64
	EnergyKWh      float64
}

// SessionDetail is a session together with all of its samples.
type SessionDetail struct {
	SessionRecord
	Samples []SampleRecord
}
