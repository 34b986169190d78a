package engine

import (
	"time"

	"codeberg.org/hvlab/dischargectl/internal/profile"
	"codeberg.org/hvlab/dischargectl/internal/scpi"
)

// Sink receives every recorded Sample, in order, on the loop goroutine.
// Delivery is fire-and-forget: the engine never inspects an outcome and
// a sink must not fail the session or call back into the engine.
type Sink interface {
	Push(s Sample)
}

// SessionObserver is an optional Sink extension notified once when a
// session starts, before the first sample.
type SessionObserver interface {
	SessionStarted(info SessionInfo)
}

// SummarySink is an optional Sink extension receiving the summary of a
// session, exactly once, just before the state flips to Completed.
type SummarySink interface {
	SessionCompleted(sum Summary)
}

// FaultSink is an optional Sink extension notified when a session ends
// in a fault. No summary follows a fault.
type FaultSink interface {
	SessionFaulted(info SessionInfo, cause error)
}

// SessionInfo describes a session at start time.
type SessionInfo struct {
	Profile   profile.Profile
	Metadata  Metadata
	Identity  scpi.Identity
	StartedAt time.Time
}
