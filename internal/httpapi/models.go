package httpapi

import (
	"time"

	"codeberg.org/hvlab/dischargectl/internal/engine"
	"codeberg.org/hvlab/dischargectl/internal/logbook"
	"codeberg.org/hvlab/dischargectl/internal/profile"
)

// ErrorResponse is the envelope every failed request returns.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code and a human-readable
// message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MetadataPayload describes the pack under test. Mode is reported but
// never read from requests; the server knows which instrument it
// drives.
type MetadataPayload struct {
	Registration string `json:"registration"`
	Operator     string `json:"operator,omitempty"`
	Location     string `json:"location,omitempty"`
	Comment      string `json:"comment,omitempty"`
	Mode         string `json:"mode,omitempty"`
}

// DischargeRequest starts a session from a stored profile name or
// inline steps. Inline steps win when both are present.
type DischargeRequest struct {
	Profile  string          `json:"profile,omitempty"`
	Steps    []profile.Step  `json:"steps,omitempty"`
	Metadata MetadataPayload `json:"metadata"`
}

// SamplePayload is one measurement row.
type SamplePayload struct {
	Timestamp      time.Time `json:"timestamp"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	StepIndex      int       `json:"step_index"`
	Voltage        float64   `json:"voltage"`
	Current        float64   `json:"current"`
	Power          float64   `json:"power"`
	EnergyKWh      float64   `json:"energy_kwh"`
}

// StatusResponse reports the engine and link state. Session fields are
// zero or omitted while idle.
type StatusResponse struct {
	State        string           `json:"state"`
	Connection   string           `json:"connection"`
	Profile      string           `json:"profile,omitempty"`
	Metadata     *MetadataPayload `json:"metadata,omitempty"`
	StepIndex    int              `json:"step_index"`
	StepCount    int              `json:"step_count"`
	SampleCount  int              `json:"sample_count"`
	EnergyKWh    float64          `json:"energy_kwh"`
	LastSample   *SamplePayload   `json:"last_sample,omitempty"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	EndedAt      *time.Time       `json:"ended_at,omitempty"`
	FaultMessage string           `json:"fault_message,omitempty"`
}

// SamplesResponse wraps the session history.
type SamplesResponse struct {
	Samples []SamplePayload `json:"samples"`
}

// ProfilesResponse wraps the stored profile list.
type ProfilesResponse struct {
	Profiles []profile.Profile `json:"profiles"`
}

// SessionPayload is one logbook row.
type SessionPayload struct {
	ID           int64      `json:"id"`
	Registration string     `json:"registration"`
	ProfileName  string     `json:"profile_name"`
	Operator     string     `json:"operator,omitempty"`
	Location     string     `json:"location,omitempty"`
	Mode         string     `json:"mode,omitempty"`
	Instrument   string     `json:"instrument,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	TotalKWh     *float64   `json:"total_kwh,omitempty"`
	Aborted      bool       `json:"aborted"`
	Comment      string     `json:"comment,omitempty"`
}

// SessionsResponse wraps the logbook listing.
type SessionsResponse struct {
	Sessions []SessionPayload `json:"sessions"`
}

// SessionDetailPayload is one logbook row with its samples.
type SessionDetailPayload struct {
	SessionPayload
	Samples []SamplePayload `json:"samples"`
}

func samplePayload(s engine.Sample) SamplePayload {
	return SamplePayload{
		Timestamp:      s.Timestamp,
		ElapsedSeconds: s.Elapsed.Seconds(),
		StepIndex:      s.StepIndex,
		Voltage:        s.Voltage,
		Current:        s.Current,
		Power:          s.Power,
		EnergyKWh:      s.CumulativeKWh,
	}
}

func recordPayload(s logbook.SampleRecord) SamplePayload {
	return SamplePayload{
		Timestamp:      s.Timestamp,
		ElapsedSeconds: s.ElapsedSeconds,
		StepIndex:      s.StepIndex,
		Voltage:        s.Voltage,
		Current:        s.Current,
		Power:          s.Power,
		EnergyKWh:      s.EnergyKWh,
	}
}

func sessionPayload(rec logbook.SessionRecord) SessionPayload {
	return SessionPayload{
		ID:           rec.ID,
		Registration: rec.Registration,
		ProfileName:  rec.ProfileName,
		Operator:     rec.Operator,
		Location:     rec.Location,
		Mode:         rec.Mode,
		Instrument:   rec.Instrument,
		StartedAt:    rec.StartedAt,
		EndedAt:      rec.EndedAt,
		TotalKWh:     rec.TotalKWh,
		Aborted:      rec.Aborted,
		Comment:      rec.Comment,
	}
}
