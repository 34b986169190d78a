package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/hvlab/dischargectl/internal/engine"
	"codeberg.org/hvlab/dischargectl/internal/errors"
	"codeberg.org/hvlab/dischargectl/internal/instrument"
	"codeberg.org/hvlab/dischargectl/internal/logbook"
	"codeberg.org/hvlab/dischargectl/internal/monitor"
	"codeberg.org/hvlab/dischargectl/internal/profile"
)

type stubReader struct {
	sessions  []logbook.SessionRecord
	detail    *logbook.SessionDetail
	lastLimit int
}

func (r *stubReader) RecentSessions(_ context.Context, limit int) ([]logbook.SessionRecord, error) {
	r.lastLimit = limit
	return r.sessions, nil
}

func (r *stubReader) SessionData(_ context.Context, id int64) (*logbook.SessionDetail, error) {
	if r.detail != nil && r.detail.ID == id {
		return r.detail, nil
	}

	return nil, errFactory.New(logbook.ErrNotFound).
		WithData(struct{ ID int64 }{ID: id})
}

type fixture struct {
	handler http.Handler
	eng     *engine.Engine
	store   *profile.Store
	book    *stubReader
}

// newFixture wires a server around a simulator that loses 5 V per
// sample from 400 V, ticking every 2 ms.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	sim := instrument.NewSimulator(instrument.SimConfig{
		InitialVoltage: 400,
		DecayPerTick:   5,
		CVCurrentStart: 5,
		CVCurrentDecay: 0.05,
		Seed:           1,
	})

	eng, err := engine.New(engine.Config{
		SampleInterval:  2 * time.Millisecond,
		StartingVoltage: 400,
	}, sim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	store := profile.NewStore(filepath.Join(t.TempDir(), "profiles.yaml"))
	book := &stubReader{}
	mon := monitor.NewSink(prometheus.NewRegistry())

	srv, err := NewServer(Config{
		Enabled:        true,
		Listen:         ":0",
		AllowedOrigins: []string{"*"},
	}, Deps{
		Engine:  eng,
		Store:   store,
		Logbook: book,
		Metrics: mon.Handler(),
		Mode:    "Test",
	})
	require.NoError(t, err)

	return &fixture{handler: srv.Handler(), eng: eng, store: store, book: book}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	return rec
}

// state polls the status route without require so it can run inside
// Eventually conditions.
func (f *fixture) state(t *testing.T) string {
	rec := f.do(t, http.MethodGet, "/api/v1/status", nil)

	var st StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		return ""
	}

	return st.State
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var resp ErrorResponse
	decodeJSON(t, rec, &resp)

	return resp.Error.Code
}

func ccStep(level, threshold float64) profile.Step {
	return profile.Step{
		Kind:  profile.ConstantCurrent,
		Level: level,
		Stop:  profile.StopCondition{Metric: profile.MetricVoltage, Threshold: threshold},
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusIdle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st StatusResponse
	decodeJSON(t, rec, &st)

	assert.Equal(t, "idle", st.State)
	assert.Equal(t, "disconnected", st.Connection)
	assert.Empty(t, st.Profile)
	assert.Nil(t, st.Metadata)
	assert.Nil(t, st.LastSample)
	assert.Nil(t, st.StartedAt)
	assert.Zero(t, st.SampleCount)
}

func TestDischargeLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/discharge", DischargeRequest{
		Steps:    []profile.Step{ccStep(10, 350)},
		Metadata: MetadataPayload{Registration: "ab12345", Operator: "Kim"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var st StatusResponse
	decodeJSON(t, rec, &st)
	assert.Equal(t, "running", st.State)
	assert.Equal(t, "connected", st.Connection)
	assert.Equal(t, "ad hoc", st.Profile)
	assert.Equal(t, 1, st.StepCount)
	require.NotNil(t, st.Metadata)
	assert.Equal(t, "AB12345", st.Metadata.Registration)
	assert.Equal(t, "Kim", st.Metadata.Operator)
	assert.Equal(t, "Test", st.Metadata.Mode)
	require.NotNil(t, st.StartedAt)

	// 400 V falling 5 V per sample crosses 350 V on the tenth sample.
	require.Eventually(t, func() bool {
		return f.state(t) == "completed"
	}, 5*time.Second, 2*time.Millisecond)

	rec = f.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var done StatusResponse
	decodeJSON(t, rec, &done)
	assert.Equal(t, 10, done.SampleCount)
	assert.Positive(t, done.EnergyKWh)
	require.NotNil(t, done.EndedAt)
	require.NotNil(t, done.LastSample)
	assert.InDelta(t, 350, done.LastSample.Voltage, 1e-9)

	rec = f.do(t, http.MethodGet, "/api/v1/samples?limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var samples SamplesResponse
	decodeJSON(t, rec, &samples)
	require.Len(t, samples.Samples, 3)
	assert.InDelta(t, 360, samples.Samples[0].Voltage, 1e-9)
	assert.InDelta(t, 355, samples.Samples[1].Voltage, 1e-9)
	assert.InDelta(t, 350, samples.Samples[2].Voltage, 1e-9)
	assert.InDelta(t, 0.020, samples.Samples[2].ElapsedSeconds, 1e-9)
	assert.InDelta(t, 10, samples.Samples[2].Current, 1e-9)
}

func TestDischargeFromStoredProfile(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.Save(profile.Profile{
		Name:  "bench",
		Steps: []profile.Step{ccStep(10, 350)},
	}))

	rec := f.do(t, http.MethodPost, "/api/v1/discharge", DischargeRequest{
		Profile:  "bench",
		Metadata: MetadataPayload{Registration: "CD99"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var st StatusResponse
	decodeJSON(t, rec, &st)
	assert.Equal(t, "bench", st.Profile)
}

func TestDischargeValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{
			name: "missing registration",
			body: DischargeRequest{
				Steps: []profile.Step{ccStep(10, 350)},
			},
			wantCode: http.StatusBadRequest,
			wantErr:  string(errors.ErrValidationFailed),
		},
		{
			name:     "neither profile nor steps",
			body:     DischargeRequest{Metadata: MetadataPayload{Registration: "AB1"}},
			wantCode: http.StatusBadRequest,
			wantErr:  string(errors.ErrValidationFailed),
		},
		{
			name: "unknown stored profile",
			body: DischargeRequest{
				Profile:  "no such profile",
				Metadata: MetadataPayload{Registration: "AB1"},
			},
			wantCode: http.StatusNotFound,
			wantErr:  string(profile.ErrNotFound),
		},
		{
			name: "threshold above starting voltage",
			body: DischargeRequest{
				Steps:    []profile.Step{ccStep(10, 420)},
				Metadata: MetadataPayload{Registration: "AB1"},
			},
			wantCode: http.StatusBadRequest,
			wantErr:  string(errors.ErrValidationFailed),
		},
		{
			name:     "malformed body",
			body:     json.RawMessage(`{"steps": 5}`),
			wantCode: http.StatusBadRequest,
			wantErr:  string(errors.ErrValidationFailed),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			rec := f.do(t, http.MethodPost, "/api/v1/discharge", tt.body)

			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantErr, errorCode(t, rec))
			assert.Equal(t, "idle", f.state(t))
		})
	}
}

func TestControlFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/discharge", DischargeRequest{
		Steps:    []profile.Step{ccStep(10, 1)},
		Metadata: MetadataPayload{Registration: "AB1"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/discharge", DischargeRequest{
		Steps:    []profile.Step{ccStep(10, 1)},
		Metadata: MetadataPayload{Registration: "AB1"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(errors.ErrInvalidState), errorCode(t, rec))

	rec = f.do(t, http.MethodPost, "/api/v1/discharge/pause", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/discharge/resume", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/reset", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/discharge/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Eventually(t, func() bool {
		return f.state(t) == "completed"
	}, 5*time.Second, 2*time.Millisecond)

	rec = f.do(t, http.MethodPost, "/api/v1/discharge/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(errors.ErrInvalidState), errorCode(t, rec))
}

func TestControlWithoutSession(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/discharge/pause", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, string(errors.ErrInvalidState), resp.Error.Code)
	assert.NotEmpty(t, resp.Error.Message)
}

func TestResetIdle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/reset", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var st StatusResponse
	decodeJSON(t, rec, &st)
	assert.Equal(t, "idle", st.State)
}

func TestSamplesLimitValidation(t *testing.T) {
	f := newFixture(t)

	for _, limit := range []string{"-1", "abc"} {
		rec := f.do(t, http.MethodGet, "/api/v1/samples?limit="+limit, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(errors.ErrValidationFailed), errorCode(t, rec))
	}
}

func TestProfilesRoundTrip(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"profiles":[]}`, rec.Body.String())

	saved := profile.Profile{
		Name: "acceptance",
		Steps: []profile.Step{
			ccStep(10, 350),
			{Kind: profile.ConstantPower, Level: 500, Stop: profile.StopCondition{Metric: profile.MetricVoltage, Threshold: 300}},
		},
	}
	rec = f.do(t, http.MethodPost, "/api/v1/profiles", saved)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list ProfilesResponse
	decodeJSON(t, rec, &list)
	require.Len(t, list.Profiles, 1)
	assert.Equal(t, saved, list.Profiles[0])

	rec = f.do(t, http.MethodPost, "/api/v1/profiles", profile.Profile{Name: "bad"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(errors.ErrValidationFailed), errorCode(t, rec))

	rec = f.do(t, http.MethodPost, "/api/v1/profiles", profile.Profile{
		Steps: []profile.Step{ccStep(10, 350)},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(profile.ErrUnnamed), errorCode(t, rec))

	rec = f.do(t, http.MethodDelete, "/api/v1/profiles/acceptance", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/profiles/acceptance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(profile.ErrNotFound), errorCode(t, rec))
}

func TestSessionsEndpoints(t *testing.T) {
	f := newFixture(t)

	started := time.UnixMilli(1700000000000).UTC()
	ended := started.Add(20 * time.Second)
	total := 0.0219

	f.book.sessions = []logbook.SessionRecord{
		{
			ID:           2,
			Registration: "AB12345",
			ProfileName:  "Default CC",
			Mode:         "Test",
			StartedAt:    started,
			EndedAt:      &ended,
			TotalKWh:     &total,
		},
		{ID: 1, Registration: "CD67890", ProfileName: "Default CP", StartedAt: started},
	}
	f.book.detail = &logbook.SessionDetail{
		SessionRecord: f.book.sessions[0],
		Samples: []logbook.SampleRecord{
			{Timestamp: started.Add(time.Second), ElapsedSeconds: 1, Voltage: 395, Current: 10, Power: 3950, EnergyKWh: 0.0011},
			{Timestamp: started.Add(2 * time.Second), ElapsedSeconds: 2, StepIndex: 1, Voltage: 390, Current: 10, Power: 3900, EnergyKWh: 0.0022},
		},
	}

	rec := f.do(t, http.MethodGet, "/api/v1/sessions?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.book.lastLimit)

	var list SessionsResponse
	decodeJSON(t, rec, &list)
	require.Len(t, list.Sessions, 2)
	assert.Equal(t, "AB12345", list.Sessions[0].Registration)
	require.NotNil(t, list.Sessions[0].TotalKWh)
	assert.InDelta(t, 0.0219, *list.Sessions[0].TotalKWh, 1e-9)
	assert.Nil(t, list.Sessions[1].EndedAt)
	assert.Nil(t, list.Sessions[1].TotalKWh)

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail SessionDetailPayload
	decodeJSON(t, rec, &detail)
	assert.Equal(t, int64(2), detail.ID)
	require.Len(t, detail.Samples, 2)
	assert.InDelta(t, 395, detail.Samples[0].Voltage, 1e-9)
	assert.Equal(t, 1, detail.Samples[1].StepIndex)

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(logbook.ErrNotFound), errorCode(t, rec))

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(errors.ErrValidationFailed), errorCode(t, rec))
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "discharge_voltage_volts")
	assert.Contains(t, rec.Body.String(), "discharge_samples_total")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://bench.lab.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusForMapsCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", errFactory.New(errors.ErrValidationFailed), http.StatusBadRequest},
		{"unnamed profile", errFactory.New(profile.ErrUnnamed), http.StatusBadRequest},
		{"state conflict", errFactory.New(errors.ErrInvalidState), http.StatusConflict},
		{"profile missing", errFactory.New(profile.ErrNotFound), http.StatusNotFound},
		{"logbook missing", errFactory.New(logbook.ErrNotFound), http.StatusNotFound},
		{"timeout", errFactory.New(errors.ErrRequestTimeout), http.StatusGatewayTimeout},
		{"link down", errFactory.New(errors.ErrConnectionFailed), http.StatusBadGateway},
		{"protocol", errFactory.New(errors.ErrProtocolViolation), http.StatusBadGateway},
		{"device fault", errFactory.New(errors.ErrDeviceFault), http.StatusBadGateway},
		{"engine closed", errFactory.New(engine.ErrClosed), http.StatusServiceUnavailable},
		{"wrapped cause maps through", errFactory.Wrap(engine.ErrStartFailed, errFactory.New(errors.ErrConnectionFailed)), http.StatusBadGateway},
		{"uncoded", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{Enabled: true}, Deps{})
	require.Error(t, err)
	assert.Equal(t, ErrInvalidConfig, errors.CodeOf(err))

	_, err = NewServer(Config{Enabled: true, Listen: ":0"}, Deps{})
	require.Error(t, err)
	assert.Equal(t, ErrInvalidConfig, errors.CodeOf(err))
}
