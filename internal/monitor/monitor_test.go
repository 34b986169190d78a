package monitor

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/hvlab/dischargectl/internal/engine"
)

func TestSinkTracksLastSample(t *testing.T) {
	sink := NewSink(prometheus.NewRegistry())

	sink.Push(engine.Sample{Voltage: 395, Current: 10, Power: 3950, CumulativeKWh: 0.0011, StepIndex: 0})
	sink.Push(engine.Sample{Voltage: 350, Current: 5, Power: 1750, CumulativeKWh: 0.0021, StepIndex: 1})

	assert.InDelta(t, 350, testutil.ToFloat64(sink.voltage), 1e-9)
	assert.InDelta(t, 5, testutil.ToFloat64(sink.current), 1e-9)
	assert.InDelta(t, 1750, testutil.ToFloat64(sink.power), 1e-9)
	assert.InDelta(t, 0.0021, testutil.ToFloat64(sink.energy), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(sink.step), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(sink.samples), 1e-9)
}

func TestSinkResetsGaugesOnStart(t *testing.T) {
	sink := NewSink(prometheus.NewRegistry())

	sink.Push(engine.Sample{Voltage: 395, Current: 10, CumulativeKWh: 0.5, StepIndex: 1})
	sink.SessionStarted(engine.SessionInfo{StartedAt: time.Now()})

	assert.Zero(t, testutil.ToFloat64(sink.voltage))
	assert.Zero(t, testutil.ToFloat64(sink.energy))
	assert.Zero(t, testutil.ToFloat64(sink.step))

	// Counters run across sessions.
	assert.InDelta(t, 1, testutil.ToFloat64(sink.samples), 1e-9)
}

func TestSinkCountsSessionEndings(t *testing.T) {
	sink := NewSink(prometheus.NewRegistry())

	sink.SessionCompleted(engine.Summary{})
	sink.SessionCompleted(engine.Summary{})
	sink.SessionFaulted(engine.SessionInfo{}, assert.AnError)

	assert.InDelta(t, 2, testutil.ToFloat64(sink.completed), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(sink.faulted), 1e-9)
}

func TestHandlerServesRegistry(t *testing.T) {
	sink := NewSink(prometheus.NewRegistry())
	sink.Push(engine.Sample{Voltage: 400})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	sink.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "discharge_voltage_volts 400")
}
