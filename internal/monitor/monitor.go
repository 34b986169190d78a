// Package monitor exposes live discharge readings as Prometheus
// metrics. It observes the engine through the sink hooks; rendering
// stays with whatever scrapes the handler.
package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codeberg.org/hvlab/dischargectl/internal/engine"
)

// Sink publishes the last sample and session counts on a registry. The
// gauges carry per-session values, the counters run across sessions.
type Sink struct {
	registry *prometheus.Registry

	voltage prometheus.Gauge
	current prometheus.Gauge
	power   prometheus.Gauge
	energy  prometheus.Gauge
	step    prometheus.Gauge

	samples   prometheus.Counter
	completed prometheus.Counter
	faulted   prometheus.Counter
}

var (
	_ engine.Sink            = (*Sink)(nil)
	_ engine.SessionObserver = (*Sink)(nil)
	_ engine.SummarySink     = (*Sink)(nil)
	_ engine.FaultSink       = (*Sink)(nil)
)

func NewSink(reg *prometheus.Registry) *Sink {
	s := &Sink{
		registry: reg,
		voltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "discharge_voltage_volts",
			Help: "Battery voltage of the last sample.",
		}),
		current: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "discharge_current_amperes",
			Help: "Load current of the last sample.",
		}),
		power: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "discharge_power_watts",
			Help: "Load power of the last sample.",
		}),
		energy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "discharge_energy_kwh_total",
			Help: "Energy drawn by the current session in kWh.",
		}),
		step: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "discharge_step_index",
			Help: "Zero-based index of the active profile step.",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discharge_samples_total",
			Help: "Samples recorded across all sessions.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discharge_sessions_completed_total",
			Help: "Sessions that reached Completed.",
		}),
		faulted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discharge_sessions_faulted_total",
			Help: "Sessions that ended Faulted.",
		}),
	}

	reg.MustRegister(s.voltage, s.current, s.power, s.energy, s.step,
		s.samples, s.completed, s.faulted)

	return s
}

// SessionStarted zeroes the per-session gauges so a scrape between
// start and the first sample does not show the previous session.
func (s *Sink) SessionStarted(engine.SessionInfo) {
	s.voltage.Set(0)
	s.current.Set(0)
	s.power.Set(0)
	s.energy.Set(0)
	s.step.Set(0)
}

func (s *Sink) Push(sample engine.Sample) {
	s.voltage.Set(sample.Voltage)
	s.current.Set(sample.Current)
	s.power.Set(sample.Power)
	s.energy.Set(sample.CumulativeKWh)
	s.step.Set(float64(sample.StepIndex))
	s.samples.Inc()
}

func (s *Sink) SessionCompleted(engine.Summary) {
	s.completed.Inc()
}

func (s *Sink) SessionFaulted(engine.SessionInfo, error) {
	s.faulted.Inc()
}

// Handler serves the registry for scraping.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
