// Package config loads and validates the dischargectl configuration
// from defaults, a TOML file and command-line flags, in that order of
// precedence (flags win).
package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/hvlab/dischargectl/internal/errors"
)

const (
	configEnvVar    = "DISCHARGECTL_CONFIG"
	configName      = "dischargectl"
	DefaultLogLevel = "info"
)

var errFactory = errors.New()

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	TestMode bool   `mapstructure:"test_mode"`

	Instrument InstrumentConfig `mapstructure:"instrument"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Simulator  SimulatorConfig  `mapstructure:"simulator"`
	Logbook    LogbookConfig    `mapstructure:"logbook"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Profiles   ProfilesConfig   `mapstructure:"profiles"`
	Run        RunConfig        `mapstructure:"run"`
}

// InstrumentConfig holds the TCP link settings for the electronic load.
type InstrumentConfig struct {
	Address        string `mapstructure:"address"`
	Port           int    `mapstructure:"port"`
	TimeoutMs      int    `mapstructure:"timeout_ms"`
	Retries        int    `mapstructure:"retries"`
	RetryBackoffMs int    `mapstructure:"retry_backoff_ms"`
	SettleDelayMs  int    `mapstructure:"settle_delay_ms"`
	VerifySets     bool   `mapstructure:"verify_sets"`
}

func (c InstrumentConfig) Timeout() time.Duration      { return time.Duration(c.TimeoutMs) * time.Millisecond }
func (c InstrumentConfig) RetryBackoff() time.Duration { return time.Duration(c.RetryBackoffMs) * time.Millisecond }
func (c InstrumentConfig) SettleDelay() time.Duration  { return time.Duration(c.SettleDelayMs) * time.Millisecond }

// EngineConfig holds the sampling loop settings.
type EngineConfig struct {
	SampleIntervalMs int     `mapstructure:"sample_interval_ms"`
	StartingVoltage  float64 `mapstructure:"starting_voltage"`
	StartingCurrent  float64 `mapstructure:"starting_current"`
}

func (c EngineConfig) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalMs) * time.Millisecond
}

// SimulatorConfig tunes the test-mode battery model.
type SimulatorConfig struct {
	InitialVoltage   float64 `mapstructure:"initial_voltage"`
	ResistanceFactor float64 `mapstructure:"resistance_factor"`
	CVCurrentStart   float64 `mapstructure:"cv_current_start"`
	CVCurrentDecay   float64 `mapstructure:"cv_current_decay"`
	Noise            float64 `mapstructure:"noise"`
	DecayPerTick     float64 `mapstructure:"decay_per_tick"`
	Seed             int64   `mapstructure:"seed"`
}

type LogbookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type HTTPConfig struct {
	Listen         string   `mapstructure:"listen"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ProfilesConfig struct {
	Path string `mapstructure:"path"`
}

// RunConfig carries the one-shot session parameters used by the
// headless runner. All strings pass through to the session metadata.
type RunConfig struct {
	Profile      string `mapstructure:"profile"`
	Registration string `mapstructure:"registration"`
	Operator     string `mapstructure:"operator"`
	Location     string `mapstructure:"location"`
	Comment      string `mapstructure:"comment"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("test_mode", false)

	v.SetDefault("instrument.address", "192.168.0.123")
	v.SetDefault("instrument.port", 7000)
	v.SetDefault("instrument.timeout_ms", 5000)
	v.SetDefault("instrument.retries", 2)
	v.SetDefault("instrument.retry_backoff_ms", 250)
	v.SetDefault("instrument.settle_delay_ms", 50)
	v.SetDefault("instrument.verify_sets", false)

	v.SetDefault("engine.sample_interval_ms", 1000)
	v.SetDefault("engine.starting_voltage", 400)
	v.SetDefault("engine.starting_current", 0)

	v.SetDefault("simulator.initial_voltage", 400)
	v.SetDefault("simulator.resistance_factor", 0.01)
	v.SetDefault("simulator.cv_current_start", 5)
	v.SetDefault("simulator.cv_current_decay", 0.05)
	v.SetDefault("simulator.noise", 1)
	v.SetDefault("simulator.decay_per_tick", 0)
	v.SetDefault("simulator.seed", 1)

	v.SetDefault("logbook.enabled", true)
	v.SetDefault("logbook.path", "hv_discharge_log.db")

	v.SetDefault("http.listen", ":8080")
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("profiles.path", "profiles.yaml")

	v.SetDefault("run.profile", "Default CC")
	v.SetDefault("run.registration", "")
	v.SetDefault("run.operator", "")
	v.SetDefault("run.location", "")
	v.SetDefault("run.comment", "")
}

// Load reads defaults, the config file and the given command-line
// arguments. The config file is taken from the DISCHARGECTL_CONFIG
// environment variable or the --config flag when set, otherwise
// dischargectl.toml is searched in /etc/dischargectl and the working
// directory. A fresh flag set is built per call so tests can load
// repeatedly.
func Load(args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	fs.Bool("test-mode", false, "drive the simulated instrument instead of hardware")
	fs.String("listen", ":8080", "HTTP listen address")
	fs.String("profile", "", "discharge profile name")
	fs.String("registration", "", "vehicle registration number")
	fs.String("operator", "", "operator name")
	fs.String("location", "", "location / workspace")
	fs.String("comment", "", "certificate comment")
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindings := map[string]string{
		"log_level":        "log-level",
		"test_mode":        "test-mode",
		"http.listen":      "listen",
		"run.profile":      "profile",
		"run.registration": "registration",
		"run.operator":     "operator",
		"run.location":     "location",
		"run.comment":      "comment",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	explicit := *configPath
	if explicit == "" {
		explicit = os.Getenv(configEnvVar)
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/dischargectl")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing file from the search path is fine; an explicitly
		// named file must exist.
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err).
				WithData(struct{ Path string }{Path: explicit})
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the loaded configuration for values the rest of the
// system cannot work with.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return errFactory.Wrap(errors.ErrInvalidLogLevel, err).
			WithData(struct{ Level string }{Level: c.LogLevel})
	}

	if c.Engine.SampleIntervalMs <= 0 {
		return errFactory.New(errors.ErrInvalidInterval).
			WithData(struct{ IntervalMs int }{IntervalMs: c.Engine.SampleIntervalMs})
	}
	if c.Engine.StartingVoltage < 0 || c.Engine.StartingCurrent < 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "starting values must not be negative")
	}

	if c.Instrument.Port < 1 || c.Instrument.Port > 65535 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "instrument port out of range").
			WithData(struct{ Port int }{Port: c.Instrument.Port})
	}
	if c.Instrument.TimeoutMs <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "instrument timeout must be positive")
	}
	if c.Instrument.Retries < 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "instrument retries must not be negative")
	}
	if c.Instrument.RetryBackoffMs < 0 || c.Instrument.SettleDelayMs < 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "instrument delays must not be negative")
	}

	if c.Simulator.InitialVoltage <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "simulator initial voltage must be positive")
	}

	if c.Logbook.Enabled && c.Logbook.Path == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "logbook enabled without a database path")
	}

	if c.HTTP.Listen == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "http listen address missing")
	}

	return nil
}
