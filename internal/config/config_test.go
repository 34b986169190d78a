package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/hvlab/dischargectl/internal/config"
	"codeberg.org/hvlab/dischargectl/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dischargectl.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISCHARGECTL_CONFIG", "")

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.False(t, cfg.TestMode)
	assert.Equal(t, "192.168.0.123", cfg.Instrument.Address)
	assert.Equal(t, 7000, cfg.Instrument.Port)
	assert.Equal(t, 5*time.Second, cfg.Instrument.Timeout())
	assert.Equal(t, 2, cfg.Instrument.Retries)
	assert.Equal(t, time.Second, cfg.Engine.SampleInterval())
	assert.InDelta(t, 400.0, cfg.Engine.StartingVoltage, 0.001)
	assert.InDelta(t, 400.0, cfg.Simulator.InitialVoltage, 0.001)
	assert.True(t, cfg.Logbook.Enabled)
	assert.Equal(t, "hv_discharge_log.db", cfg.Logbook.Path)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, "Default CC", cfg.Run.Profile)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"
test_mode = true

[instrument]
address = "10.0.0.42"
port = 5025
timeout_ms = 2000

[engine]
sample_interval_ms = 500
starting_voltage = 820

[logbook]
enabled = false

[run]
profile = "Default CP"
registration = "ab12345"
`)
	t.Setenv("DISCHARGECTL_CONFIG", path)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.TestMode)
	assert.Equal(t, "10.0.0.42", cfg.Instrument.Address)
	assert.Equal(t, 5025, cfg.Instrument.Port)
	assert.Equal(t, 2*time.Second, cfg.Instrument.Timeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.SampleInterval())
	assert.InDelta(t, 820.0, cfg.Engine.StartingVoltage, 0.001)
	assert.False(t, cfg.Logbook.Enabled)
	assert.Equal(t, "Default CP", cfg.Run.Profile)
	assert.Equal(t, "ab12345", cfg.Run.Registration)

	// Values the file does not mention keep their defaults.
	assert.Equal(t, 2, cfg.Instrument.Retries)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
log_level = "warn"

[run]
profile = "Default CC"
`)
	t.Setenv("DISCHARGECTL_CONFIG", path)

	cfg, err := config.Load([]string{
		"--log-level", "debug",
		"--test-mode",
		"--profile", "Default CV",
		"--registration", "zx98765",
	})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.TestMode)
	assert.Equal(t, "Default CV", cfg.Run.Profile)
	assert.Equal(t, "zx98765", cfg.Run.Registration)
}

func TestLoadExplicitConfigFlag(t *testing.T) {
	t.Setenv("DISCHARGECTL_CONFIG", "")
	path := writeConfig(t, `log_level = "error"`)

	cfg, err := config.Load([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv("DISCHARGECTL_CONFIG", filepath.Join(t.TempDir(), "nope.toml"))

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrReadConfig, errors.CodeOf(err))
}

func TestLoadMalformedFile(t *testing.T) {
	t.Setenv("DISCHARGECTL_CONFIG", writeConfig(t, "this is not TOML"))

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrReadConfig, errors.CodeOf(err))
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    errors.ErrorCode
	}{
		{
			name:    "bad log level",
			content: `log_level = "noisy"`,
			code:    errors.ErrInvalidLogLevel,
		},
		{
			name: "zero sample interval",
			content: `
[engine]
sample_interval_ms = 0
`,
			code: errors.ErrInvalidInterval,
		},
		{
			name: "port out of range",
			content: `
[instrument]
port = 70000
`,
			code: errors.ErrInvalidConfig,
		},
		{
			name: "negative retries",
			content: `
[instrument]
retries = -1
`,
			code: errors.ErrInvalidConfig,
		},
		{
			name: "logbook without path",
			content: `
[logbook]
enabled = true
path = ""
`,
			code: errors.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DISCHARGECTL_CONFIG", writeConfig(t, tt.content))

			_, err := config.Load(nil)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}
