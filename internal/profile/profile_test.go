package profile

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/hvlab/dischargectl/internal/errors"
)

func validProfile() Profile {
	return Profile{
		Name: "two step",
		Steps: []Step{
			{Kind: ConstantCurrent, Level: 10, Stop: StopCondition{Metric: MetricVoltage, Threshold: 350}},
			{Kind: ConstantPower, Level: 500, Stop: StopCondition{Metric: MetricVoltage, Threshold: 300}},
		},
	}
}

func TestValidateAcceptsGoodProfile(t *testing.T) {
	require.NoError(t, validProfile().Validate(Starting{Voltage: 400}))
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Profile)
		start   Starting
		message string
	}{
		{
			name:    "no steps",
			mutate:  func(p *Profile) { p.Steps = nil },
			message: "no steps",
		},
		{
			name:    "unknown kind",
			mutate:  func(p *Profile) { p.Steps[0].Kind = StepKind("CR") },
			message: "unsupported step kind",
		},
		{
			name:    "zero level",
			mutate:  func(p *Profile) { p.Steps[1].Level = 0 },
			message: "level must be a positive number",
		},
		{
			name:    "negative level",
			mutate:  func(p *Profile) { p.Steps[0].Level = -5 },
			message: "level must be a positive number",
		},
		{
			name:    "NaN level",
			mutate:  func(p *Profile) { p.Steps[0].Level = math.NaN() },
			message: "level must be a positive number",
		},
		{
			name:    "unknown metric",
			mutate:  func(p *Profile) { p.Steps[0].Stop.Metric = Metric("power") },
			message: "unsupported stop metric",
		},
		{
			name:    "negative threshold",
			mutate:  func(p *Profile) { p.Steps[0].Stop.Threshold = -1 },
			message: "zero or positive",
		},
		{
			name:    "infinite threshold",
			mutate:  func(p *Profile) { p.Steps[0].Stop.Threshold = math.Inf(1) },
			message: "zero or positive",
		},
		{
			name:    "threshold equals starting voltage",
			mutate:  func(p *Profile) { p.Steps[0].Stop.Threshold = 400 },
			start:   Starting{Voltage: 400},
			message: "before it begins",
		},
		{
			name:    "threshold above starting voltage",
			mutate:  func(p *Profile) { p.Steps[0].Stop.Threshold = 420 },
			start:   Starting{Voltage: 400},
			message: "before it begins",
		},
		{
			name: "current threshold above starting current",
			mutate: func(p *Profile) {
				p.Steps[0].Stop = StopCondition{Metric: MetricCurrent, Threshold: 5}
			},
			start:   Starting{Current: 2},
			message: "before it begins",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProfile()
			tt.mutate(&p)

			err := p.Validate(tt.start)
			require.Error(t, err)
			assert.Equal(t, errors.ErrValidationFailed, errors.CodeOf(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestValidateSkipsStartCheckWhenUnknown(t *testing.T) {
	p := validProfile()
	p.Steps[0].Stop.Threshold = 350

	require.NoError(t, p.Validate(Starting{}))
}

func TestStoreEnsureDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	store := NewStore(path)

	require.NoError(t, store.EnsureDefaults())

	profiles, err := store.List()
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, "Default CC", profiles[0].Name)
	assert.Equal(t, "Default CP", profiles[1].Name)
	assert.Equal(t, "Default CV", profiles[2].Name)

	// A second call must not clobber user edits.
	custom := validProfile()
	require.NoError(t, store.Save(custom))
	require.NoError(t, store.EnsureDefaults())

	profiles, err = store.List()
	require.NoError(t, err)
	assert.Len(t, profiles, 4)
}

func TestStoreGetSaveDelete(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "profiles.yaml"))
	require.NoError(t, store.EnsureDefaults())

	got, err := store.Get("Default CP")
	require.NoError(t, err)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, ConstantPower, got.Steps[0].Kind)
	assert.InDelta(t, 2000, got.Steps[0].Level, 1e-9)

	_, err = store.Get("missing")
	require.Error(t, err)
	assert.Equal(t, ErrNotFound, errors.CodeOf(err))

	// Upsert replaces by name.
	replacement := Profile{
		Name:  "Default CP",
		Steps: []Step{{Kind: ConstantPower, Level: 1500, Stop: StopCondition{Metric: MetricVoltage, Threshold: 310}}},
	}
	require.NoError(t, store.Save(replacement))

	got, err = store.Get("Default CP")
	require.NoError(t, err)
	assert.InDelta(t, 1500, got.Steps[0].Level, 1e-9)

	profiles, err := store.List()
	require.NoError(t, err)
	assert.Len(t, profiles, 3)

	require.NoError(t, store.Delete("Default CP"))
	_, err = store.Get("Default CP")
	require.Error(t, err)

	err = store.Delete("Default CP")
	require.Error(t, err)
	assert.Equal(t, ErrNotFound, errors.CodeOf(err))
}

func TestStoreRejectsBadProfiles(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "profiles.yaml"))

	err := store.Save(Profile{Steps: validProfile().Steps})
	require.Error(t, err)
	assert.Equal(t, ErrUnnamed, errors.CodeOf(err))

	err = store.Save(Profile{Name: "bad", Steps: []Step{{Kind: ConstantCurrent, Level: 0}}})
	require.Error(t, err)
	assert.Equal(t, errors.ErrValidationFailed, errors.CodeOf(err))
}

func TestStoreMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles: {not: [valid"), 0o644))

	_, err := NewStore(path).List()
	require.Error(t, err)
	assert.Equal(t, ErrStoreMalformed, errors.CodeOf(err))
}
