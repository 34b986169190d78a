package scpi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/hvlab/dischargectl/internal/errors"
)

func TestCommandBuilders(t *testing.T) {
	assert.Equal(t, "INPut:FUNCtion CC", SetFunction(FunctionCC))
	assert.Equal(t, "INPut:FUNCtion CP", SetFunction(FunctionCP))
	assert.Equal(t, "STATic:CC:HIGH:LEVel 10", SetLevel(FunctionCC, 10))
	assert.Equal(t, "STATic:CP:HIGH:LEVel 2000", SetLevel(FunctionCP, 2000))
	assert.Equal(t, "STATic:CV:HIGH:LEVel 380.5", SetLevel(FunctionCV, 380.5))
	assert.Equal(t, "INPut:STATe 1", SetInput(true))
	assert.Equal(t, "INPut:STATe 0", SetInput(false))
}

func TestParseMeasurement(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		unit    string
		want    float64
		wantErr bool
	}{
		{name: "plain value with unit", reply: "399.95 V", unit: "V", want: 399.95},
		{name: "no unit in reply", reply: "12.5", unit: "A", want: 12.5},
		{name: "scientific notation", reply: "4.00E+01 V", unit: "V", want: 40},
		{name: "negative current", reply: "-0.5A", unit: "A", want: -0.5},
		{name: "lowercase unit", reply: "399.95 v", unit: "V", want: 399.95},
		{name: "empty reply", reply: "", unit: "V", wantErr: true},
		{name: "unit only", reply: "V", unit: "V", wantErr: true},
		{name: "text reply", reply: "OVERLOAD", unit: "V", wantErr: true},
		{name: "doubled decimal point", reply: "4..00", unit: "V", wantErr: true},
		{name: "doubled sign", reply: "--5", unit: "V", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMeasurement(tt.reply, tt.unit)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseInputState(t *testing.T) {
	on, err := ParseInputState("1")
	require.NoError(t, err)
	assert.True(t, on)

	on, err = ParseInputState(" ON\n")
	require.NoError(t, err)
	assert.True(t, on)

	on, err = ParseInputState("0")
	require.NoError(t, err)
	assert.False(t, on)

	on, err = ParseInputState("off")
	require.NoError(t, err)
	assert.False(t, on)

	_, err = ParseInputState("garbage")
	require.Error(t, err)
	assert.Equal(t, ErrMalformedInputState, errors.CodeOf(err))
}

func TestParseFunction(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    string
		wantErr bool
	}{
		{name: "code for CC", reply: "0", want: "CC"},
		{name: "code for CV", reply: "1", want: "CV"},
		{name: "code for CP", reply: "3", want: "CP"},
		{name: "high code", reply: "22", want: "SZ"},
		{name: "echoed name", reply: "CC", want: "CC"},
		{name: "lowercase name", reply: "cp", want: "CP"},
		{name: "unassigned code", reply: "17", wantErr: true},
		{name: "unknown name", reply: "WEIRD", wantErr: true},
		{name: "empty", reply: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFunction(tt.reply)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("Simulated Instrument, Model Test, S/N 12345")
	require.NoError(t, err)
	assert.Equal(t, "Simulated Instrument", id.Manufacturer)
	assert.Equal(t, "Model Test", id.Model)
	assert.Equal(t, "S/N 12345", id.Serial)
	assert.Empty(t, id.Firmware)
	assert.Equal(t, "Simulated Instrument, Model Test, S/N 12345", id.String())

	id, err = ParseIdentity("NGI,N6205,SN012,1.03\n")
	require.NoError(t, err)
	assert.Equal(t, "NGI", id.Manufacturer)
	assert.Equal(t, "N6205", id.Model)
	assert.Equal(t, "SN012", id.Serial)
	assert.Equal(t, "1.03", id.Firmware)

	_, err = ParseIdentity("  ")
	require.Error(t, err)
	assert.Equal(t, ErrEmptyReply, errors.CodeOf(err))
}

func TestParseSystemError(t *testing.T) {
	code, message, err := ParseSystemError(`0,"No error"`)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "No error", message)

	code, message, err = ParseSystemError(`-113,"Undefined header"`)
	require.NoError(t, err)
	assert.Equal(t, -113, code)
	assert.Equal(t, "Undefined header", message)

	code, message, err = ParseSystemError("12,unquoted text")
	require.NoError(t, err)
	assert.Equal(t, 12, code)
	assert.Equal(t, "unquoted text", message)

	_, _, err = ParseSystemError("garbage")
	require.Error(t, err)
	assert.Equal(t, ErrMalformedReply, errors.CodeOf(err))
}
