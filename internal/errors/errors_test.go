package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryNew(t *testing.T) {
	factory := New()

	err := factory.New(ErrValidationFailed)
	require.Error(t, err)
	assert.Equal(t, ErrValidationFailed, err.Code())
	assert.Equal(t, "Validation failed", err.Error())
}

func TestFactoryWrapPreservesCause(t *testing.T) {
	factory := New()
	cause := fmt.Errorf("dial tcp: connection refused")

	err := factory.Wrap(ErrConnectionFailed, cause)
	require.Error(t, err)
	assert.Equal(t, ErrConnectionFailed, err.Code())
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWithMessageAndData(t *testing.T) {
	factory := New()

	err := factory.New(ErrProtocolViolation).
		WithMessage("unparseable measurement").
		WithData(struct{ Reply string }{Reply: "garbage"})

	assert.Equal(t, ErrProtocolViolation, err.Code())
	assert.Contains(t, err.Error(), "unparseable measurement")
	require.NotNil(t, err.GetData())
}

func TestCodeOf(t *testing.T) {
	factory := New()

	assert.Equal(t, ErrRequestTimeout, CodeOf(factory.New(ErrRequestTimeout)))
	assert.Equal(t, ErrorCode(""), CodeOf(fmt.Errorf("plain error")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestIsCode(t *testing.T) {
	factory := New()
	inner := factory.New(ErrRequestTimeout)
	outer := factory.Wrap(ErrConnectionFailed, inner)

	assert.True(t, IsCode(outer, ErrConnectionFailed))
	assert.True(t, IsCode(outer, ErrRequestTimeout))
	assert.False(t, IsCode(outer, ErrDeviceFault))
	assert.False(t, IsCode(nil, ErrDeviceFault))
}

func TestGetErrorMessageFallsBackToCode(t *testing.T) {
	assert.Equal(t, "some_unknown_code", GetErrorMessage(ErrorCode("some_unknown_code")))
}
