package engine

import "codeberg.org/hvlab/dischargectl/internal/errors"

const (
	// Command errors
	ErrInvalidState     = errors.ErrInvalidState
	ErrValidationFailed = errors.ErrValidationFailed
	ErrClosed           = errors.ErrorCode("engine_closed")

	// Session errors
	ErrStartFailed = errors.ErrorCode("engine_start_failed")
	ErrDeviceFault = errors.ErrDeviceFault
)
