package scpi

import "codeberg.org/hvlab/dischargectl/internal/errors"

const (
	// Reply parsing errors
	ErrEmptyReply          = errors.ErrorCode("scpi_empty_reply")
	ErrMalformedNumber     = errors.ErrorCode("scpi_malformed_number")
	ErrMalformedReply      = errors.ErrorCode("scpi_malformed_reply")
	ErrUnknownFunction     = errors.ErrorCode("scpi_unknown_function")
	ErrMalformedInputState = errors.ErrorCode("scpi_malformed_input_state")
)
