package httpapi

import (
	"net/http"

	"codeberg.org/hvlab/dischargectl/internal/engine"
	"codeberg.org/hvlab/dischargectl/internal/errors"
	"codeberg.org/hvlab/dischargectl/internal/logbook"
	"codeberg.org/hvlab/dischargectl/internal/profile"
)

// Error codes for the HTTP surface
const (
	ErrInvalidConfig  = errors.ErrInvalidConfig
	ErrServeFailed    = errors.ErrorCode("httpapi_serve_failed")
	ErrShutdownFailed = errors.ErrShutdownFailed
)

// statusMap orders error codes by specificity; the first code found
// anywhere in the chain wins, so wrapped causes still map correctly.
var statusMap = []struct {
	code   errors.ErrorCode
	status int
}{
	{profile.ErrNotFound, http.StatusNotFound},
	{logbook.ErrNotFound, http.StatusNotFound},
	{profile.ErrUnnamed, http.StatusBadRequest},
	{errors.ErrValidationFailed, http.StatusBadRequest},
	{errors.ErrInvalidArgument, http.StatusBadRequest},
	{errors.ErrInvalidState, http.StatusConflict},
	{errors.ErrRequestTimeout, http.StatusGatewayTimeout},
	{errors.ErrConnectionFailed, http.StatusBadGateway},
	{errors.ErrProtocolViolation, http.StatusBadGateway},
	{errors.ErrDeviceFault, http.StatusBadGateway},
	{engine.ErrClosed, http.StatusServiceUnavailable},
}

// statusFor resolves an error to the HTTP status it should produce.
func statusFor(err error) int {
	for _, entry := range statusMap {
		if errors.IsCode(err, entry.code) {
			return entry.status
		}
	}

	return http.StatusInternalServerError
}
