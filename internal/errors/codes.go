package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Instrument and session errors. These six form the error taxonomy
	// every package maps onto: a caller can rely on the code alone to
	// decide retry/abort/reject behavior.
	ErrConnectionFailed  ErrorCode = "connection_failed"
	ErrProtocolViolation ErrorCode = "protocol_violation"
	ErrRequestTimeout    ErrorCode = "request_timeout"
	ErrDeviceFault       ErrorCode = "device_fault"
	ErrValidationFailed  ErrorCode = "validation_failed"
	ErrInvalidState      ErrorCode = "invalid_state"

	// Application errors
	ErrInitApp  ErrorCode = "init_app_failed"
	ErrMainLoop ErrorCode = "main_loop_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:          "Internal error occurred",
	ErrInvalidArgument:   "Invalid argument provided",
	ErrAlreadyRunning:    "Process already running",
	ErrInvalidConfig:     "Invalid configuration",
	ErrBindFlags:         "Failed to bind flags",
	ErrReadConfig:        "Failed to read configuration",
	ErrInvalidInterval:   "Invalid interval value",
	ErrInvalidLogLevel:   "Invalid log level",
	ErrInitFailed:        "Initialization failed",
	ErrShutdownFailed:    "Shutdown failed",
	ErrConnectionFailed:  "Instrument connection failed",
	ErrProtocolViolation: "Unexpected instrument reply",
	ErrRequestTimeout:    "Instrument request timed out",
	ErrDeviceFault:       "Instrument reported a fault",
	ErrValidationFailed:  "Validation failed",
	ErrInvalidState:      "Command not valid in current state",
	ErrInitApp:           "Failed to initialize application",
	ErrMainLoop:          "Error in main loop",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
