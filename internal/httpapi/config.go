package httpapi

import "time"

const (
	defaultListen          = ":8080"
	defaultShutdownTimeout = 5 * time.Second
	readHeaderTimeout      = 5 * time.Second
)

// Config holds the HTTP surface settings.
type Config struct {
	// Enabled starts the listener; disabled leaves the controller
	// headless.
	Enabled bool
	// Listen is the address the server binds, host:port.
	Listen string
	// AllowedOrigins is the CORS origin whitelist. "*" allows any
	// origin, which suits a bench controller on a closed lab network.
	AllowedOrigins []string
}

// DefaultConfig returns the settings used when the config file has no
// http section.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Listen:         defaultListen,
		AllowedOrigins: []string{"*"},
	}
}

// Validate checks the config for usable values.
func (c Config) Validate() error {
	if c.Enabled && c.Listen == "" {
		return errFactory.New(ErrInvalidConfig).
			WithMessage("http listen address must not be empty")
	}

	return nil
}
