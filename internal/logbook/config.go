package logbook

const defaultPath = "hv_discharge_log.db"

type Config struct {
	Enabled bool
	Path    string
}

func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Path:    defaultPath,
	}
}

func (c Config) Validate() error {
	// Only validate the path if the logbook is enabled
	if c.Enabled && c.Path == "" {
		return errFactory.New(ErrInvalidPath)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
