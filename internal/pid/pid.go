// Package pid guards against a second controller instance talking to
// the same load over one lock file in the system temp directory.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"codeberg.org/hvlab/dischargectl/internal/errors"
)

const pidFile = "discharged.pid"

var errFactory = errors.New()

// Write writes the current process ID to the PID file. A file left by
// a dead process is overwritten; a live one rejects the start.
func Write() error {
	pid := os.Getpid()
	path := filepath.Join(os.TempDir(), pidFile)

	if _, err := os.Stat(path); err == nil {
		bytes, err := os.ReadFile(path)
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		previous, err := strconv.Atoi(string(bytes))
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		process, err := os.FindProcess(previous)
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		// Signal 0 probes for liveness without delivering anything.
		if err := process.Signal(syscall.Signal(0)); err == nil {
			return errFactory.New(errors.ErrAlreadyRunning).
				WithData(struct{ PID int }{PID: previous})
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file. A missing file is not an error.
func Remove() error {
	path := filepath.Join(os.TempDir(), pidFile)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(path); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}
