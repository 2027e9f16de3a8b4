package agent

import (
	"errors"
	"strconv"
)

var (
	// ErrUnavailable indicates the agent binary could not be launched.
	ErrUnavailable = errors.New("agent: binary unavailable")

	// ErrTimeout indicates an attempt ran past its deadline and was killed.
	ErrTimeout = errors.New("agent: timed out")

	errStreamClosed = errors.New("agent: stream consumer gone")
)

// ExitError is a subprocess that exited with a non-zero status. Stderr holds
// whatever the process wrote to standard error.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := "agent: exit status " + strconv.Itoa(e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// ExitCode extracts the exit code from an error chain containing *ExitError.
func ExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
