package ffmpeg

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSpawn is matched by *SpawnError.
	ErrSpawn = errors.New("failed to start ffmpeg")
	// ErrProcessExecution is matched by *ExecError.
	ErrProcessExecution = errors.New("ffmpeg process failed")
	// ErrInvalidTimestamp is returned for trim bounds that are not HH:MM:SS[.mmm].
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	// ErrInvalidTrimRange is returned when a trim end is not after its start.
	ErrInvalidTrimRange = errors.New("trim end must be after start")
)

// SpawnError reports that the ffmpeg process could not be started.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("starting %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawn, e.Err}
}

// ExecError reports a process that started but did not succeed. Diagnostics
// holds everything the process wrote to stderr.
type ExecError struct {
	// ExitCode is nil when the process did not exit normally (signal, wait failure).
	ExitCode    *int
	Diagnostics string
	Err         error
}

func (e *ExecError) Error() string {
	var b strings.Builder
	if e.ExitCode != nil {
		fmt.Fprintf(&b, "ffmpeg exited with status %d", *e.ExitCode)
	} else {
		b.WriteString("ffmpeg did not exit cleanly")
		if e.Err != nil {
			fmt.Fprintf(&b, ": %v", e.Err)
		}
	}
	if diag := strings.TrimSpace(e.Diagnostics); diag != "" {
		b.WriteString(": ")
		b.WriteString(diag)
	}
	return b.String()
}

func (e *ExecError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProcessExecution}
	}
	return []error{ErrProcessExecution, e.Err}
}
