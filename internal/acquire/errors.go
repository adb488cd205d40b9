// Package acquire makes an ffmpeg binary available on the local machine,
// downloading and unpacking a static build for the current platform when one
// is not already installed.
package acquire

import (
	"errors"
	"fmt"
)

// Error kinds. A *StepError matches exactly one of these with errors.Is.
var (
	ErrIO                  = errors.New("i/o error")
	ErrPermission          = errors.New("permission denied")
	ErrNetwork             = errors.New("network error")
	ErrCorruptArchive      = errors.New("corrupt archive")
	ErrBinaryNotFound      = errors.New("ffmpeg binary not found")
	ErrVersionCheck        = errors.New("version check failed")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// Step names a pipeline state.
type Step string

const (
	StepProbe          Step = "probe_installed"
	StepResolveSource  Step = "resolve_source"
	StepResolveDest    Step = "resolve_destination"
	StepEnsureWritable Step = "ensure_writable_destination"
	StepDownload       Step = "download"
	StepVerifyArchive  Step = "verify_archive"
	StepExtract        Step = "extract"
	StepLocateBinary   Step = "locate_binary"
	StepVerifyVersion  Step = "verify_version"
)

// StepError reports which pipeline step failed and why.
type StepError struct {
	Step Step
	Kind error
	Err  error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("acquire %s: %v", e.Step, e.Kind)
	}
	return fmt.Sprintf("acquire %s: %v: %v", e.Step, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause.
func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stepErr(step Step, kind, err error) *StepError {
	return &StepError{Step: step, Kind: kind, Err: err}
}
