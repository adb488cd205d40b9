package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jmylchreest/mediastage/internal/observability"
)

// Operation is a media job kind.
type Operation string

const (
	OperationRemux     Operation = "remux"
	OperationTranscode Operation = "transcode"
	OperationTrim      Operation = "trim"
)

// Job describes a single ffmpeg invocation. Encoding applies to transcode,
// Start and End to trim.
type Job struct {
	ID        string
	Operation Operation
	Input     string
	Output    string
	Encoding  string
	Start     string
	End       string
}

// Orchestrator turns jobs into ffmpeg processes and reports their outcome.
type Orchestrator struct {
	binary   string
	logLevel string
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator for the ffmpeg binary at binaryPath.
// logLevel is passed to ffmpeg's -loglevel; empty means "error".
func NewOrchestrator(binaryPath, logLevel string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if logLevel == "" {
		logLevel = "error"
	}
	return &Orchestrator{
		binary:   binaryPath,
		logLevel: logLevel,
		logger:   observability.WithComponent(logger, "ffmpeg"),
	}
}

// Binary returns the ffmpeg path the orchestrator runs.
func (o *Orchestrator) Binary() string {
	return o.binary
}

// Remux copies all streams of input into output's container.
func (o *Orchestrator) Remux(ctx context.Context, input, output string) (string, error) {
	return o.Run(ctx, Job{Operation: OperationRemux, Input: input, Output: output})
}

// Transcode re-encodes input. Audio-only outputs get no video codec arguments.
func (o *Orchestrator) Transcode(ctx context.Context, input, output, encoding string) (string, error) {
	return o.Run(ctx, Job{Operation: OperationTranscode, Input: input, Output: output, Encoding: encoding})
}

// Trim cuts input between start and end without re-encoding.
func (o *Orchestrator) Trim(ctx context.Context, input, output, start, end string) (string, error) {
	return o.Run(ctx, Job{Operation: OperationTrim, Input: input, Output: output, Start: start, End: end})
}

// Run executes the job and returns the output path on success.
func (o *Orchestrator) Run(ctx context.Context, job Job) (string, error) {
	if _, err := o.Execute(ctx, job); err != nil {
		return "", err
	}
	return job.Output, nil
}

// Execute executes the job and returns the full process result. Invalid jobs
// are rejected before any process is spawned.
func (o *Orchestrator) Execute(ctx context.Context, job Job) (result *Result, err error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	logger := observability.WithJob(o.logger, job.ID, string(job.Operation))

	cmd, err := o.Build(job)
	if err != nil {
		logger.Warn("rejected job", slog.String("error", err.Error()))
		return nil, err
	}

	done := observability.TimedOperationWithError(ctx, logger, string(job.Operation), &err)
	defer done()

	logger.Debug("running ffmpeg", slog.String("command", cmd.String()))

	result, err = cmd.Run(ctx)
	if result != nil && result.Diagnostics != "" && err == nil {
		logger.Debug("ffmpeg diagnostics", slog.String("stderr", result.Diagnostics))
	}
	return result, err
}

// Build validates the job and produces its command without running it.
func (o *Orchestrator) Build(job Job) (*Command, error) {
	if job.Input == "" || job.Output == "" {
		return nil, fmt.Errorf("%s job requires input and output", job.Operation)
	}

	b := NewCommandBuilder(o.binary).
		HideBanner().
		NoStdin().
		LogLevel(o.logLevel).
		Overwrite()

	switch job.Operation {
	case OperationRemux:
		b.Input(job.Input).CopyAll()

	case OperationTranscode:
		b.Input(job.Input)
		if !IsAudioOnlyOutput(job.Output) {
			b.VideoCodec(VideoCodecH264).VideoPreset(VideoPreset).CRF(VideoCRF)
		}
		b.AudioCodec(AudioCodecFor(job.Encoding))

	case OperationTrim:
		if err := ValidateTrimRange(job.Start, job.End); err != nil {
			return nil, err
		}
		b.Seek(job.Start, job.End).Input(job.Input).VideoCodec("copy").AudioCodec("copy")

	default:
		return nil, fmt.Errorf("unknown operation %q", job.Operation)
	}

	return b.Output(job.Output).Build(), nil
}

// Submit runs the job on its own goroutine and returns immediately.
func (o *Orchestrator) Submit(ctx context.Context, job Job) *Handle {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	h := &Handle{job: job, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		result, err := o.Execute(ctx, job)

		h.mu.Lock()
		h.result, h.err = result, err
		h.mu.Unlock()
	}()
	return h
}

// Handle tracks a submitted job.
type Handle struct {
	job  Job
	done chan struct{}

	mu     sync.Mutex
	result *Result
	err    error
}

// ID returns the job id.
func (h *Handle) ID() string {
	return h.job.ID
}

// Job returns the submitted job.
func (h *Handle) Job() Job {
	return h.job
}

// Done is closed when the job finishes.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the job finishes and returns its output path.
func (h *Handle) Wait() (string, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return "", h.err
	}
	return h.job.Output, nil
}

// Result returns the process result, or nil while the job is running or if
// it never spawned a process.
func (h *Handle) Result() *Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}
