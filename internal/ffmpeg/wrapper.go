package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"
)

// Command represents an FFmpeg command to execute.
type Command struct {
	Binary    string
	Args      []string
	Input     string
	Output    string
	LogLevel  string
	Overwrite bool
}

// Result describes a finished process.
type Result struct {
	Success     bool
	Diagnostics string
	// ExitCode is nil when the process never exited normally.
	ExitCode *int
	Duration time.Duration
}

// CommandBuilder builds FFmpeg commands with a fluent API.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	input      string
	outputArgs []string
	output     string
	logLevel   string
	overwrite  bool
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	if level != "" {
		b.logLevel = level
	}
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// NoStdin stops FFmpeg from reading interactive commands from stdin.
func (b *CommandBuilder) NoStdin() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-nostdin")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Input sets the input source.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// Seek sets the input start and end positions.
func (b *CommandBuilder) Seek(start, end string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, "-ss", start, "-to", end)
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// CopyAll copies every stream without re-encoding.
func (b *CommandBuilder) CopyAll() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c", "copy")
	return b
}

// VideoPreset sets the encoding preset.
func (b *CommandBuilder) VideoPreset(preset string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-preset", preset)
	return b
}

// CRF sets the constant rate factor.
func (b *CommandBuilder) CRF(crf string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-crf", crf)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build builds the command. The argument order is fixed: global args,
// -loglevel, -y, input args, -i, output args, output.
func (b *CommandBuilder) Build() *Command {
	args := make([]string, 0, len(b.globalArgs)+len(b.inputArgs)+len(b.outputArgs)+8)

	args = append(args, b.globalArgs...)
	args = append(args, "-loglevel", b.logLevel)

	if b.overwrite {
		args = append(args, "-y")
	}

	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return &Command{
		Binary:    b.binary,
		Args:      args,
		Input:     b.input,
		Output:    b.output,
		LogLevel:  b.logLevel,
		Overwrite: b.overwrite,
	}
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Run executes the command and waits for it to finish.
//
// Stderr is drained on its own goroutine from the moment the process starts,
// so a process that writes more than the pipe buffer never blocks. The drain
// is joined before Wait, which guarantees the full text is captured.
// On a non-zero exit the returned *ExecError carries the diagnostics.
func (c *Command) Run(ctx context.Context) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Binary: c.Binary, Err: err}
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Binary: c.Binary, Err: err}
	}

	var diagnostics bytes.Buffer
	drained := make(chan struct{})
	go captureStderr(stderr, &diagnostics, drained)

	<-drained
	waitErr := cmd.Wait()

	result := &Result{
		Diagnostics: diagnostics.String(),
		Duration:    time.Since(started),
	}

	if waitErr == nil {
		code := 0
		result.Success = true
		result.ExitCode = &code
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			result.ExitCode = &code
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		waitErr = errors.Join(ctxErr, waitErr)
	}

	return result, &ExecError{
		ExitCode:    result.ExitCode,
		Diagnostics: result.Diagnostics,
		Err:         waitErr,
	}
}

// captureStderr copies ffmpeg stderr into buf until EOF.
func captureStderr(stderr io.Reader, buf *bytes.Buffer, done chan<- struct{}) {
	defer close(done)
	_, _ = io.Copy(buf, stderr)
}
