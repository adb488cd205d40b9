package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeStub writes an executable shell script standing in for ffmpeg.
func writeStub(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// copyStub copies the -i argument to the last argument, like a lossless job.
const copyStub = `in=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  prev="$a"
  out="$a"
done
cp "$in" "$out"`

func TestCommandBuilder_Build(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		NoStdin().
		LogLevel("warning").
		Overwrite().
		Seek("00:00:05", "00:00:10").
		Input("in.mov").
		VideoCodec("copy").
		AudioCodec("copy").
		Output("out.mov").
		Build()

	assert.Equal(t, []string{
		"-hide_banner", "-nostdin", "-loglevel", "warning", "-y",
		"-ss", "00:00:05", "-to", "00:00:10",
		"-i", "in.mov",
		"-c:v", "copy", "-c:a", "copy",
		"out.mov",
	}, cmd.Args)
	assert.Equal(t, "in.mov", cmd.Input)
	assert.Equal(t, "out.mov", cmd.Output)
	assert.True(t, cmd.Overwrite)
}

func TestCommandBuilder_DefaultLogLevel(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").LogLevel("").Input("a").Output("b").Build()
	assert.Equal(t, []string{"-loglevel", "error", "-i", "a", "b"}, cmd.Args)
	assert.Equal(t, "ffmpeg -loglevel error -i a b", cmd.String())
}

func TestCommand_Run_Success(t *testing.T) {
	stub := writeStub(t, `echo "encoding" >&2; exit 0`)

	result, err := NewCommandBuilder(stub).Input("in").Output("out").Build().Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 0, *result.ExitCode)
	assert.Contains(t, result.Diagnostics, "encoding")
}

func TestCommand_Run_NonZeroExit(t *testing.T) {
	stub := writeStub(t, `echo "in: No such file or directory" >&2; exit 1`)

	result, err := NewCommandBuilder(stub).Input("in").Output("out").Build().Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessExecution)

	var execErr *ExecError
	require.True(t, errors.As(err, &execErr))
	require.NotNil(t, execErr.ExitCode)
	assert.Equal(t, 1, *execErr.ExitCode)
	assert.Contains(t, err.Error(), "No such file or directory")
	assert.False(t, result.Success)
}

func TestCommand_Run_LargeStderrDoesNotDeadlock(t *testing.T) {
	// 1 MiB of stderr is far beyond any pipe buffer.
	stub := writeStub(t, `head -c 1048576 /dev/zero | tr '\0' 'e' >&2; exit 3`)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := NewCommandBuilder(stub).Input("in").Output("out").Build().Run(ctx)
	require.Error(t, err)
	require.NoError(t, ctx.Err(), "process must finish on its own")

	assert.Len(t, result.Diagnostics, 1<<20)
	assert.Equal(t, strings.Repeat("e", 16), result.Diagnostics[:16])

	var execErr *ExecError
	require.True(t, errors.As(err, &execErr))
	assert.Len(t, execErr.Diagnostics, 1<<20)
	assert.Equal(t, 3, *execErr.ExitCode)
}

func TestCommand_Run_SpawnFailure(t *testing.T) {
	cmd := NewCommandBuilder(filepath.Join(t.TempDir(), "missing-ffmpeg")).Input("a").Output("b").Build()

	result, err := cmd.Run(context.Background())
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrSpawn)

	var spawnErr *SpawnError
	assert.True(t, errors.As(err, &spawnErr))
}

func TestCommand_Run_Cancelled(t *testing.T) {
	stub := writeStub(t, `exec sleep 30`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := NewCommandBuilder(stub).Input("a").Output("b").Build().Run(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, result.ExitCode, "killed processes have no exit code")
}
