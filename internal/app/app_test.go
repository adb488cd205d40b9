package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/mediastage/internal/config"
	"github.com/jmylchreest/mediastage/internal/ffmpeg"
	"github.com/jmylchreest/mediastage/internal/observability"
	"github.com/jmylchreest/mediastage/internal/storage"
)

// copyStub copies the -i argument to the last argument, standing in for a
// successful ffmpeg run.
const copyStub = `in=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  prev="$a"
  out="$a"
done
cp "$in" "$out"`

func writeStub(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestConfig(t *testing.T, overrides map[string]any) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set("storage.base_dir", t.TempDir())
	v.Set("acquire.destination", t.TempDir())
	for k, val := range overrides {
		v.Set(k, val)
	}
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T, stubBody string) *App {
	t.Helper()
	stub := writeStub(t, stubBody)
	a, err := New(newTestConfig(t, map[string]any{"ffmpeg.binary_path": stub}), observability.Discard())
	require.NoError(t, err)
	return a
}

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func stagingEntries(t *testing.T, a *App) []string {
	t.Helper()
	entries, err := os.ReadDir(a.Staging().Dir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNew_CreatesStaging(t *testing.T) {
	cfg := newTestConfig(t, nil)
	a, err := New(cfg, observability.Discard())
	require.NoError(t, err)

	assert.DirExists(t, cfg.Storage.StagingPath())
	assert.Equal(t, cfg, a.Config())
	assert.Nil(t, a.Acquired())
}

func TestApp_Acquire_ConfiguredBinary(t *testing.T) {
	a := newTestApp(t, `echo "ffmpeg version 7.1 Copyright (c) 2000-2024"`)

	result, err := a.Acquire(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, result.State.Installed)
	assert.Equal(t, a.Config().FFmpeg.BinaryPath, result.Binary.Path)
	assert.Same(t, result, a.Acquired())

	o, err := a.Orchestrator(context.Background())
	require.NoError(t, err)
	assert.Equal(t, result.Binary.Path, o.Binary())
}

func TestApp_Trim_EndToEnd(t *testing.T) {
	a := newTestApp(t, copyStub)
	input := writeInput(t, "input.mov", "movie bytes")

	final, err := a.Process(context.Background(), Request{
		Operation: ffmpeg.OperationTrim,
		Input:     input,
		Start:     "00:00:05",
		End:       "00:00:10",
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(filepath.Dir(input), "input_trimmed.mov"), final)
	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "movie bytes", string(data))

	assert.Empty(t, stagingEntries(t, a), "finalize purges the job's staged files")
}

func TestApp_Trim_InvalidRange(t *testing.T) {
	a := newTestApp(t, copyStub)
	input := writeInput(t, "input.mov", "movie bytes")

	_, err := a.Process(context.Background(), Request{
		Operation: ffmpeg.OperationTrim,
		Input:     input,
		Start:     "00:00:10",
		End:       "00:00:05",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ffmpeg.ErrInvalidTrimRange)
	assert.NotEmpty(t, err.Error())

	assert.NoFileExists(t, filepath.Join(filepath.Dir(input), "input_trimmed.mov"))
	assert.Empty(t, stagingEntries(t, a), "nothing staged for a rejected request")
}

func TestApp_Process_FailedJobKeepsStagedOutput(t *testing.T) {
	stub := `prev=""
for a in "$@"; do out="$a"; done
printf partial > "$out"
echo "Conversion failed!" >&2
exit 1`
	a := newTestApp(t, stub)
	input := writeInput(t, "talk.mkv", "audio")
	final := filepath.Join(t.TempDir(), "talk.mp3")

	_, err := a.Process(context.Background(), Request{
		Operation: ffmpeg.OperationTranscode,
		Input:     input,
		Output:    final,
		Encoding:  "mp3",
	})
	require.Error(t, err)

	var execErr *ffmpeg.ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Diagnostics, "Conversion failed!")

	assert.NoFileExists(t, final)
	names := stagingEntries(t, a)
	assert.Len(t, names, 2, "staged input and partial output remain for the sweeper")
	var sawOutput bool
	for _, n := range names {
		if strings.HasSuffix(n, "talk_converted.mp3") {
			sawOutput = true
		}
	}
	assert.True(t, sawOutput)
}

func TestApp_Process_ExplicitOutput(t *testing.T) {
	a := newTestApp(t, copyStub)
	input := writeInput(t, "clip.mkv", "mkv bytes")
	final := filepath.Join(t.TempDir(), "nested", "clip.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(final), 0o755))

	got, err := a.Process(context.Background(), Request{
		Operation: ffmpeg.OperationRemux,
		Input:     input,
		Output:    final,
	})
	require.NoError(t, err)
	assert.Equal(t, final, got)
	assert.FileExists(t, final)
	assert.FileExists(t, input, "input is never consumed")
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"remux with format", Request{Operation: ffmpeg.OperationRemux, Input: "a.mkv", Format: "mp4"}, nil},
		{"transcode with output ext", Request{Operation: ffmpeg.OperationTranscode, Input: "a.mkv", Output: "b.mp3"}, nil},
		{"trim", Request{Operation: ffmpeg.OperationTrim, Input: "a.mov", Start: "00:00:01", End: "00:00:02.500"}, nil},
		{"missing input", Request{Operation: ffmpeg.OperationRemux, Format: "mp4"}, ErrInvalidRequest},
		{"remux without format", Request{Operation: ffmpeg.OperationRemux, Input: "a.mkv"}, ErrInvalidRequest},
		{"unknown operation", Request{Operation: "upscale", Input: "a.mkv"}, ErrInvalidRequest},
		{"bad timestamp", Request{Operation: ffmpeg.OperationTrim, Input: "a.mov", Start: "5s", End: "00:00:10"}, ffmpeg.ErrInvalidTimestamp},
		{"reversed range", Request{Operation: ffmpeg.OperationTrim, Input: "a.mov", Start: "00:00:10", End: "00:00:10"}, ffmpeg.ErrInvalidTrimRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestApp_Prepare_RejectsOverwritingInput(t *testing.T) {
	a := newTestApp(t, copyStub)
	input := writeInput(t, "clip.mp4", "bytes")

	_, err := a.Prepare(Request{Operation: ffmpeg.OperationRemux, Input: input, Output: input})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestApp_Prepare_EncodingFollowsFormat(t *testing.T) {
	a := newTestApp(t, copyStub)
	input := writeInput(t, "song.wav", "pcm")

	o, err := a.Orchestrator(context.Background())
	require.NoError(t, err)

	tests := []struct {
		name      string
		req       Request
		wantCodec string
	}{
		{"format flag", Request{Format: "mp3"}, "libmp3lame"},
		{"output extension", Request{Output: filepath.Join(t.TempDir(), "song.flac")}, "flac"},
		{"explicit encoding wins", Request{Format: "m4a", Encoding: "opus"}, "libopus"},
		{"unknown format", Request{Format: "mkv"}, "aac"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.Operation = ffmpeg.OperationTranscode
			req.Input = input

			p, err := a.Prepare(req)
			require.NoError(t, err)

			cmd, err := o.Build(p.Job)
			require.NoError(t, err)
			assert.Contains(t, strings.Join(cmd.Args, " "), "-c:a "+tt.wantCodec)
		})
	}
}

func TestApp_Prepare_PlanFailureRemovesStagedInput(t *testing.T) {
	a := newTestApp(t, copyStub)
	input := writeInput(t, "clip.mkv", "frames")

	_, err := a.Prepare(Request{
		Operation: ffmpeg.OperationRemux,
		Input:     input,
		Format:    "mp4/../../../../escape",
	})
	require.Error(t, err)
	assert.Empty(t, stagingEntries(t, a), "staged input removed when the output cannot be planned")
}

func TestApp_StagePlanFinalize(t *testing.T) {
	a := newTestApp(t, copyStub)

	staged, err := a.Stage([]byte("payload"), "song.flac")
	require.NoError(t, err)
	assert.FileExists(t, staged.Path)

	planned, err := a.PlanOutput("song.flac", ffmpeg.OperationTranscode, "mp3")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(planned, "_song_converted.mp3"))
	assert.NoFileExists(t, planned)

	final := filepath.Join(t.TempDir(), "song.flac")
	require.NoError(t, a.Finalize(staged.Path, final))
	assert.FileExists(t, final)
	assert.NoFileExists(t, staged.Path)
}

func TestApp_Purge(t *testing.T) {
	a := newTestApp(t, copyStub)
	staged, err := a.Stage([]byte("x"), "a.mp4")
	require.NoError(t, err)

	result := a.Purge("")
	assert.Equal(t, 1, result.Removed)
	assert.NoFileExists(t, staged.Path)

	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, "leftover.tmp"), []byte("x"), 0o644))
	result = a.Purge(other)
	assert.Equal(t, 1, result.Removed)
}

func TestApp_DirectOperations(t *testing.T) {
	a := newTestApp(t, copyStub)
	input := writeInput(t, "in.mov", "bytes")
	dir := t.TempDir()
	ctx := context.Background()

	out, err := a.Remux(ctx, input, filepath.Join(dir, "remuxed.mkv"))
	require.NoError(t, err)
	assert.FileExists(t, out)

	out, err = a.Transcode(ctx, input, filepath.Join(dir, "audio.mp3"), "mp3")
	require.NoError(t, err)
	assert.FileExists(t, out)

	out, err = a.Trim(ctx, input, filepath.Join(dir, "cut.mov"), "00:00:01", "00:00:02")
	require.NoError(t, err)
	assert.FileExists(t, out)
}

func TestApp_Submit(t *testing.T) {
	a := newTestApp(t, copyStub)
	input := writeInput(t, "in.mov", "bytes")
	job := ffmpeg.Job{Operation: ffmpeg.OperationRemux, Input: input, Output: filepath.Join(t.TempDir(), "out.mp4")}

	_, err := a.Submit(context.Background(), job)
	require.ErrorIs(t, err, ErrNotAcquired)

	_, err = a.Acquire(context.Background(), "")
	require.NoError(t, err)

	h, err := a.Submit(context.Background(), job)
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID())

	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish")
	}
	out, err := h.Wait()
	require.NoError(t, err)
	assert.FileExists(t, out)
}

func TestApp_AcquireFailurePropagates(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("PATH lookups differ on Windows")
	}
	t.Setenv("PATH", t.TempDir())
	cfg := newTestConfig(t, map[string]any{
		"acquire.download_url":   "http://127.0.0.1:1/ffmpeg.tar.xz",
		"acquire.retry_attempts": 0,
		"acquire.min_free_space": 0,
	})
	a, err := New(cfg, observability.Discard())
	require.NoError(t, err)

	_, err = a.Process(context.Background(), Request{
		Operation: ffmpeg.OperationRemux,
		Input:     writeInput(t, "in.mkv", "x"),
		Format:    "mp4",
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidRequest))
	assert.Empty(t, stagingEntries(t, a), "nothing staged when ffmpeg is unavailable")
}

// stageFromEarlierRun stages a file under a previous App instance, as a
// crashed run would have left it.
func stageFromEarlierRun(t *testing.T, cfg *config.Config) string {
	t.Helper()
	prev, err := New(cfg, observability.Discard())
	require.NoError(t, err)
	leftover, err := prev.Stage([]byte("old"), "old.mp4")
	require.NoError(t, err)
	// Owner ids have millisecond resolution.
	time.Sleep(5 * time.Millisecond)
	return leftover.Path
}

func waitPurge(t *testing.T, purged <-chan storage.PurgeResult) storage.PurgeResult {
	t.Helper()
	select {
	case result := <-purged:
		return result
	case <-time.After(5 * time.Second):
		t.Fatal("startup purge did not finish")
	}
	return storage.PurgeResult{}
}

func TestApp_StartStop(t *testing.T) {
	cfg := newTestConfig(t, map[string]any{"storage.sweep_schedule": "@every 1h"})
	leftover := stageFromEarlierRun(t, cfg)

	a, err := New(cfg, observability.Discard())
	require.NoError(t, err)

	partial := filepath.Join(cfg.Acquire.Destination, "ffmpeg.tar.xz.part")
	require.NoError(t, os.WriteFile(partial, []byte("half"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(partial, old, old))

	purged, err := a.Start(context.Background())
	require.NoError(t, err)
	defer a.Stop()

	assert.Equal(t, 1, waitPurge(t, purged).Removed)
	assert.NoFileExists(t, leftover)
	assert.NoFileExists(t, partial)
}

func TestApp_StartupPurgeKeepsCurrentJobs(t *testing.T) {
	stub := writeStub(t, copyStub)
	cfg := newTestConfig(t, map[string]any{"ffmpeg.binary_path": stub})
	leftover := stageFromEarlierRun(t, cfg)

	a, err := New(cfg, observability.Discard())
	require.NoError(t, err)
	ctx := context.Background()

	o, err := a.Orchestrator(ctx)
	require.NoError(t, err)

	input := writeInput(t, "clip.mkv", "frames")
	p, err := a.Prepare(Request{Operation: ffmpeg.OperationRemux, Input: input, Format: "mp4"})
	require.NoError(t, err)

	purged, err := a.Start(ctx)
	require.NoError(t, err)
	defer a.Stop()

	assert.Equal(t, 1, waitPurge(t, purged).Removed)
	assert.NoFileExists(t, leftover)
	assert.FileExists(t, p.Job.Input, "input staged by this process survives the startup purge")

	_, err = o.Run(ctx, p.Job)
	require.NoError(t, err)
	final, err := a.Complete(p)
	require.NoError(t, err)

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(data))
}

func TestApp_ProcessDuringStartupPurge(t *testing.T) {
	stub := writeStub(t, copyStub)
	cfg := newTestConfig(t, map[string]any{"ffmpeg.binary_path": stub})
	for range 20 {
		stageFromEarlierRun(t, cfg)
	}

	a, err := New(cfg, observability.Discard())
	require.NoError(t, err)

	purged, err := a.Start(context.Background())
	require.NoError(t, err)
	defer a.Stop()

	final, err := a.Process(context.Background(), Request{
		Operation: ffmpeg.OperationRemux,
		Input:     writeInput(t, "clip.mkv", "frames"),
		Format:    "mp4",
	})
	require.NoError(t, err)
	assert.FileExists(t, final)

	assert.Equal(t, 20, waitPurge(t, purged).Removed)
}
