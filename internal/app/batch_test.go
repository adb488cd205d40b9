package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/mediastage/internal/ffmpeg"
)

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(`
jobs:
  - operation: trim
    input: clip.mov
    start: "00:00:05"
    end: "00:00:10"
  - operation: transcode
    input: talk.mkv
    format: mp3
    encoding: mp3
`))
	require.NoError(t, err)
	require.Len(t, m.Jobs, 2)
	assert.Equal(t, ffmpeg.OperationTrim, m.Jobs[0].Operation)
	assert.Equal(t, "00:00:05", m.Jobs[0].Start)
	assert.Equal(t, "mp3", m.Jobs[1].Encoding)
}

func TestParseManifest_Empty(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, m.Jobs)
}

func TestParseManifest_UnknownField(t *testing.T) {
	_, err := ParseManifest(strings.NewReader("jobs:\n  - operation: trim\n    inptu: a.mov\n"))
	assert.Error(t, err)
}

func TestManifest_ResolvePaths(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "abs.mov")
	m := &Manifest{Jobs: []Request{
		{Input: "rel.mov", Output: "out/rel.mp4"},
		{Input: abs},
	}}
	m.ResolvePaths("/data/manifests")

	assert.Equal(t, filepath.Join("/data/manifests", "rel.mov"), m.Jobs[0].Input)
	assert.Equal(t, filepath.Join("/data/manifests", "out/rel.mp4"), m.Jobs[0].Output)
	assert.Equal(t, abs, m.Jobs[1].Input)
	assert.Empty(t, m.Jobs[1].Output)
}

func TestApp_RunBatch(t *testing.T) {
	a := newTestApp(t, copyStub)

	good := writeInput(t, "clip.mov", "clip")
	audio := writeInput(t, "talk.mkv", "talk")

	results, err := a.RunBatch(context.Background(), &Manifest{Jobs: []Request{
		{Operation: ffmpeg.OperationTrim, Input: good, Start: "00:00:05", End: "00:00:10"},
		{Operation: ffmpeg.OperationTranscode, Input: audio, Format: "mp3", Encoding: "mp3"},
		{Operation: ffmpeg.OperationTrim, Input: good, Start: "00:00:10", End: "00:00:01"},
		{Operation: ffmpeg.OperationRemux, Input: filepath.Join(t.TempDir(), "missing.mkv"), Format: "mp4"},
	}})
	require.NoError(t, err)
	require.Len(t, results, 4)

	require.NoError(t, results[0].Err)
	assert.Equal(t, filepath.Join(filepath.Dir(good), "clip_trimmed.mov"), results[0].Output)
	assert.FileExists(t, results[0].Output)
	assert.NotEmpty(t, results[0].JobID)

	require.NoError(t, results[1].Err)
	assert.Equal(t, filepath.Join(filepath.Dir(audio), "talk_converted.mp3"), results[1].Output)

	assert.ErrorIs(t, results[2].Err, ffmpeg.ErrInvalidTrimRange)
	assert.Error(t, results[3].Err)
}

func TestApp_RunBatch_Empty(t *testing.T) {
	a := newTestApp(t, copyStub)
	results, err := a.RunBatch(context.Background(), &Manifest{})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Nil(t, a.Acquired(), "empty batch does not acquire")
}
