package ffmpeg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleVersionOutput = `ffmpeg version 7.0.2-static https://johnvansickle.com/ffmpeg/  Copyright (c) 2000-2024 the FFmpeg developers
built with gcc 8 (Debian 8.3.0-6)
configuration: --enable-gpl --enable-version3 --enable-static
libavutil      59.  8.100 / 59.  8.100
`

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		wantFull  string
		wantMajor int
		wantMinor int
	}{
		{"static build", sampleVersionOutput, "7.0.2-static", 7, 0},
		{"git tag", "ffmpeg version n6.1-2-gabc Copyright\n", "n6.1-2-gabc", 6, 1},
		{"crlf", "ffmpeg version 5.1.4\r\n", "5.1.4", 5, 1},
		{"nightly", "ffmpeg version N-113000-g1234 Copyright\n", "N-113000-g1234", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ParseVersion(tt.output)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFull, info.Full)
			assert.Equal(t, tt.wantMajor, info.Major)
			assert.Equal(t, tt.wantMinor, info.Minor)
		})
	}

	info, err := ParseVersion(sampleVersionOutput)
	require.NoError(t, err)
	assert.Equal(t, "gcc 8 (Debian 8.3.0-6)", info.BuildInfo)
	assert.Equal(t, "--enable-gpl --enable-version3 --enable-static", info.Configuration)

	_, err = ParseVersion("not ffmpeg at all")
	assert.Error(t, err)
}

func TestVersionInfo_SupportsMinVersion(t *testing.T) {
	info := &VersionInfo{Major: 6, Minor: 1}
	assert.True(t, info.SupportsMinVersion(5, 9))
	assert.True(t, info.SupportsMinVersion(6, 1))
	assert.False(t, info.SupportsMinVersion(6, 2))
	assert.False(t, info.SupportsMinVersion(7, 0))
}

func TestDetectVersion(t *testing.T) {
	t.Run("stub binary", func(t *testing.T) {
		stub := writeStub(t, `echo "ffmpeg version 6.1.1 Copyright"`)
		info, err := DetectVersion(context.Background(), stub)
		require.NoError(t, err)
		assert.Equal(t, "6.1.1", info.Full)
	})

	t.Run("failing binary", func(t *testing.T) {
		stub := writeStub(t, `echo "broken" >&2; exit 1`)
		_, err := DetectVersion(context.Background(), stub)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken")
	})

	t.Run("garbage output", func(t *testing.T) {
		stub := writeStub(t, `echo "hello"`)
		_, err := DetectVersion(context.Background(), stub)
		assert.Error(t, err)
	})
}
