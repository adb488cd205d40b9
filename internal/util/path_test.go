package util

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("cases are written with forward-slash roots")
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"current dir only", ".", ""},
		{"dot and dotdot", "a/./b/../c", "a/c"},
		{"absolute", "/usr/local/../bin", "/usr/bin"},
		{"excess dotdot relative", "../../x", "x"},
		{"excess dotdot absolute", "/a/../../b", "/b"},
		{"root only", "/", "/"},
		{"root dotdot", "/..", "/"},
		{"double slashes", "a//b///c", "a/b/c"},
		{"trailing slash", "a/b/", "a/b"},
		{"all popped", "a/b/../..", ""},
		{"sidecar hint", "/opt/app/bin/../sidecar/./ffmpeg", "/opt/app/sidecar/ffmpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, filepath.FromSlash(tt.want), NormalizePath(filepath.FromSlash(tt.in)))
		})
	}
}

func TestNormalizePath_Idempotent(t *testing.T) {
	inputs := []string{
		"", ".", "..", "a/./b/../c", "../../x", "/a/../../b", "a//b/./../c/..", "/x/y/z/../../..",
		"./././a", "a/b/c/d/../../e",
	}
	for _, in := range inputs {
		once := NormalizePath(in)
		assert.Equal(t, once, NormalizePath(once), "input %q", in)
	}
}
