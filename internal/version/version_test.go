package version

import (
	"encoding/json"
	"runtime"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubBuildInfo(t *testing.T, bi *debug.BuildInfo) {
	t.Helper()
	original := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
	t.Cleanup(func() { readBuildInfo = original })
}

func stubVars(t *testing.T, v, commit, date string) {
	t.Helper()
	ov, oc, od := Version, Commit, Date
	Version, Commit, Date = v, commit, date
	t.Cleanup(func() { Version, Commit, Date = ov, oc, od })
}

func TestGetInfo(t *testing.T) {
	stubBuildInfo(t, nil)
	info := GetInfo()

	assert.NotEmpty(t, info.Version)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestGetInfo_BuildInfoFallback(t *testing.T) {
	stubVars(t, "dev", "unknown", "unknown")
	stubBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2025-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	info := GetInfo()
	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "0123456789abcdef", info.Commit)
	assert.Equal(t, "2025-01-02T03:04:05Z", info.Date)
	assert.True(t, info.Modified)
	assert.Equal(t, "v1.2.3 (01234567-dirty)", Short())
}

func TestGetInfo_LdflagsWin(t *testing.T) {
	stubVars(t, "2.0.0", "fedcba9876543210", "2026-01-01")
	stubBuildInfo(t, &debug.BuildInfo{
		Main:     debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}},
	})

	info := GetInfo()
	assert.Equal(t, "2.0.0", info.Version)
	assert.Equal(t, "fedcba9876543210", info.Commit)
}

func TestString(t *testing.T) {
	stubBuildInfo(t, nil)

	stubVars(t, "1.0.0", "unknown", "unknown")
	assert.True(t, strings.HasPrefix(String(), ApplicationName+" version 1.0.0 ("))

	Commit = "0123456789abcdef"
	assert.Contains(t, String(), "commit: 01234567")
}

func TestShort(t *testing.T) {
	stubBuildInfo(t, nil)
	stubVars(t, "1.0.0", "unknown", "unknown")
	assert.Equal(t, "1.0.0", Short())
}

func TestJSON(t *testing.T) {
	stubBuildInfo(t, nil)

	var info Info
	require.NoError(t, json.Unmarshal([]byte(JSON()), &info))
	assert.Equal(t, Version, info.Version)
}

func TestUserAgent(t *testing.T) {
	stubBuildInfo(t, nil)
	stubVars(t, "1.0.0", "unknown", "unknown")
	assert.Equal(t, "mediastage/1.0.0 ("+runtime.GOOS+"/"+runtime.GOARCH+")", UserAgent())
}
