// Package version provides build-time version information for mediastage.
//
// Version, Commit, and Date are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/mediastage/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/mediastage/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/mediastage/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Without ldflags the VCS stamp embedded by the Go toolchain is used.
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "mediastage"

// Info contains structured version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	bi, ok := readBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "unknown" {
				info.Date = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

// String returns a human-readable version string.
func String() string {
	info := GetInfo()
	if commit := info.shortCommit(); commit != "" {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, info.Version, commit, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short returns a short version string for cobra's --version output.
func Short() string {
	info := GetInfo()
	if commit := info.shortCommit(); commit != "" {
		return fmt.Sprintf("%s (%s)", info.Version, commit)
	}
	return info.Version
}

// JSON returns the version information as indented JSON.
func JSON() string {
	data, _ := json.MarshalIndent(GetInfo(), "", "  ")
	return string(data)
}

// UserAgent returns the User-Agent sent to ffmpeg release mirrors.
func UserAgent() string {
	info := GetInfo()
	return fmt.Sprintf("%s/%s (%s)", ApplicationName, info.Version, info.Platform)
}

func (i Info) shortCommit() string {
	if len(i.Commit) < 8 || i.Commit == "unknown" {
		return ""
	}
	commit := i.Commit[:8]
	if i.Modified {
		commit += "-dirty"
	}
	return commit
}
