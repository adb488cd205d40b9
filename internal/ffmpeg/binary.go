// Package ffmpeg builds and runs ffmpeg media jobs (remux, transcode, trim)
// and detects the version of an ffmpeg binary.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// VersionInfo is the parsed output of `ffmpeg -version`.
type VersionInfo struct {
	Full          string `json:"version"`
	Major         int    `json:"major_version"`
	Minor         int    `json:"minor_version"`
	BuildInfo     string `json:"build_info,omitempty"`
	Configuration string `json:"configuration,omitempty"`
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// DetectVersion runs `<path> -version` and parses the result.
func DetectVersion(ctx context.Context, path string) (*VersionInfo, error) {
	output, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("running %s -version: %w: %s", path, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("running %s -version: %w", path, err)
	}
	return ParseVersion(string(output))
}

// ParseVersion extracts version information from `ffmpeg -version` output.
// Accepts forms like "ffmpeg version 6.0 Copyright...", "ffmpeg version
// n6.0-2-g..." and "ffmpeg version 7.1-static".
func ParseVersion(output string) (*VersionInfo, error) {
	info := &VersionInfo{}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			parts := strings.Fields(line)
			if len(parts) >= 3 {
				info.Full = parts[2]
				if m := versionRegex.FindStringSubmatch(parts[2]); len(m) >= 3 {
					info.Major, _ = strconv.Atoi(m[1])
					info.Minor, _ = strconv.Atoi(m[2])
				}
			}
		case strings.HasPrefix(line, "built with"):
			info.BuildInfo = strings.TrimPrefix(line, "built with ")
		case strings.HasPrefix(line, "configuration:"):
			info.Configuration = strings.TrimSpace(strings.TrimPrefix(line, "configuration:"))
		}
	}

	if info.Full == "" {
		return nil, fmt.Errorf("failed to parse ffmpeg version")
	}
	return info, nil
}

// SupportsMinVersion reports whether the version is at least major.minor.
func (info *VersionInfo) SupportsMinVersion(major, minor int) bool {
	if info.Major > major {
		return true
	}
	return info.Major == major && info.Minor >= minor
}
