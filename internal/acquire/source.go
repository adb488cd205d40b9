package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Platform identifies a GOOS/GOARCH pair.
type Platform struct {
	OS   string
	Arch string
}

func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// releaseURLs maps platforms to their static release archives.
var releaseURLs = map[Platform]string{
	{"linux", "amd64"}:   "https://johnvansickle.com/ffmpeg/releases/ffmpeg-release-amd64-static.tar.xz",
	{"linux", "arm64"}:   "https://johnvansickle.com/ffmpeg/releases/ffmpeg-release-arm64-static.tar.xz",
	{"windows", "amd64"}: "https://www.gyan.dev/ffmpeg/builds/ffmpeg-release-essentials.zip",
	{"darwin", "amd64"}:  "https://evermeet.cx/ffmpeg/getrelease/zip",
	{"darwin", "arm64"}:  "https://www.osxexperts.net/ffmpeg7arm.zip",
}

// Release version manifests used by LatestVersion.
const (
	linuxVersionURL   = "https://johnvansickle.com/ffmpeg/release-readme.txt"
	windowsVersionURL = "https://www.gyan.dev/ffmpeg/builds/release-version"
	darwinVersionURL  = "https://evermeet.cx/ffmpeg/info/ffmpeg/release"
)

// maxManifestSize caps how much of a version manifest is read.
const maxManifestSize = 64 << 10

var readmeVersionRe = regexp.MustCompile(`(?m)^\s*version:\s*(\S+)`)

// ResolveSource returns the archive URL for the platform. A non-empty
// override wins over the built-in table.
func ResolveSource(p Platform, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if u, ok := releaseURLs[p]; ok {
		return u, nil
	}
	return "", stepErr(StepResolveSource, ErrUnsupportedPlatform, fmt.Errorf("no release for %s", p))
}

// bodyFetcher is the slice of the http client LatestVersion needs.
type bodyFetcher interface {
	GetBody(ctx context.Context, rawURL string, limit int64) ([]byte, error)
}

// LatestVersion looks up the newest published release for the platform.
// It is informational only.
func LatestVersion(ctx context.Context, client bodyFetcher, p Platform) (string, error) {
	switch p.OS {
	case "linux":
		body, err := client.GetBody(ctx, linuxVersionURL, maxManifestSize)
		if err != nil {
			return "", err
		}
		m := readmeVersionRe.FindSubmatch(body)
		if m == nil {
			return "", fmt.Errorf("no version in release readme")
		}
		return string(m[1]), nil

	case "windows":
		body, err := client.GetBody(ctx, windowsVersionURL, maxManifestSize)
		if err != nil {
			return "", err
		}
		v := strings.TrimSpace(string(body))
		if v == "" {
			return "", fmt.Errorf("empty release version")
		}
		return v, nil

	case "darwin":
		body, err := client.GetBody(ctx, darwinVersionURL, maxManifestSize)
		if err != nil {
			return "", err
		}
		var info struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal(body, &info); err != nil {
			return "", fmt.Errorf("decoding release info: %w", err)
		}
		if info.Version == "" {
			return "", fmt.Errorf("empty release version")
		}
		return info.Version, nil

	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedPlatform, p)
	}
}
