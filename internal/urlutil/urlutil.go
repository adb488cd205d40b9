// Package urlutil provides URL helpers and a fetcher that serves both
// remote (http, https) and local (file://) archive sources.
package urlutil

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/jmylchreest/mediastage/internal/httpclient"
)

// URL scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFile  = "file"
)

// IsRemoteURL checks if a URL uses the http:// or https:// scheme.
func IsRemoteURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// IsFileURL checks if a URL uses the file:// scheme.
func IsFileURL(u string) bool {
	return strings.HasPrefix(u, "file://")
}

// IsSupportedURL checks if a URL uses a supported scheme (http, https, or file).
func IsSupportedURL(u string) bool {
	return IsRemoteURL(u) || IsFileURL(u)
}

// GetScheme returns the scheme of a URL (http, https, file) or empty string if unknown.
func GetScheme(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

// FilePathFromURL extracts the file path from a file:// URL.
// Both file:///path and file://localhost/path are accepted.
func FilePathFromURL(u string) (string, error) {
	if !IsFileURL(u) {
		return "", fmt.Errorf("not a file:// URL: %s", u)
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Host != "" && parsed.Host != "localhost" {
		return "", fmt.Errorf("file URL with remote host: %s", u)
	}
	if parsed.Path == "" {
		return "", fmt.Errorf("empty path in file URL: %s", u)
	}

	return parsed.Path, nil
}

// ValidateURL checks if a URL is valid and uses a supported scheme. File
// URLs must point at an existing file.
func ValidateURL(u string) error {
	if u == "" {
		return fmt.Errorf("URL is required")
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case SchemeHTTP, SchemeHTTPS:
		if parsed.Host == "" {
			return fmt.Errorf("URL has no host: %s", u)
		}
		return nil
	case SchemeFile:
		path, err := FilePathFromURL(u)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", path)
			}
			return fmt.Errorf("cannot access file: %w", err)
		}
		return nil
	case "":
		return fmt.Errorf("URL must include a scheme (http://, https://, or file://)")
	default:
		return fmt.Errorf("unsupported URL scheme: %s (supported: http, https, file)", scheme)
	}
}

// Fetcher retrieves archives and small documents from http(s) and file URLs.
type Fetcher struct {
	httpClient *httpclient.Client
}

// NewFetcher creates a Fetcher that uses client for remote URLs.
func NewFetcher(client *httpclient.Client) *Fetcher {
	return &Fetcher{httpClient: client}
}

// NewDefaultFetcher creates a Fetcher with default HTTP settings.
func NewDefaultFetcher() *Fetcher {
	return NewFetcher(httpclient.NewWithDefaults())
}

// Fetch opens the content at u. The caller must close the reader.
func (f *Fetcher) Fetch(ctx context.Context, u string) (io.ReadCloser, error) {
	switch scheme := GetScheme(u); scheme {
	case SchemeHTTP, SchemeHTTPS:
		resp, err := f.httpClient.Get(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch URL: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: %d", httpclient.ErrUnexpectedStatus, resp.StatusCode)
		}
		return resp.Body, nil
	case SchemeFile:
		return openFile(u)
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (URL: %s)", scheme, u)
	}
}

// GetBody reads at most limit bytes from u.
func (f *Fetcher) GetBody(ctx context.Context, u string, limit int64) ([]byte, error) {
	if IsRemoteURL(u) {
		return f.httpClient.GetBody(ctx, u, limit)
	}

	r, err := f.Fetch(ctx, u)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, limit))
}

// Download copies the content at u into destPath and returns its size.
// Remote downloads go through the HTTP client. Local files are copied via
// destPath+".part" so destPath is either complete or absent.
func (f *Fetcher) Download(ctx context.Context, u, destPath string) (int64, error) {
	if IsRemoteURL(u) {
		return f.httpClient.Download(ctx, u, destPath)
	}

	src, err := f.Fetch(ctx, u)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	partPath := destPath + httpclient.PartSuffix
	dst, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("creating download file: %w", err)
	}

	written, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(partPath)
		if copyErr != nil {
			return written, fmt.Errorf("copying %s: %w", u, copyErr)
		}
		return written, fmt.Errorf("closing download file: %w", closeErr)
	}

	if err := os.Rename(partPath, destPath); err != nil {
		_ = os.Remove(partPath)
		return written, fmt.Errorf("finalizing download: %w", err)
	}
	return written, nil
}

func openFile(u string) (io.ReadCloser, error) {
	path, err := FilePathFromURL(u)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}
