package httpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

// PartSuffix is appended to a download's path while it is in flight.
const PartSuffix = ".part"

// Download streams rawURL into destPath and returns the number of bytes
// written. destPath either holds the complete body or does not exist; an
// interrupted transfer removes its part file. When the server announced a
// Content-Length and a different number of bytes arrived, ErrTruncated is
// returned.
func (c *Client) Download(ctx context.Context, rawURL, destPath string) (int64, error) {
	resp, err := c.getOK(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	partPath := destPath + PartSuffix
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("creating download file: %w", err)
	}

	// A decoded body no longer matches the announced length.
	expected := resp.ContentLength
	if resp.Uncompressed {
		expected = -1
	}

	pw := &progressWriter{
		w:        f,
		total:    expected,
		name:     filepath.Base(destPath),
		interval: c.config.ProgressInterval,
		logger:   c.logger,
		last:     time.Now(),
	}
	written, copyErr := io.Copy(pw, resp.Body)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("writing download: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("closing download file: %w", closeErr)
	case expected >= 0 && written != expected:
		err = fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, written, expected)
	}
	if err != nil {
		_ = os.Remove(partPath)
		return written, err
	}

	if err := os.Rename(partPath, destPath); err != nil {
		_ = os.Remove(partPath)
		return written, fmt.Errorf("finalizing download: %w", err)
	}

	c.logger.Info("download complete",
		slog.String("url", redactURL(resp.Request.URL)),
		slog.String("path", pw.name),
		slog.String("size", humanize.IBytes(uint64(written))),
	)
	return written, nil
}

// progressWriter logs transfer progress at most once per interval.
type progressWriter struct {
	w        io.Writer
	written  int64
	total    int64
	name     string
	interval time.Duration
	logger   *slog.Logger
	last     time.Time
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)

	if p.interval > 0 && time.Since(p.last) >= p.interval {
		p.last = time.Now()
		attrs := []any{
			slog.String("path", p.name),
			slog.String("received", humanize.IBytes(uint64(p.written))),
		}
		if p.total > 0 {
			attrs = append(attrs,
				slog.String("total", humanize.IBytes(uint64(p.total))),
				slog.String("percent", fmt.Sprintf("%.0f%%", float64(p.written)*100/float64(p.total))),
			)
		}
		p.logger.Info("downloading", attrs...)
	}
	return n, err
}
