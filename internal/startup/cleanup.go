// Package startup provides utilities for application startup tasks.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/mediastage/internal/acquire"
	"github.com/jmylchreest/mediastage/internal/storage"
)

// PartialSuffix marks an in-progress download.
const PartialSuffix = ".part"

// DefaultPartialAge is how old a partial download must be before it is
// considered abandoned.
const DefaultPartialAge = 1 * time.Hour

// PurgeStagingAsync purges files left in staging by earlier runs on a
// detached goroutine. Only files whose owner was created before startedAt are
// removed, so jobs this process stages in the meantime are untouched. The
// caller does not need to wait; the returned channel delivers the result once
// and is then closed.
func PurgeStagingAsync(logger *slog.Logger, staging *storage.Staging, startedAt time.Time) <-chan storage.PurgeResult {
	done := make(chan storage.PurgeResult, 1)
	go func() {
		defer close(done)
		result := staging.PurgeCreatedBefore(startedAt)
		logger.Debug("startup staging purge finished",
			slog.String("path", staging.Dir()),
			slog.Int("removed", result.Removed),
			slog.Int("errors", len(result.Errors)),
		)
		done <- result
	}()
	return done
}

// CleanupPartialDownloads removes "*.part" files and extraction scratch
// directories older than maxAge from dir. Both are left behind when an
// install is interrupted by a crash.
//
// Returns the number of files removed and any error reading dir.
func CleanupPartialDownloads(logger *slog.Logger, dir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("download directory does not exist, skipping cleanup",
			"path", dir,
		)
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Error("failed to read directory for cleanup",
			"path", dir,
			"error", err,
		)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !isPartial(entry) {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get file info",
				"path", path,
				"error", err,
			)
			continue
		}

		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent partial download",
				"path", path,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			logger.Warn("failed to remove partial download",
				"path", path,
				"error", err,
			)
			continue
		}

		logger.Info("removed partial download",
			"path", path,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}

	return removed, nil
}

func isPartial(entry os.DirEntry) bool {
	if entry.IsDir() {
		return strings.HasPrefix(entry.Name(), acquire.ExtractDirPrefix)
	}
	return entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), PartialSuffix)
}
