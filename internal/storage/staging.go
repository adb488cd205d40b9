package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"
)

// StagedFile is a file placed in the staging directory.
type StagedFile struct {
	Path      string
	CreatedAt time.Time
	Owner     string
}

// PurgeResult summarises a purge run. Errors never propagate to the caller
// as a failure; they are collected here and logged.
type PurgeResult struct {
	Removed int
	Bytes   int64
	Errors  []error
}

// Staging manages the staging directory where inputs and job outputs live
// until they are finalized. File names carry a unix timestamp and an owner
// ULID: {unix}_{owner}_{name}.
type Staging struct {
	sandbox *Sandbox
	logger  *slog.Logger
	now     func() time.Time
}

// NewStaging creates the staging directory if needed and returns a manager for it.
func NewStaging(dir string, logger *slog.Logger) (*Staging, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sb, err := NewSandbox(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	return &Staging{
		sandbox: sb,
		logger:  logger.With(slog.String("component", "staging")),
		now:     time.Now,
	}, nil
}

// Dir returns the absolute staging directory.
func (s *Staging) Dir() string {
	return s.sandbox.BaseDir()
}

// NewOwner returns a fresh owner id.
func NewOwner() string {
	return ulid.Make().String()
}

// Stage writes data into the staging directory under a fresh owner.
func (s *Staging) Stage(data []byte, originalName string) (StagedFile, error) {
	return s.stage(data, originalName, NewOwner())
}

// PlanOutputPath returns a staging path for the output of operation under a
// fresh owner. It has no side effects.
func (s *Staging) PlanOutputPath(originalName, operation, format string) (string, error) {
	return s.planOutputPath(originalName, operation, format, NewOwner())
}

// Finalize moves a staged file to finalPath. On success, other staged files
// of the same owner are purged; failures there are logged only.
func (s *Staging) Finalize(stagedPath, finalPath string) error {
	if err := PublishFile(stagedPath, finalPath); err != nil {
		return fmt.Errorf("%w: finalizing %s: %w", ErrIO, filepath.Base(stagedPath), err)
	}

	s.logger.Debug("finalized staged file",
		slog.String("staged", filepath.Base(stagedPath)),
		slog.String("final", finalPath),
	)

	if owner, ok := ownerOf(filepath.Base(stagedPath)); ok {
		s.purgeOwner(owner)
	}
	return nil
}

// Purge removes every regular file in the staging directory.
func (s *Staging) Purge() PurgeResult {
	return Purge(s.logger, s.Dir())
}

// PurgeOlderThan removes regular staged files whose modification time is
// older than maxAge.
func (s *Staging) PurgeOlderThan(maxAge time.Duration) PurgeResult {
	cutoff := s.now().Add(-maxAge)
	return purgeMatching(s.logger, s.Dir(), func(_ string, info os.FileInfo) bool {
		return info.ModTime().Before(cutoff)
	})
}

// PurgeCreatedBefore removes staged files whose owner was created before
// cutoff. Owner ids carry their creation time, so files staged by a session
// that started after cutoff are kept however coarse the filesystem's
// timestamps are. Files without an owner fall back to their modification time.
func (s *Staging) PurgeCreatedBefore(cutoff time.Time) PurgeResult {
	cutoff = cutoff.Truncate(time.Millisecond)
	return purgeMatching(s.logger, s.Dir(), func(name string, info os.FileInfo) bool {
		if created, ok := ownerTime(name); ok {
			return created.Before(cutoff)
		}
		return info.ModTime().Before(cutoff)
	})
}

// Purge deletes every regular file directly inside dir. Subdirectories and
// their contents are left alone. Per-file errors are collected and logged.
func Purge(logger *slog.Logger, dir string) PurgeResult {
	if logger == nil {
		logger = slog.Default()
	}
	return purgeMatching(logger, dir, func(string, os.FileInfo) bool { return true })
}

func (s *Staging) stage(data []byte, originalName, owner string) (StagedFile, error) {
	name, err := SanitizeName(originalName)
	if err != nil {
		return StagedFile{}, err
	}

	created := s.now()
	fileName := stagedName(created, owner, name)
	if err := s.sandbox.AtomicWrite(fileName, data); err != nil {
		return StagedFile{}, fmt.Errorf("%w: staging %s: %w", ErrIO, name, err)
	}

	s.logger.Debug("staged file",
		slog.String("name", fileName),
		slog.String("size", humanize.IBytes(uint64(len(data)))),
	)

	return StagedFile{
		Path:      filepath.Join(s.Dir(), fileName),
		CreatedAt: created,
		Owner:     owner,
	}, nil
}

func (s *Staging) planOutputPath(originalName, operation, format, owner string) (string, error) {
	name, err := OutputName(originalName, operation, format)
	if err != nil {
		return "", err
	}
	return s.sandbox.ResolvePath(stagedName(s.now(), owner, name))
}

func (s *Staging) purgeOwner(owner string) {
	prefixed := func(name string, _ os.FileInfo) bool {
		o, ok := ownerOf(name)
		return ok && o == owner
	}
	result := purgeMatching(s.logger, s.Dir(), prefixed)
	if result.Removed > 0 {
		s.logger.Debug("purged owner files",
			slog.String("owner", owner),
			slog.Int("removed", result.Removed),
		)
	}
}

func purgeMatching(logger *slog.Logger, dir string, match func(name string, info os.FileInfo) bool) PurgeResult {
	var result PurgeResult

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to read staging directory",
				slog.String("path", dir),
				slog.String("error", err.Error()),
			)
			result.Errors = append(result.Errors, fmt.Errorf("%w: %w", ErrIO, err))
		}
		return result
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			if !os.IsNotExist(err) {
				result.Errors = append(result.Errors, fmt.Errorf("%w: %w", ErrIO, err))
			}
			continue
		}
		if !match(entry.Name(), info) {
			continue
		}

		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			logger.Warn("failed to remove staged file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			result.Errors = append(result.Errors, fmt.Errorf("%w: %w", ErrIO, err))
			continue
		}

		result.Removed++
		result.Bytes += info.Size()
	}

	if result.Removed > 0 {
		logger.Info("purged staged files",
			slog.String("path", dir),
			slog.Int("removed", result.Removed),
			slog.String("freed", humanize.IBytes(uint64(result.Bytes))),
		)
	}

	return result
}

// ownerTime returns the creation time encoded in a staged file's owner id.
func ownerTime(fileName string) (time.Time, bool) {
	owner, ok := ownerOf(fileName)
	if !ok {
		return time.Time{}, false
	}
	id, err := ulid.ParseStrict(owner)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(id.Time()), true
}

func stagedName(created time.Time, owner, name string) string {
	return fmt.Sprintf("%d_%s_%s", created.Unix(), owner, name)
}

// ownerOf extracts the owner ULID from a staged file name, including the
// hidden temporary files written on the way to a staged name.
func ownerOf(fileName string) (string, bool) {
	parts := strings.SplitN(strings.TrimPrefix(fileName, "."), "_", 3)
	if len(parts) != 3 {
		return "", false
	}
	if _, err := strconv.ParseInt(parts[0], 10, 64); err != nil {
		return "", false
	}
	if _, err := ulid.ParseStrict(parts[1]); err != nil {
		return "", false
	}
	return parts[1], true
}

// Session groups staging operations under one owner so that finalizing the
// output also clears the session's inputs.
type Session struct {
	staging *Staging
	owner   string
}

// NewSession starts a staging session with a fresh owner.
func (s *Staging) NewSession() *Session {
	return &Session{staging: s, owner: NewOwner()}
}

// Owner returns the session's owner id.
func (s *Session) Owner() string {
	return s.owner
}

// Stage writes data into staging under the session owner.
func (s *Session) Stage(data []byte, originalName string) (StagedFile, error) {
	return s.staging.stage(data, originalName, s.owner)
}

// PlanOutputPath plans an output path under the session owner.
func (s *Session) PlanOutputPath(originalName, operation, format string) (string, error) {
	return s.staging.planOutputPath(originalName, operation, format, s.owner)
}

// Finalize moves the staged output to finalPath and purges the session's
// remaining staged files.
func (s *Session) Finalize(stagedPath, finalPath string) error {
	return s.staging.Finalize(stagedPath, finalPath)
}
