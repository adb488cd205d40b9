// Package storage manages the staging area for media jobs and provides the
// sandboxed file operations used by staging and archive extraction.
// All file operations are restricted to a base directory so that archive
// entries and user-supplied names can never escape it.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors for storage operations.
var (
	// ErrIO wraps filesystem failures while staging or finalizing.
	ErrIO = errors.New("storage i/o error")
	// ErrInvalidName is returned when an original name reduces to nothing usable.
	ErrInvalidName = errors.New("invalid file name")
	// ErrPathEscape is returned when a relative path resolves outside the sandbox.
	ErrPathEscape = errors.New("path escapes sandbox")
)

// Sandbox provides sandboxed file operations within a base directory.
type Sandbox struct {
	baseDir string
}

// NewSandbox creates a new Sandbox rooted at the given base directory.
// The base directory is created if it doesn't exist.
func NewSandbox(baseDir string) (*Sandbox, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}

	return &Sandbox{baseDir: absPath}, nil
}

// BaseDir returns the absolute path to the sandbox base directory.
func (s *Sandbox) BaseDir() string {
	return s.baseDir
}

// ResolvePath resolves a relative path within the sandbox.
// Returns ErrPathEscape if the path would leave the sandbox or is absolute.
func (s *Sandbox) ResolvePath(relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) || filepath.VolumeName(relativePath) != "" {
		return "", fmt.Errorf("%w: %s (absolute paths not allowed)", ErrPathEscape, relativePath)
	}

	fullPath := filepath.Join(s.baseDir, filepath.Clean(relativePath))

	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) && fullPath != s.baseDir {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, relativePath)
	}

	return fullPath, nil
}

// MkdirAll creates a directory and all parent directories within the sandbox.
func (s *Sandbox) MkdirAll(relativePath string) error {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return nil
}

// CreateFile creates (or truncates) a file within the sandbox with the given
// permissions, creating parent directories as needed.
func (s *Sandbox) CreateFile(relativePath string, perm os.FileMode) (*os.File, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return file, nil
}

// AtomicWrite writes data to a file atomically within the sandbox.
// The data goes to a hidden temporary file in a single write which is then
// renamed onto the target, so the target is either complete or absent.
func (s *Sandbox) AtomicWrite(relativePath string, data []byte) error {
	targetPath, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tempPath := filepath.Join(dir, tempName(filepath.Base(targetPath)))

	if err := os.WriteFile(tempPath, data, 0o640); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("writing temporary file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming to target: %w", err)
	}

	return nil
}

// PublishFile moves srcPath to targetPath. It first tries a direct rename and
// falls back to copy-then-rename when the rename fails (typically because the
// two paths are on different filesystems). targetPath is never observed
// half-written. The source is removed after a successful copy.
func PublishFile(srcPath, targetPath string) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	if err := os.Rename(srcPath, targetPath); err == nil {
		return nil
	}

	if err := copyPublish(srcPath, targetPath); err != nil {
		return err
	}

	if err := os.Remove(srcPath); err != nil {
		return fmt.Errorf("removing source after copy: %w", err)
	}
	return nil
}

// copyPublish copies a file beside the target then renames it into place.
func copyPublish(srcPath, targetPath string) error {
	tempPath := filepath.Join(filepath.Dir(targetPath), tempName(filepath.Base(targetPath)))

	srcFile, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer srcFile.Close()

	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	_, err = io.Copy(tempFile, srcFile)
	closeErr := tempFile.Close()

	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("copying to temp file: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming to target: %w", err)
	}

	return nil
}

func tempName(base string) string {
	return fmt.Sprintf(".%s.%s.tmp", base, randomHex(8))
}

// randomHex generates a random hex string of the specified length.
func randomHex(n int) string {
	bytes := make([]byte, n/2+1)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(bytes)[:n]
}
