// Package util provides shared utility functions.
package util

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ErrBinaryNotFound is returned by FindBinary when no candidate is executable.
var ErrBinaryNotFound = errors.New("binary not found")

// lookPath is swapped in tests to control PATH resolution.
var lookPath = exec.LookPath

// FindBinary searches for an executable binary by name.
// Search order:
//  1. explicit path (if non-empty)
//  2. environment variable (if envVar is non-empty and set)
//  3. name on PATH (via exec.LookPath)
//
// Each candidate is verified to exist and be executable before being returned.
func FindBinary(name, explicitPath, envVar string) (string, error) {
	if explicitPath != "" {
		if IsExecutable(explicitPath) {
			return explicitPath, nil
		}
		return "", fmt.Errorf("%w: configured path %s is not executable", ErrBinaryNotFound, explicitPath)
	}

	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" && IsExecutable(envPath) {
			return envPath, nil
		}
	}

	// LookPath already verifies executability
	if path, err := lookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, name)
}

// ExecutableName appends the platform executable suffix to name.
func ExecutableName(name string) string {
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		return name + ".exe"
	}
	return name
}

// IsExecutable checks if a file exists, is not a directory, and is executable
// by the current user. On Windows any regular file counts.
func IsExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if !info.Mode().IsRegular() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}
