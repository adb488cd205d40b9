package acquire

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/mediastage/internal/util"
)

// LocateBinary finds binaryName in destDir. It checks destDir itself first,
// then each immediate subdirectory, accepting both <sub>/<bin> and
// <sub>/bin/<bin>. Only regular executable files qualify. Scratch
// directories of an unfinished extraction are never searched.
func LocateBinary(destDir, binaryName string) (string, error) {
	candidate := filepath.Join(destDir, binaryName)
	if util.IsExecutable(candidate) {
		return candidate, nil
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", stepErr(StepLocateBinary, ErrBinaryNotFound, err)
	}

	// ReadDir returns entries sorted by name, so the search is deterministic.
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ExtractDirPrefix) {
			continue
		}
		sub := filepath.Join(destDir, entry.Name())
		for _, candidate := range []string{
			filepath.Join(sub, binaryName),
			filepath.Join(sub, "bin", binaryName),
		} {
			if util.IsExecutable(candidate) {
				return candidate, nil
			}
		}
	}

	return "", stepErr(StepLocateBinary, ErrBinaryNotFound, fmt.Errorf("no %s in %s", binaryName, destDir))
}
