package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Operation names accepted by PlanOutputPath.
const (
	OperationRemux     = "remux"
	OperationTranscode = "transcode"
	OperationTrim      = "trim"
)

// defaultTrimExtension is used when a trimmed file's original extension is
// not a recognised media container.
const defaultTrimExtension = "mp4"

// knownMediaExtensions are the containers a trimmed output may keep.
var knownMediaExtensions = map[string]struct{}{
	"mp4": {}, "mkv": {}, "mov": {}, "avi": {}, "webm": {},
	"mp3": {}, "wav": {}, "m4a": {}, "aac": {}, "flac": {}, "ogg": {}, "opus": {},
}

// SanitizeName reduces originalName to its NFC-normalized base name.
// Names that reduce to nothing, ".", or ".." are rejected with ErrInvalidName.
func SanitizeName(originalName string) (string, error) {
	name := strings.ReplaceAll(originalName, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(norm.NFC.String(name))

	switch name {
	case "", ".", "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, originalName)
	}
	return name, nil
}

// OutputName derives the output file name for an operation, without any
// staging prefix:
//
//	transcode or remux with a format  -> {stem}_converted.{format}
//	trim                              -> {stem}_trimmed.{ext}   (ext falls back to mp4)
//	anything else                     -> the original name
func OutputName(originalName, operation, format string) (string, error) {
	name, err := SanitizeName(originalName)
	if err != nil {
		return "", err
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem = name
		ext = ""
	}
	format = strings.TrimPrefix(strings.TrimSpace(format), ".")

	switch {
	case (operation == OperationTranscode || operation == OperationRemux) && format != "":
		return fmt.Sprintf("%s_converted.%s", stem, format), nil
	case operation == OperationTrim:
		trimExt := strings.ToLower(strings.TrimPrefix(ext, "."))
		if _, ok := knownMediaExtensions[trimExt]; !ok {
			trimExt = defaultTrimExtension
		}
		return fmt.Sprintf("%s_trimmed.%s", stem, trimExt), nil
	default:
		return name, nil
	}
}
