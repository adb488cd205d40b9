package util

import (
	"path/filepath"
	"strings"
)

// NormalizePath lexically resolves "." and ".." segments without touching the
// filesystem. The root and any volume prefix are kept; a ".." with nothing left
// to pop is dropped rather than reported. Empty segments collapse.
//
//	NormalizePath("a/./b/../c")  == "a/c"
//	NormalizePath("../../x")     == "x"
//	NormalizePath("/a/../../b")  == "/b"
func NormalizePath(path string) string {
	if path == "" {
		return ""
	}

	volume := filepath.VolumeName(path)
	rest := path[len(volume):]
	rooted := rest != "" && isSeparator(rune(rest[0]))

	segments := strings.FieldsFunc(rest, isSeparator)
	stack := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case ".":
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}

	prefix := volume
	if rooted {
		prefix += string(filepath.Separator)
	}
	return prefix + strings.Join(stack, string(filepath.Separator))
}

func isSeparator(r rune) bool {
	return r == '/' || r == filepath.Separator
}
