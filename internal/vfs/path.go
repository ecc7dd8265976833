package vfs

import (
	"path"
	"strings"
)

// Separator is the path separator of the virtual tree.
const Separator = "/"

// CleanPath returns the canonical absolute form of p: leading slash, no
// trailing slash, "." and ".." resolved. "" and "/" both mean the root.
func CleanPath(p string) string {
	return path.Clean(Separator + p)
}

// SplitPath splits an absolute path into its non-empty components. The
// root yields an empty slice.
func SplitPath(p string) []string {
	clean := strings.Trim(CleanPath(p), Separator)
	if clean == "" {
		return nil
	}

	return strings.Split(clean, Separator)
}

// IsBareName reports whether p names a single entry with no separator.
func IsBareName(p string) bool {
	return p != "" && !strings.Contains(p, Separator)
}

// ValidName reports whether name can be stored as one tree entry and
// found again by path: non-empty, not "." or "..", and free of separators.
func ValidName(name string) bool {
	return IsBareName(name) && name != "." && name != ".."
}

// JoinRelative resolves rel against the absolute folder base. "." segments
// are ignored, ".." pops one level (never above the root) and every other
// segment appends.
func JoinRelative(base, rel string) string {
	parts := SplitPath(base)

	for _, seg := range strings.Split(rel, Separator) {
		switch seg {
		case "", ".":
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, seg)
		}
	}

	return Separator + strings.Join(parts, Separator)
}
