package volume

import (
	"path/filepath"
	"strings"
)

const separator = filepath.Separator

// Resolve returns the absolute, cleaned form of path. Mount matching is only
// defined on resolved paths.
func Resolve(path string) (string, error) {
	return filepath.Abs(path)
}

// IsSubpath reports whether path is parent or lies beneath it. Trailing
// separators on either argument are allowed.
func IsSubpath(parent, path string, fold bool) bool {
	if fold {
		parent, path = foldCase(parent), foldCase(path)
	}
	return hasPathPrefix(path, parent)
}

// hasPathPrefix is IsSubpath on already folded strings.
func hasPathPrefix(path, prefix string) bool {
	if path == "" || prefix == "" {
		return path == prefix
	}

	if prefix[len(prefix)-1] != separator {
		switch {
		case len(path) < len(prefix):
			return false
		case len(path) == len(prefix):
			return path == prefix
		case path[len(prefix)] != separator:
			return false
		}
		return strings.HasPrefix(path, prefix)
	}

	// The prefix ends with a separator, as roots like "/" and `C:\` do.
	trimmed := prefix[:len(prefix)-1]
	if len(path) <= len(prefix) {
		return path == prefix || path == trimmed
	}
	return strings.HasPrefix(path, prefix)
}

// normalizeMount strips trailing separators, except from a root.
func normalizeMount(p string) string {
	root := len(filepath.VolumeName(p)) + 1
	for len(p) > root && p[len(p)-1] == separator {
		p = p[:len(p)-1]
	}
	return p
}

// bucketKey is the leading component of p: the volume name on Windows, the
// first directory elsewhere. Roots have the empty key.
func bucketKey(p string) string {
	if v := filepath.VolumeName(p); v != "" {
		return v
	}
	rest := strings.TrimLeft(p, string(separator))
	if i := strings.IndexByte(rest, separator); i >= 0 {
		return rest[:i]
	}
	return rest
}

func foldCase(s string) string {
	return strings.ToLower(s)
}
