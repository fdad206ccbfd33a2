package sandbox

import (
	"path"
	"path/filepath"
	"strings"
)

// hasPathPrefix reports whether relPath lies under prefix, comparing
// cleaned, slash-separated path segments rather than raw strings so that
// "data" does not match "database".
func hasPathPrefix(relPath, prefix string) bool {
	relPath = path.Clean(filepath.ToSlash(relPath))
	prefix = path.Clean(filepath.ToSlash(prefix))
	if prefix == "." || prefix == "" {
		return true
	}
	if relPath == prefix {
		return true
	}
	return strings.HasPrefix(relPath, prefix+"/")
}

// matchesAny reports whether value matches any of patterns, using
// filepath.Match glob semantics and treating an empty pattern list as
// matching everything (no restriction configured).
func matchesAny(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, p := range patterns {
		if ok, err := filepath.Match(p, value); err == nil && ok {
			return true
		}
		if p == "*" {
			return true
		}
	}
	return false
}
