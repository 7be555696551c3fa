package watcher

import (
	"path/filepath"
	"strings"
)

// FileFilter reports whether a file belongs in the snapshot.
type FileFilter func(path string) bool

// ExtensionFilter accepts files whose extension is in exts. Matching is case
// insensitive; an empty list accepts everything.
func ExtensionFilter(exts []string) FileFilter {
	if len(exts) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return func(path string) bool {
		_, ok := set[strings.ToLower(filepath.Ext(path))]
		return ok
	}
}

// IgnoreFilter rejects paths where the base name or any directory component
// matches one of the glob patterns.
func IgnoreFilter(patterns []string) FileFilter {
	return func(path string) bool {
		return !matchesAny(patterns, path)
	}
}

func matchesAny(patterns []string, path string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(filepath.Clean(path)), "/") {
		if part == "" || part == "." || part == ".." {
			continue
		}
		for _, pattern := range patterns {
			if ok, _ := filepath.Match(pattern, part); ok {
				return true
			}
		}
	}
	return false
}

// NoGitFilter rejects anything inside a .git directory.
func NoGitFilter(path string) bool {
	slashed := filepath.ToSlash(path)
	return !strings.HasPrefix(slashed, ".git/") && !strings.Contains(slashed, "/.git/")
}

// All accepts a path only if every filter does.
func All(filters ...FileFilter) FileFilter {
	return func(path string) bool {
		for _, f := range filters {
			if f != nil && !f(path) {
				return false
			}
		}
		return true
	}
}
