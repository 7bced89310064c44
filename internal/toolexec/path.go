package toolexec

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// canonicalize expands a leading "~", joins relative paths against cwd, and
// resolves symlinks and ".." components to an absolute, canonical path.
// It mirrors the containment algorithm's steps 1-3.
func canonicalize(path, cwd string) (string, error) {
	expanded := path
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
	}
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(cwd, expanded)
	}
	// EvalSymlinks requires the path to exist; fall back to Clean for
	// not-yet-existing write targets, but still resolve as much of the
	// existing prefix as possible so ".." components are collapsed.
	resolved, err := resolveExisting(expanded)
	if err != nil {
		return "", err
	}
	return filepath.Clean(resolved), nil
}

// resolveExisting walks up from path until it finds an existing ancestor,
// resolves symlinks on that ancestor, then re-appends the remainder. This
// lets containment checks reject writes to not-yet-existing files under a
// symlinked directory outside the sandbox.
func resolveExisting(path string) (string, error) {
	clean := filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		return resolved, nil
	}

	dir, base := filepath.Split(clean)
	dir = filepath.Clean(dir)
	if dir == clean || dir == "." || dir == string(filepath.Separator) {
		return clean, nil
	}
	resolvedDir, err := resolveExisting(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}

// isContained reports whether canonical path p has one of the canonicalised
// allowedDirs as a prefix. An empty allowedDirs list denies everything.
func isContained(p string, allowedDirs []string) bool {
	for _, dir := range allowedDirs {
		if p == dir || strings.HasPrefix(p, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// canonicalDirs canonicalises a policy's allowed_directories against cwd.
func canonicalDirs(dirs []string, cwd string) []string {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		c, err := canonicalize(d, cwd)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}
