package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PathValidator confines tool file access to a working directory and,
// optionally, to paths matching a set of glob patterns.
type PathValidator struct {
	workDir       string
	allowed       []string
	allowSymlinks bool
}

// NewPathValidator creates a validator rooted at workDir. allowed holds
// doublestar patterns relative to workDir; an empty list admits every path
// under workDir. Invalid patterns are reported here rather than at use.
func NewPathValidator(workDir string, allowed []string, allowSymlinks bool) (*PathValidator, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	for _, p := range allowed {
		if !doublestar.ValidatePattern(filepath.ToSlash(p)) {
			return nil, fmt.Errorf("invalid allowed path pattern %q", p)
		}
	}

	return &PathValidator{
		workDir:       abs,
		allowed:       append([]string(nil), allowed...),
		allowSymlinks: allowSymlinks,
	}, nil
}

// WorkDir returns the resolved root directory.
func (v *PathValidator) WorkDir() string {
	return v.workDir
}

// Validate resolves path (relative paths are taken from the work dir) and
// returns the absolute path if it is allowed.
func (v *PathValidator) Validate(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.Contains(path, "\x00") {
		return "", fmt.Errorf("null byte in path")
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(v.workDir, path)
	}
	abs := filepath.Clean(path)

	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(v.workDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path '%s' is outside the working directory", path)
	}

	if !v.allowSymlinks && resolved != abs {
		return "", fmt.Errorf("symlinks not allowed: %s", path)
	}

	if len(v.allowed) > 0 && !v.matchesAllowed(filepath.ToSlash(rel)) {
		return "", fmt.Errorf("path '%s' is not in the allowed paths", rel)
	}
	return resolved, nil
}

func (v *PathValidator) matchesAllowed(rel string) bool {
	for _, pattern := range v.allowed {
		if ok, _ := doublestar.Match(filepath.ToSlash(pattern), rel); ok {
			return true
		}
	}
	return false
}

// resolveExisting evaluates symlinks in the longest existing prefix of
// path, so that paths of files not yet created are still checked.
func resolveExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to resolve symlinks: %w", err)
	}

	parent := filepath.Dir(path)
	if parent == path {
		return path, nil
	}
	resolvedParent, err := resolveExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(path)), nil
}
