package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Path validation errors.
var (
	ErrPathEscape   = errors.New("path escapes project root")
	ErrAbsolutePath = errors.New("absolute paths not allowed")
	ErrInvalidPath  = errors.New("invalid path")
)

// ValidateRelativePath checks that a path from a model-produced diff is
// usable as a project-relative path. It must not be absolute and must not
// contain null bytes.
func ValidateRelativePath(path string) error {
	if path == "" {
		return ErrInvalidPath
	}
	if filepath.IsAbs(path) {
		return ErrAbsolutePath
	}
	if strings.ContainsRune(path, '\x00') {
		return ErrInvalidPath
	}
	return nil
}

// SafeJoin joins the project root with a relative path, ensuring the result
// stays within the root. Returns the absolute path if valid, or an error if
// the path escapes.
func SafeJoin(root, relativePath string) (string, error) {
	if err := ValidateRelativePath(relativePath); err != nil {
		return "", err
	}

	joined := filepath.Join(root, relativePath)

	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(absRoot, absJoined)
	if err != nil {
		return "", err
	}

	// Exactly ".." or a "../" prefix means traversal. "..." and "..foo"
	// are legitimate filenames.
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathEscape
	}

	return absJoined, nil
}

// resolveForContainment resolves symlinks for containment checks. For
// non-existent paths it resolves the nearest existing ancestor and
// re-attaches the missing suffix.
func resolveForContainment(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	current := absPath
	var missing []string
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}

// IsWithinDirReal checks whether targetPath resolves inside root after
// following symlinks. Used as the write guard: SafeJoin alone does not
// catch a symlink inside the root pointing outside it.
func IsWithinDirReal(root, targetPath string) (bool, error) {
	rootResolved, err := resolveForContainment(root)
	if err != nil {
		return false, err
	}
	targetResolved, err := resolveForContainment(targetPath)
	if err != nil {
		return false, err
	}

	rel, err := filepath.Rel(rootResolved, targetResolved)
	if err != nil {
		return false, err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false, nil
	}
	return true, nil
}
