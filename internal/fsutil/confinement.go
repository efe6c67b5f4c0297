// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsutil keeps recording artifacts inside the storage root and writes them atomically.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path resolves outside its root.
var ErrOutsideRoot = errors.New("path escapes root")

// Confine resolves target against root and ensures the result, after symlink
// resolution, stays underneath root. Relative targets are joined to root.
func Confine(root, target string) (string, error) {
	if strings.Contains(target, "\\") {
		return "", fmt.Errorf("path contains backslash: %s", target)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root path: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve root: %w", err)
		}
		realRoot = absRoot
	}

	full := filepath.Clean(target)
	if !filepath.IsAbs(full) {
		full = filepath.Join(absRoot, full)
	}
	// Compare symlink-free forms of both sides.
	if rel, err := filepath.Rel(absRoot, full); err == nil && !escapes(rel) {
		full = filepath.Join(realRoot, rel)
	}

	realPath, err := resolve(full)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(realRoot, realPath)
	if err != nil {
		return "", fmt.Errorf("rel computation failed: %w", err)
	}
	if escapes(rel) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, target)
	}
	return realPath, nil
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolve follows symlinks of an existing path, or of its parent for a path
// that does not exist yet.
func resolve(full string) (string, error) {
	if _, err := os.Lstat(full); err == nil {
		rp, err := filepath.EvalSymlinks(full)
		if err != nil {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
		return rp, nil
	}
	dir := filepath.Dir(full)
	if rp, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(rp, filepath.Base(full)), nil
	} else if _, statErr := os.Stat(dir); statErr == nil {
		return "", fmt.Errorf("failed to resolve parent path: %w", err)
	}
	return full, nil
}
