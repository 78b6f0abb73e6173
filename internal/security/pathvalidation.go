// Package security guards the filesystem touch points: session identifiers
// become export file names, and export paths must stay inside the export
// directory no matter what the identifier contains.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory rejects paths that resolve outside dir. Both
// sides are canonicalized first so neither ".." components nor symlinked
// parents can redirect a write out of the export tree. The directory must
// exist; the target file usually does not yet.
func ValidatePathWithinDirectory(path, dir string) error {
	target, err := canonicalize(path)
	if err != nil {
		return err
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}
	root, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("resolve directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(root, target)
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", path, dir)
	}
	return nil
}

// canonicalize resolves a path to its absolute, symlink-free form. When the
// path does not exist yet, the nearest existing ancestor is resolved and the
// remaining components re-joined, so a symlinked parent still counts.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	for probe := abs; ; {
		parent := filepath.Dir(probe)
		if parent == probe {
			return abs, nil
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, _ := filepath.Rel(parent, abs)
			return filepath.Join(resolved, rel), nil
		}
		probe = parent
	}
}

// SanitizeFilename makes a safe file name component from an arbitrary
// identifier. ASCII letters, digits, dot, underscore and dash pass through;
// anything else collapses to a single underscore. The result is capped at
// 128 bytes, trimmed of leading and trailing separators, and never empty.
func SanitizeFilename(s string) string {
	if s == "" {
		return "unknown"
	}

	const maxLen = 128
	var b strings.Builder
	replaced := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			replaced = false
		default:
			if !replaced {
				b.WriteByte('_')
				replaced = true
			}
		}
	}

	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
