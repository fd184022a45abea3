// Package security guards file writes whose names come from untrusted
// input, such as entry names inside repository archives.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxFilenameLen bounds sanitised names to avoid overly long paths.
const maxFilenameLen = 128

// SanitizeFilename makes a safe file name from an arbitrary string. Any
// character that is not an ASCII letter, digit, dot, underscore or dash is
// replaced by an underscore, repeated underscores collapse, leading and
// trailing dots/underscores are trimmed and the result is bounded in length.
// Path separators therefore never survive.
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_':
			if !lastUnderscore {
				b.WriteRune(r)
			}
			lastUnderscore = true
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// ValidatePathWithinDirectory checks that filePath, once cleaned and made
// absolute, does not escape dir.
func ValidatePathWithinDirectory(filePath, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(absDir); err == nil {
		absDir = resolved
	}
	if resolved, err := filepath.EvalSymlinks(filepath.Dir(absPath)); err == nil {
		absPath = filepath.Join(resolved, filepath.Base(absPath))
	}

	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return fmt.Errorf("path is outside directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, dir)
	}
	return nil
}

// OutputPath joins dir with a sanitised base name plus suffix and verifies
// the result stays inside dir.
func OutputPath(dir, name, suffix string) (string, error) {
	p := filepath.Join(dir, SanitizeFilename(name)+suffix)
	if err := ValidatePathWithinDirectory(p, dir); err != nil {
		return "", err
	}
	return p, nil
}
