package util

import (
	"path/filepath"
	"strings"
)

// ToSlashRel returns path relative to root in forward-slash form, which is
// how identifiers name files. Paths outside root are returned cleaned.
func ToSlashRel(root, path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path))
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(filepath.Clean(path))
	}
	return filepath.ToSlash(rel)
}

// FromSlashRel resolves an identifier path against root.
func FromSlashRel(root, path string) string {
	p := filepath.FromSlash(path)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}
