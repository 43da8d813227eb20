package util

import (
	"os"
	"path/filepath"
)

// FindGitRoot walks up from dir looking for a .git entry.
// Returns dir itself if no repository is found.
func FindGitRoot(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	start, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for dir = start; ; {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return start, nil
		}
		dir = parent
	}
}
