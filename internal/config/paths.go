package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Home returns the directory codesync keeps its state in.
// Priority: $CODESYNC_HOME -> $XDG_CACHE_HOME/codesync -> ~/.cache/codesync (Unix) / %LOCALAPPDATA%\codesync (Windows)
func Home() (string, error) {
	if home := os.Getenv("CODESYNC_HOME"); home != "" {
		return home, nil
	}

	if runtime.GOOS != "windows" {
		if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
			return filepath.Join(xdgCache, "codesync"), nil
		}
	}

	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(userHome, "AppData", "Local", "codesync"), nil
	default:
		return filepath.Join(userHome, ".cache", "codesync"), nil
	}
}

// DefaultJournalPath returns the journal database location under Home.
func DefaultJournalPath() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "journal.db"), nil
}
