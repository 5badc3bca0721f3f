// Package sessiondir manages the per-account cache directory and the lock
// that keeps at most one live Session per account on a device.
package sessiondir

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.vibely.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".vibely")
}

// Dir returns the account-specific cache directory.
func Dir(accountID string) string {
	return filepath.Join(BaseDir(), "accounts", accountID)
}

// CacheDBPath returns the local cache database path for an account.
func CacheDBPath(accountID string) string {
	return filepath.Join(Dir(accountID), "cache.db")
}

// LogPath returns the realtime log file path for an account.
func LogPath(accountID string) string {
	return filepath.Join(Dir(accountID), "logs", "realtime.log")
}

// ConfigPath returns the global options file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "realtime.toml")
}

// EnsureDir creates the account directory tree with proper permissions.
func EnsureDir(accountID string) error {
	dirs := []string{
		Dir(accountID),
		filepath.Join(Dir(accountID), "logs"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
