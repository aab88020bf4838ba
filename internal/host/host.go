// Package host controls the application whose state agswitch snapshots:
// its process lifecycle and the live state files in its data directory.
package host

import (
	"errors"
	"os"
	"path/filepath"
)

var (
	// ErrTimeout is returned when the host does not reach the wanted state in time.
	ErrTimeout = errors.New("timed out waiting for host process")

	// ErrNotLoggedIn means the live state carries no account email.
	ErrNotLoggedIn = errors.New("no account is logged in")

	// ErrExecutableNotFound means no launchable host executable was found.
	ErrExecutableNotFound = errors.New("host executable not found")
)

// DefaultDataDir returns the per-OS directory holding the host's global state.
func DefaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "Antigravity", "User", "globalStorage")
}
