// Package paths provides path resolution utilities for warder's on-disk
// state.
package paths

import (
	"os"
	"path/filepath"
)

const (
	stateFileName  = "rooms.json"
	socketFileName = "control.sock"
)

// ResolveStateDir resolves the directory warder persists its room snapshot
// and control socket in. It normalizes the input (accepting either a
// project dir or a state dir directly) and falls back to
// $XDG_STATE_HOME/warder, or ~/.local/state/warder when XDG_STATE_HOME is
// unset.
//
// Input normalization:
//   - "" -> resolved default ($XDG_STATE_HOME/warder or ~/.local/state/warder)
//   - "/path/to/project" -> "/path/to/project/.warder"
//   - "/path/to/project/.warder" -> "/path/to/project/.warder"
func ResolveStateDir(path string) (string, error) {
	if path == "" {
		return defaultStateDir()
	}
	path = filepath.Clean(path)

	if filepath.Base(path) == ".warder" {
		return path, nil
	}

	return filepath.Join(path, ".warder"), nil
}

func defaultStateDir() (string, error) {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, "warder"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "warder"), nil
}

// StateFilePath returns the path to the persisted room snapshot within
// stateDir.
func StateFilePath(stateDir string) string {
	return filepath.Join(stateDir, stateFileName)
}

// SocketPath returns the path to the control socket within stateDir.
func SocketPath(stateDir string) string {
	return filepath.Join(stateDir, socketFileName)
}

// EnsureStateDir creates stateDir (and parents) if it does not already
// exist.
func EnsureStateDir(stateDir string) error {
	return os.MkdirAll(stateDir, 0o755)
}
