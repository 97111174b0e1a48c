// Package paths provides XDG-compliant path resolution for synctray.
//
// Resolution order:
// 1. SYNCTRAY_HOME (portable root) → $SYNCTRAY_HOME/{config,state,cache,run}
// 2. XDG env vars → $XDG_*_HOME/synctray
// 3. Platform defaults → ~/.config/synctray, ~/.local/state/synctray, etc.
package paths

import (
	"os"
	"path/filepath"
)

const appName = "synctray"

// baseDir resolves one XDG base directory.
func baseDir(homeSub, xdgEnv string, fallback ...string) string {
	if home := os.Getenv("SYNCTRAY_HOME"); home != "" {
		return filepath.Join(home, homeSub)
	}
	if xdg := os.Getenv(xdgEnv); xdg != "" {
		return xdg
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(append([]string{homeDir}, fallback...)...)
	}
	return ""
}

func appDir(base string) string {
	if base == "" {
		return ""
	}
	return filepath.Join(base, appName)
}

// ConfigDir returns the configuration directory holding synctray.toml / synctray.yml.
func ConfigDir() string {
	return appDir(baseDir("config", "XDG_CONFIG_HOME", ".config"))
}

// StateDir returns the state directory.
// Used for the pid file, state.yml and launcher logs.
func StateDir() string {
	return appDir(baseDir("state", "XDG_STATE_HOME", ".local", "state"))
}

// CacheDir returns the cache directory.
func CacheDir() string {
	return appDir(baseDir("cache", "XDG_CACHE_HOME", ".cache"))
}

// RuntimeDir returns the runtime directory for sockets.
// Uses XDG_RUNTIME_DIR when available (Linux), falls back to StateDir (macOS).
func RuntimeDir() string {
	if home := os.Getenv("SYNCTRAY_HOME"); home != "" {
		return filepath.Join(home, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return StateDir()
}

// SocketPath returns the path to the engine's API unix socket.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), "synctrayd.sock")
}

// PidFilePath returns the path to the engine's PID file.
func PidFilePath() string {
	return filepath.Join(StateDir(), "synctrayd.pid")
}

// StateFilePath returns the path of the small state file that remembers the
// last selected profile.
func StateFilePath() string {
	return filepath.Join(StateDir(), "state.yml")
}

// LauncherLogPath returns the default log file for a launched daemon.
func LauncherLogPath() string {
	return filepath.Join(StateDir(), "launcher.log")
}

// EnsureDirs creates all synctray directories if they don't exist.
func EnsureDirs() error {
	for _, dir := range []string{ConfigDir(), StateDir(), CacheDir(), RuntimeDir()} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
