// Package paths locates the copilot-chat config file and log directory.
//
// An existing ~/.copilot-chat directory holds everything. Otherwise, if either
// XDG_CONFIG_HOME or XDG_STATE_HOME is set, config and state are split across
// the XDG base directories. A fresh install with no XDG variables uses
// ~/.copilot-chat.
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

// AppName is the directory name used under every base directory.
const AppName = "copilot-chat"

type dirs struct {
	config string
	state  string
}

var (
	mu     sync.Mutex
	cached *dirs
)

func lookup() (dirs, error) {
	mu.Lock()
	defer mu.Unlock()

	if cached != nil {
		return *cached, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return dirs{}, err
	}

	d := layout(home)
	cached = &d
	return d, nil
}

func layout(home string) dirs {
	appDir := filepath.Join(home, "."+AppName)
	if info, err := os.Stat(appDir); err == nil && info.IsDir() {
		return dirs{config: appDir, state: appDir}
	}

	xdgConfig, xdgState := os.Getenv("XDG_CONFIG_HOME"), os.Getenv("XDG_STATE_HOME")
	if xdgConfig == "" && xdgState == "" {
		return dirs{config: appDir, state: appDir}
	}
	return dirs{
		config: filepath.Join(orDefault(xdgConfig, filepath.Join(home, ".config")), AppName),
		state:  filepath.Join(orDefault(xdgState, filepath.Join(home, ".local", "state")), AppName),
	}
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// ConfigDir returns the directory holding config.yaml.
func ConfigDir() (string, error) {
	d, err := lookup()
	return d.config, err
}

// StateDir returns the directory for runtime state and logs.
func StateDir() (string, error) {
	d, err := lookup()
	return d.state, err
}

// ConfigFilePath returns the full path to config.yaml.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// Reset clears the cached lookup. Tests call it after changing HOME or XDG variables.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cached = nil
}
