// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

// Package xdg provides XDG Base Directory paths for subtrack.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "subtrack"

// ConfigFileName is the file ConfigFile looks for in ConfigDir.
const ConfigFileName = "config.yaml"

// ConfigDir returns the XDG config directory for subtrack.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", oops.Code("XDG_NO_HOME").With("operation", "resolve config dir").Wrap(err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// ConfigFile returns the path of config.yaml in ConfigDir, or "" when the
// directory cannot be resolved or the file does not exist.
func ConfigFile() string {
	dir, err := ConfigDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, ConfigFileName)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}
