// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg resolves plughost's XDG Base Directory locations.
package xdg

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "plughost"

// ConfigDir returns $XDG_CONFIG_HOME/plughost, or ~/.config/plughost.
func ConfigDir() string {
	return dir("XDG_CONFIG_HOME", ".config")
}

// CacheDir returns $XDG_CACHE_HOME/plughost, or ~/.cache/plughost. Extracted
// plugin archives live below it.
func CacheDir() string {
	return dir("XDG_CACHE_HOME", ".cache")
}

func dir(env, fallback string) string {
	base := os.Getenv(env)
	if base == "" || !filepath.IsAbs(base) {
		base = filepath.Join(os.Getenv("HOME"), fallback)
	}
	return filepath.Join(base, appName)
}

// EnsureDir creates path and its parents with 0750 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
