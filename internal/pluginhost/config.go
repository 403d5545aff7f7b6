// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginhost

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/holomush/plughost/internal/plugin"
	"github.com/holomush/plughost/internal/plugin/scanner"
)

// Mode selects how a Host discovers plugins. It is fixed at construction.
type Mode interface {
	isMode()
}

// FolderMode scans RootPath on every reload and loads each plugin found.
type FolderMode struct {
	RootPath string
}

// SinglePathMode loads exactly one plugin, a directory or a .zip archive,
// from PluginPath. The scanner is never used.
type SinglePathMode struct {
	PluginPath string
}

func (FolderMode) isMode()     {}
func (SinglePathMode) isMode() {}

// Config configures a Host.
type Config struct {
	Mode Mode
	// Validator gates every loaded module. Nil means plugin.AcceptAll.
	Validator plugin.Validator
	// CacheRoot is where archives are extracted.
	CacheRoot string
	// Ignore holds glob patterns for entry names the scanner skips.
	Ignore []string
	// VersionConstraint, when set, rejects plugins whose manifest version
	// does not satisfy it (e.g. ">= 1.0, < 2").
	VersionConstraint string
	// LuaSandbox restricts Lua plugins to the base, table, string and math
	// libraries. It does not apply to binary plugins.
	LuaSandbox bool
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	var errs []error

	switch m := c.Mode.(type) {
	case FolderMode:
		if m.RootPath == "" {
			errs = append(errs, errors.New("folder mode requires a root path"))
		}
	case SinglePathMode:
		if m.PluginPath == "" {
			errs = append(errs, errors.New("single-path mode requires a plugin path"))
		}
	case nil:
		errs = append(errs, errors.New("mode is required"))
	default:
		errs = append(errs, fmt.Errorf("unsupported mode %T", m))
	}

	if c.CacheRoot == "" {
		errs = append(errs, errors.New("cache root is required"))
	}
	if _, err := scanner.CompileIgnore(c.Ignore); err != nil {
		errs = append(errs, err)
	}
	if c.VersionConstraint != "" {
		if _, err := semver.NewConstraint(c.VersionConstraint); err != nil {
			errs = append(errs, fmt.Errorf("invalid version constraint %q: %w", c.VersionConstraint, err))
		}
	}

	return errors.Join(errs...)
}
