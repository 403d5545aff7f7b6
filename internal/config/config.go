// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads plughost process configuration from a YAML file and
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/plughost/internal/logging"
	"github.com/holomush/plughost/internal/plugin"
	"github.com/holomush/plughost/internal/plugin/scanner"
	"github.com/holomush/plughost/internal/pluginhost"
	"github.com/holomush/plughost/internal/xdg"
)

// Default values for configuration keys.
const (
	DefaultLogFormat   = "json"
	DefaultLogLevel    = "info"
	DefaultMetricsAddr = "127.0.0.1:9100"
	DefaultDebounce    = pluginhost.DefaultDebounce
)

// FileName is the configuration file looked up in the XDG config directory.
const FileName = "config.yaml"

// Config is the process configuration. Keys match the YAML file; flags use
// the same names with dashes.
type Config struct {
	Root              string        `koanf:"root"`
	Plugin            string        `koanf:"plugin"`
	CacheRoot         string        `koanf:"cache_root"`
	Ignore            []string      `koanf:"ignore"`
	VersionConstraint string        `koanf:"version_constraint"`
	RequireExports    []string      `koanf:"require_exports"`
	LogFormat         string        `koanf:"log_format"`
	LogLevel          string        `koanf:"log_level"`
	MetricsAddr       string        `koanf:"metrics_addr"`
	LuaSandbox        bool          `koanf:"lua_sandbox"`
	Watch             bool          `koanf:"watch"`
	Debounce          time.Duration `koanf:"debounce"`
}

// DefaultPath returns the configuration file used when none is given.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigDir(), FileName)
}

// DefaultCacheRoot returns the archive extraction directory used when none
// is configured.
func DefaultCacheRoot() string {
	return filepath.Join(xdg.CacheDir(), "archives")
}

// RegisterFlags adds every configuration key to flags with its default.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("root", "", "plugin root directory to scan (folder mode)")
	flags.String("plugin", "", "single plugin directory or .zip archive to load (single-path mode)")
	flags.String("cache-root", DefaultCacheRoot(), "directory archives are extracted into")
	flags.StringSlice("ignore", nil, "glob patterns of root entries to skip")
	flags.String("version-constraint", "", "semantic version constraint plugins must satisfy")
	flags.StringSlice("require-exports", nil, "export names every plugin must provide")
	flags.String("log-format", DefaultLogFormat, "log format (json or text)")
	flags.String("log-level", DefaultLogLevel, "minimum log level (debug, info, warn or error)")
	flags.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	flags.Bool("lua-sandbox", false, "load Lua plugins without os, io, debug and package")
	flags.Bool("watch", false, "reload when plugin sources change")
	flags.Duration("debounce", DefaultDebounce, "quiet period before a watched change triggers a reload")
}

// Load builds a Config from flag defaults, then the YAML file at path, then
// flags the user set. An empty path means DefaultPath, which may be absent;
// an explicit path must exist.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.In("config").With("path", path).Hint("failed to read config file").Wrap(err)
		}
	}

	fp := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
		return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
	})
	if err := k.Load(fp, nil); err != nil {
		return nil, oops.In("config").Hint("failed to read flags").Wrap(err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.In("config").Hint("failed to decode configuration").Wrap(err)
	}
	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch {
	case c.Root == "" && c.Plugin == "":
		return fmt.Errorf("one of root or plugin is required")
	case c.Root != "" && c.Plugin != "":
		return fmt.Errorf("root and plugin are mutually exclusive")
	}
	if c.CacheRoot == "" {
		return fmt.Errorf("cache-root is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log-format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative, got %s", c.Debounce)
	}
	if _, err := scanner.CompileIgnore(c.Ignore); err != nil {
		return err
	}
	if c.VersionConstraint != "" {
		if _, err := semver.NewConstraint(c.VersionConstraint); err != nil {
			return fmt.Errorf("invalid version-constraint %q: %w", c.VersionConstraint, err)
		}
	}
	return nil
}

// HostConfig converts c into a plugin host configuration.
func (c *Config) HostConfig() pluginhost.Config {
	hc := pluginhost.Config{
		CacheRoot:         c.CacheRoot,
		Ignore:            c.Ignore,
		VersionConstraint: c.VersionConstraint,
		LuaSandbox:        c.LuaSandbox,
	}
	if c.Plugin != "" {
		hc.Mode = pluginhost.SinglePathMode{PluginPath: c.Plugin}
	} else {
		hc.Mode = pluginhost.FolderMode{RootPath: c.Root}
	}
	if len(c.RequireExports) > 0 {
		hc.Validator = plugin.RequireExports(c.RequireExports...)
	}
	return hc
}
