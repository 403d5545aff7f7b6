// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/plughost/internal/config"
	"github.com/holomush/plughost/internal/pluginhost"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cacheHome := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cacheHome)

	cfg, err := config.Load("", newFlags(t))
	require.NoError(t, err)

	assert.Empty(t, cfg.Root)
	assert.Equal(t, filepath.Join(cacheHome, "plughost", "archives"), cfg.CacheRoot)
	assert.Equal(t, config.DefaultLogFormat, cfg.LogFormat)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, config.DefaultMetricsAddr, cfg.MetricsAddr)
	assert.Equal(t, config.DefaultDebounce, cfg.Debounce)
	assert.False(t, cfg.Watch)
	assert.False(t, cfg.LuaSandbox)
}

func TestLoad_DefaultPathFromXDG(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	dir := filepath.Join(home, "plughost")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte("root: /srv/plugins\n"), 0o600))

	assert.Equal(t, filepath.Join(dir, config.FileName), config.DefaultPath())

	cfg, err := config.Load("", newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "/srv/plugins", cfg.Root)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
root: /srv/plugins
cache_root: /var/cache/plughost
ignore:
  - "*.bak"
  - "wip-*"
version_constraint: ">= 1.0"
require_exports: [run]
log_format: text
log_level: debug
metrics_addr: ""
watch: true
debounce: 1s
lua_sandbox: true
`)

	cfg, err := config.Load(path, newFlags(t))
	require.NoError(t, err)

	assert.Equal(t, "/srv/plugins", cfg.Root)
	assert.Equal(t, "/var/cache/plughost", cfg.CacheRoot)
	assert.Equal(t, []string{"*.bak", "wip-*"}, cfg.Ignore)
	assert.Equal(t, ">= 1.0", cfg.VersionConstraint)
	assert.Equal(t, []string{"run"}, cfg.RequireExports)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Empty(t, cfg.MetricsAddr)
	assert.True(t, cfg.Watch)
	assert.Equal(t, time.Second, cfg.Debounce)
	assert.True(t, cfg.LuaSandbox)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "root: /srv/plugins\nlog_format: text\n")

	cfg, err := config.Load(path, newFlags(t, "--root", "/opt/plugins", "--debounce", "2s", "--ignore", "a,b"))
	require.NoError(t, err)

	assert.Equal(t, "/opt/plugins", cfg.Root)
	assert.Equal(t, "text", cfg.LogFormat, "unset flags must not override the file")
	assert.Equal(t, 2*time.Second, cfg.Debounce)
	assert.Equal(t, []string{"a", "b"}, cfg.Ignore)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), newFlags(t))
	require.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfig(t, "root: [unclosed\n")
	_, err := config.Load(path, newFlags(t))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{Root: "/p", CacheRoot: "/c", LogFormat: "json"}
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid folder", func(*config.Config) {}, ""},
		{"valid single", func(c *config.Config) { c.Root, c.Plugin = "", "/p/a" }, ""},
		{"neither", func(c *config.Config) { c.Root = "" }, "one of root or plugin"},
		{"both", func(c *config.Config) { c.Plugin = "/p/a" }, "mutually exclusive"},
		{"no cache root", func(c *config.Config) { c.CacheRoot = "" }, "cache-root"},
		{"bad log format", func(c *config.Config) { c.LogFormat = "xml" }, "log-format"},
		{"bad log level", func(c *config.Config) { c.LogLevel = "loud" }, "log level"},
		{"negative debounce", func(c *config.Config) { c.Debounce = -time.Second }, "debounce"},
		{"bad ignore", func(c *config.Config) { c.Ignore = []string{"["} }, "ignore pattern"},
		{"bad constraint", func(c *config.Config) { c.VersionConstraint = "bogus constraint" }, "version-constraint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHostConfig(t *testing.T) {
	folder := config.Config{Root: "/p", CacheRoot: "/c", Ignore: []string{"x"}, VersionConstraint: "^1"}
	hc := folder.HostConfig()
	assert.Equal(t, pluginhost.FolderMode{RootPath: "/p"}, hc.Mode)
	assert.Equal(t, "/c", hc.CacheRoot)
	assert.Equal(t, []string{"x"}, hc.Ignore)
	assert.Equal(t, "^1", hc.VersionConstraint)
	assert.Nil(t, hc.Validator)
	assert.False(t, hc.LuaSandbox)

	single := config.Config{Plugin: "/p/a.zip", CacheRoot: "/c", RequireExports: []string{"run"}, LuaSandbox: true}
	hc = single.HostConfig()
	assert.Equal(t, pluginhost.SinglePathMode{PluginPath: "/p/a.zip"}, hc.Mode)
	assert.NotNil(t, hc.Validator)
	assert.True(t, hc.LuaSandbox)
}
