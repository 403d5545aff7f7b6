// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func listArgs(t *testing.T, root string, extra ...string) []string {
	t.Helper()
	return append([]string{"list", "--root", root, "--cache-root", t.TempDir()}, extra...)
}

func TestListCommand_Table(t *testing.T) {
	root := t.TempDir()
	writeLuaPlugin(t, root, "alpha", `return { run = function() return "a" end }`)
	writeLuaPlugin(t, root, "beta", `return {}`)

	stdout, _, err := execute(t, context.Background(), listArgs(t, root)...)
	require.NoError(t, err)

	assert.Contains(t, stdout, "NAME")
	assert.Contains(t, stdout, "alpha")
	assert.Contains(t, stdout, "beta")
	assert.Less(t, strings.Index(stdout, "alpha"), strings.Index(stdout, "beta"), "plugins are listed by name")
}

func TestListCommand_JSON(t *testing.T) {
	root := t.TempDir()
	dir := writeLuaPlugin(t, root, "alpha", `return { run = function() return "a" end, label = "x" }`)

	stdout, _, err := execute(t, context.Background(), listArgs(t, root, "--output", "json")...)
	require.NoError(t, err)

	var got []pluginRow
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "alpha", got[0].Name)
	assert.Equal(t, "1.0.0", got[0].Version)
	assert.Equal(t, "main.lua", got[0].EntryPoint)
	assert.Equal(t, dir, got[0].Path)
	assert.Equal(t, []string{"label", "run"}, got[0].Exports)
	assert.Equal(t, "test", got[0].Meta["author"])
	assert.NotEmpty(t, got[0].Generation)
}

func TestListCommand_YAML(t *testing.T) {
	root := t.TempDir()
	writeLuaPlugin(t, root, "alpha", `return {}`)

	stdout, _, err := execute(t, context.Background(), listArgs(t, root, "-o", "yaml")...)
	require.NoError(t, err)

	var got []pluginRow
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "alpha", got[0].Name)
}

func TestListCommand_EmptyRoot(t *testing.T) {
	stdout, _, err := execute(t, context.Background(), listArgs(t, t.TempDir(), "-o", "json")...)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, stdout)
}

func TestListCommand_BrokenPluginReportedOnStderr(t *testing.T) {
	root := t.TempDir()
	writeLuaPlugin(t, root, "good", `return {}`)
	writeLuaPlugin(t, root, "bad", `return {`)

	stdout, stderr, err := execute(t, context.Background(), listArgs(t, root)...)
	require.NoError(t, err)

	assert.Contains(t, stdout, "good")
	assert.NotContains(t, stdout, "bad")
	assert.Contains(t, stderr, "plugin excluded from registry")
	assert.Contains(t, stderr, filepath.Join(root, "bad"))
}

func TestListCommand_InvalidOutput(t *testing.T) {
	_, _, err := execute(t, context.Background(), listArgs(t, t.TempDir(), "-o", "xml")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output must be")
}

func TestListCommand_MissingRoot(t *testing.T) {
	_, _, err := execute(t, context.Background(), listArgs(t, filepath.Join(t.TempDir(), "missing"))...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load plugins")
}

func TestListCommand_RequiresRootOrPlugin(t *testing.T) {
	_, _, err := execute(t, context.Background(), "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one of root or plugin is required")
}

func TestListCommand_SinglePlugin(t *testing.T) {
	dir := writeLuaPlugin(t, t.TempDir(), "solo", `return {}`)

	stdout, _, err := execute(t, context.Background(), "list", "--plugin", dir, "--cache-root", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, stdout, "solo")
}

func TestListCommand_ConfigFile(t *testing.T) {
	root := t.TempDir()
	writeLuaPlugin(t, root, "fromfile", `return {}`)

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := "root: " + root + "\ncache_root: " + t.TempDir() + "\nlog_format: text\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	stdout, stderr, err := execute(t, context.Background(), "--config", cfgPath, "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "fromfile")
	assert.Contains(t, stderr, "level=INFO", "log_format from the file selects text logs")
}

func TestListCommand_RequireExports(t *testing.T) {
	root := t.TempDir()
	writeLuaPlugin(t, root, "has", `return { run = function() end }`)
	writeLuaPlugin(t, root, "lacks", `return {}`)

	stdout, _, err := execute(t, context.Background(), listArgs(t, root, "--require-exports", "run")...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "has")
	assert.NotContains(t, stdout, "lacks")
}
