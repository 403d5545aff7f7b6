// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package archive_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/plughost/internal/plugin/archive"
)

const manifest = `{"name":"zipped","version":"1.0.0","entryPoint":"main.lua"}`

// writeZip creates a zip archive at path holding the given files.
func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExtract_PluginArchive(t *testing.T) {
	src := t.TempDir()
	cacheRoot := filepath.Join(t.TempDir(), "cache")
	archivePath := filepath.Join(src, "zipped.zip")
	writeZip(t, archivePath, map[string]string{
		"plugin.json":    manifest,
		"main.lua":       `return {}`,
		"lib/helper.lua": `return {}`,
	})

	c := archive.New(cacheRoot, archive.WithLogger(quietLogger()))
	dir, ok := c.Extract(context.Background(), archivePath)
	require.True(t, ok)

	assert.Equal(t, filepath.Join(cacheRoot, "zipped"), dir)
	assert.FileExists(t, filepath.Join(dir, "plugin.json"))
	assert.FileExists(t, filepath.Join(dir, "lib", "helper.lua"))
}

func TestExtract_NoManifestAtRoot(t *testing.T) {
	src := t.TempDir()
	archivePath := filepath.Join(src, "nested.zip")
	writeZip(t, archivePath, map[string]string{
		"nested/plugin.json": manifest,
	})

	c := archive.New(t.TempDir(), archive.WithLogger(quietLogger()))
	dir, ok := c.Extract(context.Background(), archivePath)
	assert.False(t, ok)
	assert.Empty(t, dir)
}

func TestExtract_CorruptArchive(t *testing.T) {
	src := t.TempDir()
	archivePath := filepath.Join(src, "corrupt.zip")
	require.NoError(t, os.WriteFile(archivePath, []byte("this is not a zip"), 0o600))

	var logs bytes.Buffer
	c := archive.New(t.TempDir(), archive.WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))

	_, ok := c.Extract(context.Background(), archivePath)
	assert.False(t, ok)
	assert.Contains(t, logs.String(), "failed to extract plugin archive")
	assert.Contains(t, logs.String(), archivePath)
}

func TestExtract_RejectsPathTraversal(t *testing.T) {
	src := t.TempDir()
	root := t.TempDir()
	archivePath := filepath.Join(src, "evil.zip")
	writeZip(t, archivePath, map[string]string{
		"plugin.json":       manifest,
		"../../escaped.txt": "gotcha",
	})

	c := archive.New(filepath.Join(root, "cache"), archive.WithLogger(quietLogger()))
	_, ok := c.Extract(context.Background(), archivePath)
	assert.False(t, ok)
	assert.NoFileExists(t, filepath.Join(root, "escaped.txt"))
}

func TestExtract_CreatesCacheRoot(t *testing.T) {
	src := t.TempDir()
	cacheRoot := filepath.Join(t.TempDir(), "a", "b", "c")
	archivePath := filepath.Join(src, "p.zip")
	writeZip(t, archivePath, map[string]string{"plugin.json": manifest})

	c := archive.New(cacheRoot, archive.WithLogger(quietLogger()))
	_, ok := c.Extract(context.Background(), archivePath)
	require.True(t, ok)
	assert.DirExists(t, cacheRoot)
	assert.Equal(t, cacheRoot, c.Root())
}

func TestExtract_ChangedArchiveOverwritesExtraction(t *testing.T) {
	src := t.TempDir()
	archivePath := filepath.Join(src, "p.zip")
	c := archive.New(t.TempDir(), archive.WithLogger(quietLogger()))

	writeZip(t, archivePath, map[string]string{"plugin.json": manifest, "old.lua": ""})
	dir, ok := c.Extract(context.Background(), archivePath)
	require.True(t, ok)
	assert.FileExists(t, filepath.Join(dir, "old.lua"))

	writeZip(t, archivePath, map[string]string{"plugin.json": manifest, "new.lua": ""})
	dir, ok = c.Extract(context.Background(), archivePath)
	require.True(t, ok)
	assert.FileExists(t, filepath.Join(dir, "new.lua"))
	assert.NoFileExists(t, filepath.Join(dir, "old.lua"), "previous extraction should be replaced")
}

func TestExtract_UnchangedArchiveIsMemoized(t *testing.T) {
	src := t.TempDir()
	archivePath := filepath.Join(src, "p.zip")
	writeZip(t, archivePath, map[string]string{"plugin.json": manifest})

	c := archive.New(t.TempDir(), archive.WithLogger(quietLogger()))
	dir, ok := c.Extract(context.Background(), archivePath)
	require.True(t, ok)

	// A marker survives only if the second call skipped re-extraction.
	marker := filepath.Join(dir, "marker")
	require.NoError(t, os.WriteFile(marker, nil, 0o600))

	_, ok = c.Extract(context.Background(), archivePath)
	require.True(t, ok)
	assert.FileExists(t, marker)
}

func TestExtract_MemoDisabledAlwaysReextracts(t *testing.T) {
	src := t.TempDir()
	archivePath := filepath.Join(src, "p.zip")
	writeZip(t, archivePath, map[string]string{"plugin.json": manifest})

	c := archive.New(t.TempDir(), archive.WithLogger(quietLogger()), archive.WithMemoSize(0))
	dir, ok := c.Extract(context.Background(), archivePath)
	require.True(t, ok)

	marker := filepath.Join(dir, "marker")
	require.NoError(t, os.WriteFile(marker, nil, 0o600))

	_, ok = c.Extract(context.Background(), archivePath)
	require.True(t, ok)
	assert.NoFileExists(t, marker)
}

func TestExtract_SameBaseNameLastWriterWins(t *testing.T) {
	c := archive.New(t.TempDir(), archive.WithLogger(quietLogger()))

	first := filepath.Join(t.TempDir(), "p.zip")
	second := filepath.Join(t.TempDir(), "p.zip")
	writeZip(t, first, map[string]string{"plugin.json": manifest, "first.lua": ""})
	writeZip(t, second, map[string]string{"plugin.json": manifest, "second.lua": ""})

	dir1, ok := c.Extract(context.Background(), first)
	require.True(t, ok)
	dir2, ok := c.Extract(context.Background(), second)
	require.True(t, ok)
	assert.Equal(t, dir1, dir2)
	assert.FileExists(t, filepath.Join(dir2, "second.lua"))

	// The first archive is unchanged but no longer owns the directory.
	_, ok = c.Extract(context.Background(), first)
	require.True(t, ok)
	assert.FileExists(t, filepath.Join(dir1, "first.lua"))
}

func TestExtract_MemoRepairsDamagedExtraction(t *testing.T) {
	src := t.TempDir()
	archivePath := filepath.Join(src, "p.zip")
	writeZip(t, archivePath, map[string]string{
		"plugin.json":    manifest,
		"main.lua":       `return { v = 1 }`,
		"lib/helper.lua": `return {}`,
	})

	tests := []struct {
		name   string
		damage func(t *testing.T, dir string)
	}{
		{"entry point removed", func(t *testing.T, dir string) {
			require.NoError(t, os.Remove(filepath.Join(dir, "main.lua")))
		}},
		{"nested directory removed", func(t *testing.T, dir string) {
			require.NoError(t, os.RemoveAll(filepath.Join(dir, "lib")))
		}},
		{"file truncated", func(t *testing.T, dir string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), nil, 0o600))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := archive.New(t.TempDir(), archive.WithLogger(quietLogger()))
			dir, ok := c.Extract(context.Background(), archivePath)
			require.True(t, ok)

			tt.damage(t, dir)

			dir, ok = c.Extract(context.Background(), archivePath)
			require.True(t, ok)
			got, err := os.ReadFile(filepath.Join(dir, "main.lua"))
			require.NoError(t, err)
			assert.Equal(t, `return { v = 1 }`, string(got))
			assert.FileExists(t, filepath.Join(dir, "lib", "helper.lua"))
		})
	}
}
