// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package archive extracts zipped plugin artifacts into a shared cache
// directory so they can be loaded like plugin directories.
package archive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zip"
	"github.com/samber/oops"
	"golang.org/x/crypto/blake2b"

	"github.com/holomush/plughost/internal/plugin"
)

// Extension is the file extension of plugin archives.
const Extension = ".zip"

// DefaultMemoSize bounds how many archive hashes the cache remembers.
const DefaultMemoSize = 256

// entry remembers which archive, at which content, was last extracted into
// a destination directory.
type entry struct {
	archive string
	digest  string
}

// Cache extracts archives into subdirectories of a root directory named after
// the archive without its extension. Archives with the same base name share a
// subdirectory; the last extraction wins.
type Cache struct {
	root   string
	logger *slog.Logger
	memo   *lru.Cache[string, entry]

	rootOnce sync.Once
	rootErr  error
}

// Option configures the Cache.
type Option func(*Cache)

// WithLogger sets the logger for extraction warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMemoSize sets how many archive hashes are remembered. Zero disables
// memoization so every Extract re-extracts.
func WithMemoSize(n int) Option {
	return func(c *Cache) {
		if n <= 0 {
			c.memo = nil
			return
		}
		c.memo, _ = lru.New[string, entry](n)
	}
}

// New creates a cache rooted at root. The directory is created on first use.
func New(root string, opts ...Option) *Cache {
	memo, _ := lru.New[string, entry](DefaultMemoSize)
	c := &Cache{
		root:   root,
		logger: slog.Default(),
		memo:   memo,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Extract extracts archivePath and returns the extracted directory. ok is
// false when the archive holds no manifest at its root or could not be
// extracted; extraction failures are logged, never returned.
func (c *Cache) Extract(ctx context.Context, archivePath string) (dir string, ok bool) {
	dir, err := c.extract(ctx, archivePath)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to extract plugin archive",
			"path", archivePath,
			"error", err)
		return "", false
	}
	if !hasManifest(dir) {
		c.logger.DebugContext(ctx, "archive has no manifest at its root",
			"path", archivePath,
			"dir", dir)
		return "", false
	}
	return dir, true
}

func (c *Cache) extract(ctx context.Context, archivePath string) (string, error) {
	errb := oops.In("archive").With("path", archivePath)

	if err := c.ensureRoot(); err != nil {
		return "", errb.Hint("failed to create cache root").Wrap(err)
	}

	name := strings.TrimSuffix(filepath.Base(archivePath), filepath.Ext(archivePath))
	dest := filepath.Join(c.root, name)

	digest, err := fileDigest(archivePath)
	if err != nil {
		return "", errb.Hint("failed to hash archive").Wrap(err)
	}

	if c.memo != nil {
		if prev, found := c.memo.Get(dest); found && prev.archive == archivePath && prev.digest == digest && intact(archivePath, dest) {
			return dest, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return "", errb.Wrap(err)
	}

	if err := os.RemoveAll(dest); err != nil {
		return "", errb.With("dest", dest).Hint("failed to clear previous extraction").Wrap(err)
	}
	if err := unzip(archivePath, dest); err != nil {
		return "", errb.With("dest", dest).Wrap(err)
	}

	if c.memo != nil {
		c.memo.Add(dest, entry{archive: archivePath, digest: digest})
	}
	return dest, nil
}

func (c *Cache) ensureRoot() error {
	c.rootOnce.Do(func() {
		if err := os.MkdirAll(c.root, 0o750); err != nil {
			c.rootErr = fmt.Errorf("create cache root %s: %w", c.root, err)
		}
	})
	return c.rootErr
}

func hasManifest(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, plugin.ManifestFile))
	return err == nil && info.Mode().IsRegular()
}

// intact reports whether every entry of the archive is present under dest,
// files with their uncompressed size. Extra files in dest are ignored.
func intact(archivePath, dest string) bool {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return false
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		name := filepath.FromSlash(f.Name)
		if !filepath.IsLocal(name) {
			return false
		}
		info, err := os.Stat(filepath.Join(dest, name))
		if err != nil {
			return false
		}
		if f.FileInfo().IsDir() {
			if !info.IsDir() {
				return false
			}
			continue
		}
		if !info.Mode().IsRegular() || uint64(info.Size()) != f.UncompressedSize64 { //nolint:gosec // file sizes are non-negative
			return false
		}
	}
	return hasManifest(dest)
}

// fileDigest returns the hex BLAKE2b-256 digest of a file's content.
func fileDigest(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err //nolint:wrapcheck // wrapped by caller
	}
	defer func() { _ = f.Close() }()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("init blake2b: %w", err)
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read archive: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// errUnsafePath is returned for archive entries that would land outside the
// destination directory.
var errUnsafePath = errors.New("archive entry escapes destination")

func unzip(archivePath, dest string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer func() { _ = r.Close() }()

	if err := os.MkdirAll(dest, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	for _, f := range r.File {
		if err := extractFile(f, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, dest string) error {
	name := filepath.FromSlash(f.Name)
	if !filepath.IsLocal(name) {
		return fmt.Errorf("%w: %s", errUnsafePath, f.Name)
	}
	target := filepath.Join(dest, name)

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", target, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer func() { _ = src.Close() }()

	// Keep the executable bit so binary entry points stay runnable.
	perm := os.FileMode(0o640)
	if f.Mode()&0o111 != 0 {
		perm = 0o750
	}

	out, err := os.OpenFile(filepath.Clean(target), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, src); err != nil { //nolint:gosec // plugin archives are trusted input
		_ = out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", target, err)
	}
	return nil
}
