// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package scanner discovers plugin artifacts under a root directory.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/plughost/internal/plugin"
	"github.com/holomush/plughost/internal/plugin/archive"
)

// Extractor resolves an archive to an extracted plugin directory.
type Extractor interface {
	Extract(ctx context.Context, archivePath string) (dir string, ok bool)
}

// Scanner finds plugin directories and archives directly under a root.
type Scanner struct {
	extractor Extractor
	ignore    []glob.Glob
	logger    *slog.Logger
}

// Option configures the Scanner.
type Option func(*Scanner)

// WithIgnore skips entries whose base name matches any compiled pattern.
func WithIgnore(patterns ...glob.Glob) Option {
	return func(s *Scanner) {
		s.ignore = append(s.ignore, patterns...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// New creates a scanner that hands archives to extractor.
// Panics if extractor is nil.
func New(extractor Extractor, opts ...Option) *Scanner {
	if extractor == nil {
		panic("scanner: extractor cannot be nil")
	}
	s := &Scanner{
		extractor: extractor,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CompileIgnore compiles glob patterns for WithIgnore.
func CompileIgnore(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Scan returns the absolute paths of every plugin directory under root:
// subdirectories holding a readable manifest plus archives that extract to
// one. Order is unspecified.
//
// A missing root yields an error wrapping plugin.ErrRootNotFound. Any other
// error reading root is returned unchanged.
func (s *Scanner) Scan(ctx context.Context, root string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, oops.In("scanner").With("root", root).Wrap(err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, oops.In("scanner").Code("ROOT_NOT_FOUND").With("root", abs).
				Wrapf(plugin.ErrRootNotFound, "%s", abs)
		}
		return nil, err //nolint:wrapcheck // filesystem errors propagate unchanged
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("plugin root %s is not a directory", abs)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err //nolint:wrapcheck // filesystem errors propagate unchanged
	}
	entries = s.filter(entries)

	var (
		mu    sync.Mutex
		found []string
	)
	collect := func(paths []string) {
		mu.Lock()
		found = append(found, paths...)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		paths, err := s.scanDirectories(gctx, abs, entries)
		collect(paths)
		return err
	})
	g.Go(func() error {
		paths, err := s.scanZipFiles(gctx, abs, entries)
		collect(paths)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err //nolint:wrapcheck // context errors propagate unchanged
	}

	return found, nil
}

func (s *Scanner) filter(entries []os.DirEntry) []os.DirEntry {
	kept := entries[:0:0]
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || s.ignored(e.Name()) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func (s *Scanner) ignored(name string) bool {
	for _, g := range s.ignore {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// scanDirectories keeps subdirectories with a manifest the process can read.
// Directories without one are not plugins and are skipped silently.
func (s *Scanner) scanDirectories(ctx context.Context, root string, entries []os.DirEntry) ([]string, error) {
	var dirs []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return dirs, err //nolint:wrapcheck // context errors propagate unchanged
		}
		if !isDir(root, e) {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if !manifestReadable(dir) {
			s.logger.DebugContext(ctx, "skipping directory without manifest", "dir", dir)
			continue
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}

// scanZipFiles extracts archive files and keeps those that hold a manifest.
func (s *Scanner) scanZipFiles(ctx context.Context, root string, entries []os.DirEntry) ([]string, error) {
	var dirs []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return dirs, err //nolint:wrapcheck // context errors propagate unchanged
		}
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), archive.Extension) {
			continue
		}
		if dir, ok := s.extractor.Extract(ctx, filepath.Join(root, e.Name())); ok {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

// isDir reports whether e is a directory, following symlinks.
func isDir(root string, e os.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(root, e.Name()))
	return err == nil && info.IsDir()
}

func manifestReadable(dir string) bool {
	f, err := os.Open(filepath.Join(dir, plugin.ManifestFile))
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	return err == nil && info.Mode().IsRegular()
}
