// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pluginhost

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/plughost/internal/plugin"
)

// Watch defaults.
const (
	DefaultDebounce   = 250 * time.Millisecond
	DefaultRetryBase  = 500 * time.Millisecond
	DefaultMaxRetries = 5
)

// WatchOptions configures Watch.
type WatchOptions struct {
	// Debounce is how long the filesystem must stay quiet before a reload.
	Debounce time.Duration
	// RetryBase is the first backoff when the plugin root is missing.
	RetryBase time.Duration
	// MaxRetries bounds retries of a reload that failed with a missing root.
	MaxRetries uint64
	Logger     *slog.Logger
	// OnReload, if set, is called after every reload attempt.
	OnReload func(err error)
}

func (o *WatchOptions) setDefaults() {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.RetryBase <= 0 {
		o.RetryBase = DefaultRetryBase
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watch reloads h whenever its plugin sources change on disk, until ctx is
// done. In folder mode the root and every directory below it are watched;
// in single-path mode the plugin directory tree, or the archive file.
//
// A burst of events yields one reload once the burst has been quiet for
// Debounce. Reloads failing with plugin.ErrRootNotFound are retried with
// exponential backoff. Watch returns nil when ctx is done.
func Watch(ctx context.Context, h *Host, opts WatchOptions) error {
	opts.setDefaults()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.In("pluginhost").Hint("failed to create filesystem watcher").Wrap(err)
	}
	defer func() { _ = fw.Close() }()

	w := &watcher{
		host:    h,
		fw:      fw,
		opts:    opts,
		watched: make(map[string]struct{}),
	}
	w.sync(ctx)

	debounce := time.NewTimer(opts.Debounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			opts.Logger.DebugContext(ctx, "plugin source changed", "path", ev.Name, "op", ev.Op.String())
			debounce.Reset(opts.Debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			opts.Logger.WarnContext(ctx, "filesystem watcher error", "error", err)

		case <-debounce.C:
			err := w.reload(ctx)
			if ctx.Err() != nil {
				return nil
			}
			if opts.OnReload != nil {
				opts.OnReload(err)
			}
			w.sync(ctx)
		}
	}
}

type watcher struct {
	host    *Host
	fw      *fsnotify.Watcher
	opts    WatchOptions
	watched map[string]struct{}
	// parentOf maps a directory watched only for one of its children to
	// that child.
	parentOf map[string]string
}

// reload runs Reload, retrying while the root is missing.
func (w *watcher) reload(ctx context.Context) error {
	backoff := retry.WithMaxRetries(w.opts.MaxRetries, retry.NewExponential(w.opts.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := w.host.Reload(ctx)
		if errors.Is(err, plugin.ErrRootNotFound) {
			w.opts.Logger.WarnContext(ctx, "plugin root missing, retrying reload", "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		w.opts.Logger.ErrorContext(ctx, "watched reload failed", "error", err)
	}
	return err //nolint:wrapcheck // reload errors keep their classification
}

// sync brings the watch list in line with what currently exists on disk.
func (w *watcher) sync(ctx context.Context) {
	want := w.targets()
	for path := range w.watched {
		if _, ok := want[path]; !ok {
			_ = w.fw.Remove(path)
			delete(w.watched, path)
		}
	}
	for path := range want {
		if _, ok := w.watched[path]; ok {
			continue
		}
		if err := w.fw.Add(path); err != nil {
			w.opts.Logger.DebugContext(ctx, "cannot watch path", "path", path, "error", err)
			continue
		}
		w.watched[path] = struct{}{}
	}
}

func (w *watcher) targets() map[string]struct{} {
	want := make(map[string]struct{})
	w.parentOf = make(map[string]string)

	switch m := w.host.Mode().(type) {
	case FolderMode:
		root, err := filepath.Abs(m.RootPath)
		if err != nil {
			return want
		}
		// The parent is watched so a root created later triggers a reload.
		want[filepath.Dir(root)] = struct{}{}
		w.parentOf[filepath.Dir(root)] = root

		entries, err := os.ReadDir(root)
		if err != nil {
			return want
		}
		want[root] = struct{}{}
		for _, e := range entries {
			if e.IsDir() && !hidden(e.Name()) {
				addTree(want, filepath.Join(root, e.Name()))
			}
		}
	case SinglePathMode:
		path, err := filepath.Abs(m.PluginPath)
		if err != nil {
			return want
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			addTree(want, path)
			return want
		}
		// Archives are replaced rather than edited, so watch the directory.
		want[filepath.Dir(path)] = struct{}{}
		w.parentOf[filepath.Dir(path)] = path
	}
	return want
}

// addTree adds dir and every non-hidden directory below it. fsnotify does
// not recurse, so nested module directories need their own watches.
func addTree(want map[string]struct{}, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && hidden(d.Name()) {
			return fs.SkipDir
		}
		want[path] = struct{}{}
		return nil
	})
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// relevant reports whether ev can change what a reload would produce.
func (w *watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Clean(ev.Name)
	if child, ok := w.parentOf[filepath.Dir(name)]; ok {
		return name == child
	}
	return true
}
