// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package pluginhost ties discovery, extraction and loading together into a
// registry of live plugins that can be rebuilt at runtime.
package pluginhost

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-hclog"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/plughost/internal/logging"
	"github.com/holomush/plughost/internal/plugin"
	"github.com/holomush/plughost/internal/plugin/archive"
	"github.com/holomush/plughost/internal/plugin/goplugin"
	"github.com/holomush/plughost/internal/plugin/lua"
	"github.com/holomush/plughost/internal/plugin/scanner"
	"github.com/holomush/plughost/pkg/errutil"
)

const tracerName = "github.com/holomush/plughost/internal/pluginhost"

// Host errors.
var (
	// ErrReloadInProgress is returned by TryReload while another reload runs.
	ErrReloadInProgress = errors.New("reload in progress")
	// ErrHostClosed is returned by reloads after Close.
	ErrHostClosed = errors.New("plugin host closed")
)

// Loader turns an artifact directory into a validated plugin.
type Loader interface {
	Load(ctx context.Context, artifactPath string, v plugin.Validator) (*plugin.LoadedPlugin, error)
}

// Scanner lists plugin directories under a root.
type Scanner interface {
	Scan(ctx context.Context, root string) ([]string, error)
}

// Host owns the plugin registry. Reads are safe from any goroutine; reloads
// are serialized.
type Host struct {
	mode      Mode
	validator plugin.Validator

	loader    Loader
	scanner   Scanner
	extractor scanner.Extractor

	logger       *slog.Logger
	binaryLogger hclog.Logger
	metrics      *Metrics
	tracer       trace.Tracer

	// reloadMu serializes Reload, TryReload and Close.
	reloadMu sync.Mutex

	mu       sync.RWMutex
	registry map[string]*plugin.LoadedPlugin
	ready    bool
	closed   bool
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger used by the host and its default components.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		h.logger = logger
	}
}

// WithBinaryLogger sets the logger go-plugin uses for binary plugin
// processes started by the default loader.
func WithBinaryLogger(logger hclog.Logger) Option {
	return func(h *Host) {
		h.binaryLogger = logger
	}
}

// WithMetrics records reload outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(h *Host) {
		h.metrics = m
	}
}

// WithTracer sets the tracer used for reload spans.
func WithTracer(t trace.Tracer) Option {
	return func(h *Host) {
		h.tracer = t
	}
}

// WithLoader replaces the default loader.
func WithLoader(l Loader) Option {
	return func(h *Host) {
		h.loader = l
	}
}

// WithScanner replaces the default scanner.
func WithScanner(s Scanner) Option {
	return func(h *Host) {
		h.scanner = s
	}
}

// WithExtractor replaces the default archive cache.
func WithExtractor(e scanner.Extractor) Option {
	return func(h *Host) {
		h.extractor = e
	}
}

// New creates a host for cfg. The registry starts empty; call Reload to
// populate it.
//
// Unless replaced by options, the host loads ".lua" entry points in fresh
// Lua states, sandboxed when cfg.LuaSandbox is set, and any other entry point
// as a go-plugin executable.
func New(cfg Config, opts ...Option) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, oops.In("pluginhost").Code("INVALID_CONFIG").Wrapf(err, "invalid host configuration")
	}

	h := &Host{
		mode:      cfg.Mode,
		validator: cfg.Validator,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		registry:  make(map[string]*plugin.LoadedPlugin),
	}
	if h.validator == nil {
		h.validator = plugin.AcceptAll
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.extractor == nil {
		h.extractor = archive.New(cfg.CacheRoot, archive.WithLogger(h.logger))
	}
	if h.scanner == nil {
		ignore, err := scanner.CompileIgnore(cfg.Ignore)
		if err != nil {
			return nil, oops.In("pluginhost").Wrap(err)
		}
		h.scanner = scanner.New(h.extractor, scanner.WithIgnore(ignore...), scanner.WithLogger(h.logger))
	}
	if h.loader == nil {
		states := lua.NewStateFactory()
		if cfg.LuaSandbox {
			states = lua.NewSandboxStateFactory()
		}
		loaderOpts := []plugin.LoaderOption{
			plugin.WithRuntime(".lua", lua.NewRuntime(states)),
			plugin.WithDefaultRuntime(goplugin.NewRuntime(h.binaryLogger)),
			plugin.WithLoaderLogger(h.logger),
		}
		if cfg.VersionConstraint != "" {
			c, err := semver.NewConstraint(cfg.VersionConstraint)
			if err != nil {
				return nil, oops.In("pluginhost").Wrap(err)
			}
			loaderOpts = append(loaderOpts, plugin.WithVersionConstraint(c))
		}
		h.loader = plugin.NewLoader(loaderOpts...)
	}

	return h, nil
}

// Mode returns the mode the host was created with.
func (h *Host) Mode() Mode {
	return h.mode
}

// Reload rebuilds the registry from a fresh discovery pass. A call made while
// another reload runs waits for it to finish.
//
// Artifacts that fail to load are logged with their path and excluded. Only
// discovery failures escape: a missing root (wrapping plugin.ErrRootNotFound)
// or an unreadable one. The previous registry is kept in that case, and
// likewise when ctx is canceled mid-reload.
func (h *Host) Reload(ctx context.Context) error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	return h.reload(ctx)
}

// TryReload is Reload but returns ErrReloadInProgress instead of waiting.
func (h *Host) TryReload(ctx context.Context) error {
	if !h.reloadMu.TryLock() {
		return ErrReloadInProgress
	}
	defer h.reloadMu.Unlock()
	return h.reload(ctx)
}

func (h *Host) reload(ctx context.Context) error {
	if h.isClosed() {
		return ErrHostClosed
	}

	started := time.Now()
	reloadID := ulid.Make().String()
	ctx, span := h.tracer.Start(ctx, "pluginhost.Reload",
		trace.WithAttributes(
			attribute.String("plughost.mode", modeName(h.mode)),
			attribute.String("plughost.reload_id", reloadID),
		))
	defer span.End()
	ctx = logging.WithAttrs(ctx, slog.String("reload_id", reloadID))

	paths, err := h.discover(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		h.metrics.observeReload(statusFailed, started)
		errutil.LogErrorContext(ctx, h.logger, "plugin discovery failed", err)
		return err
	}

	next, err := h.loadAll(ctx, paths)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reload canceled")
		h.metrics.observeReload(statusCanceled, started)
		return err
	}

	h.mu.Lock()
	prev := h.registry
	h.registry = next
	h.ready = true
	h.mu.Unlock()

	h.closeAll(ctx, prev)

	span.SetAttributes(
		attribute.Int("plughost.discovered", len(paths)),
		attribute.Int("plughost.loaded", len(next)),
	)
	h.metrics.setLoaded(len(next))
	h.metrics.observeReload(statusOK, started)
	h.logger.InfoContext(ctx, "plugin registry reloaded",
		"discovered", len(paths),
		"loaded", len(next),
		"duration", time.Since(started))
	return nil
}

// discover returns the artifact directories to load for this reload.
func (h *Host) discover(ctx context.Context) ([]string, error) {
	switch m := h.mode.(type) {
	case FolderMode:
		paths, err := h.scanner.Scan(ctx, m.RootPath)
		if err != nil {
			return nil, err //nolint:wrapcheck // discovery errors keep their scanner classification
		}
		return paths, nil
	case SinglePathMode:
		path, err := filepath.Abs(m.PluginPath)
		if err != nil {
			return nil, oops.In("pluginhost").With("path", m.PluginPath).Wrap(err)
		}
		if !isArchive(path) {
			return []string{path}, nil
		}
		dir, ok := h.extractor.Extract(ctx, path)
		if !ok {
			h.excluded(ctx, path, reasonExtraction, errors.New("archive holds no plugin"))
			return nil, nil
		}
		return []string{dir}, nil
	default:
		return nil, oops.In("pluginhost").Errorf("unsupported mode %T", m)
	}
}

// loadAll loads every path. It fails only when ctx is done, closing what it
// loaded so far.
func (h *Host) loadAll(ctx context.Context, paths []string) (map[string]*plugin.LoadedPlugin, error) {
	next := make(map[string]*plugin.LoadedPlugin, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			h.closeAll(ctx, next)
			return nil, err //nolint:wrapcheck // context errors propagate unchanged
		}

		lp, err := h.loader.Load(ctx, path, h.validator)
		if err != nil {
			reason := "unknown"
			var le *plugin.LoadError
			if errors.As(err, &le) {
				reason = le.Kind.String()
			}
			h.excluded(ctx, path, reason, err)
			continue
		}

		name := lp.Manifest.Name
		if dup, ok := next[name]; ok {
			h.logger.WarnContext(ctx, "duplicate plugin name, keeping the later artifact",
				"plugin", name,
				"path", path,
				"replaced", dup.Path)
			h.closePlugin(ctx, dup)
		}
		next[name] = lp
	}
	return next, nil
}

func (h *Host) excluded(ctx context.Context, path, reason string, err error) {
	h.metrics.loadFailed(reason)
	h.logger.WarnContext(ctx, "plugin excluded from registry",
		"path", path,
		"reason", reason,
		"error", err)
}

// GetAll returns the current plugins sorted by name. The slice is a copy;
// later reloads do not change it.
func (h *Host) GetAll() []*plugin.LoadedPlugin {
	h.mu.RLock()
	defer h.mu.RUnlock()

	all := make([]*plugin.LoadedPlugin, 0, len(h.registry))
	for _, lp := range h.registry {
		all = append(all, lp)
	}
	slices.SortFunc(all, func(a, b *plugin.LoadedPlugin) int {
		return strings.Compare(a.Manifest.Name, b.Manifest.Name)
	})
	return all
}

// Find returns the plugin registered under name.
func (h *Host) Find(name string) (*plugin.LoadedPlugin, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	lp, ok := h.registry[name]
	return lp, ok
}

// Ready reports whether a reload has completed and the host is not closed.
func (h *Host) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready && !h.closed
}

// Close releases every loaded plugin. Later reloads return ErrHostClosed.
// Close waits for a running reload and is idempotent.
func (h *Host) Close(ctx context.Context) error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	prev := h.registry
	h.registry = make(map[string]*plugin.LoadedPlugin)
	h.mu.Unlock()

	h.metrics.setLoaded(0)

	var errs []error
	for _, lp := range prev {
		if err := lp.Instance.Close(); err != nil {
			errs = append(errs, oops.In("pluginhost").With("plugin", lp.Manifest.Name).Wrap(err))
		}
	}
	h.logger.InfoContext(ctx, "plugin host closed", "plugins", len(prev))
	return errors.Join(errs...)
}

func (h *Host) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

func (h *Host) closeAll(ctx context.Context, registry map[string]*plugin.LoadedPlugin) {
	for _, lp := range registry {
		h.closePlugin(ctx, lp)
	}
}

func (h *Host) closePlugin(ctx context.Context, lp *plugin.LoadedPlugin) {
	if err := lp.Instance.Close(); err != nil {
		h.logger.WarnContext(ctx, "failed to close plugin instance",
			"plugin", lp.Manifest.Name,
			"path", lp.Path,
			"error", err)
	}
}

func isArchive(path string) bool {
	if !strings.EqualFold(filepath.Ext(path), archive.Extension) {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func modeName(m Mode) string {
	switch m.(type) {
	case FolderMode:
		return "folder"
	case SinglePathMode:
		return "single"
	default:
		return "unknown"
	}
}
