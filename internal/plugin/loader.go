// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/holomush/plughost/internal/plugin"

// Loader resolves an artifact's entry point and loads it through the runtime
// registered for the entry point's extension.
type Loader struct {
	runtimes       map[string]Runtime
	defaultRuntime Runtime
	constraint     *semver.Constraints
	logger         *slog.Logger
	tracer         trace.Tracer
}

// LoaderOption configures the Loader.
type LoaderOption func(*Loader)

// WithRuntime registers rt for entry points with the given extension (".lua").
func WithRuntime(ext string, rt Runtime) LoaderOption {
	return func(l *Loader) {
		l.runtimes[strings.ToLower(ext)] = rt
	}
}

// WithDefaultRuntime sets the runtime for entry points no extension matches.
func WithDefaultRuntime(rt Runtime) LoaderOption {
	return func(l *Loader) {
		l.defaultRuntime = rt
	}
}

// WithVersionConstraint rejects plugins whose manifest version does not
// satisfy c.
func WithVersionConstraint(c *semver.Constraints) LoaderOption {
	return func(l *Loader) {
		l.constraint = c
	}
}

// WithLoaderLogger sets the logger.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithLoaderTracer sets the tracer used for load spans.
func WithLoaderTracer(t trace.Tracer) LoaderOption {
	return func(l *Loader) {
		l.tracer = t
	}
}

// NewLoader creates a loader. At least one runtime must be registered for
// anything to load.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		runtimes: make(map[string]Runtime),
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the manifest at artifactPath, loads a fresh module for its entry
// point and runs it through v. A nil v is treated as AcceptAll.
//
// The result is all-or-nothing: on any failure the module, if created, is
// closed and a *LoadError is returned.
func (l *Loader) Load(ctx context.Context, artifactPath string, v Validator) (*LoadedPlugin, error) {
	ctx, span := l.tracer.Start(ctx, "plugin.Load",
		trace.WithAttributes(attribute.String("plugin.path", artifactPath)))
	defer span.End()

	lp, err := l.load(ctx, artifactPath, v)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("plugin.name", lp.Manifest.Name),
		attribute.String("plugin.generation", lp.Instance.Generation().String()),
	)
	return lp, nil
}

func (l *Loader) load(ctx context.Context, artifactPath string, v Validator) (*LoadedPlugin, error) {
	if v == nil {
		v = AcceptAll
	}

	manifest, err := ReadManifest(artifactPath)
	if err != nil {
		return nil, &LoadError{Kind: InvalidManifest, Path: artifactPath, Err: err}
	}

	if err := l.checkVersion(manifest); err != nil {
		return nil, &LoadError{Kind: ValidationFailed, Plugin: manifest.Name, Path: artifactPath, Err: err}
	}

	entry := filepath.Join(artifactPath, manifest.EntryPoint)

	rt := l.runtimeFor(entry)
	if rt == nil {
		return nil, &LoadError{
			Kind:   ImportFailed,
			Plugin: manifest.Name,
			Path:   artifactPath,
			Err:    fmt.Errorf("no runtime for entry point %q", manifest.EntryPoint),
		}
	}

	gen := NewGeneration()
	mod, err := rt.LoadFresh(ctx, entry, gen)
	if err != nil {
		return nil, &LoadError{Kind: ImportFailed, Plugin: manifest.Name, Path: artifactPath, Err: err}
	}

	if err := validate(v, mod); err != nil {
		closeModule(l.logger, manifest.Name, mod)
		return nil, &LoadError{Kind: ValidationFailed, Plugin: manifest.Name, Path: artifactPath, Err: err}
	}

	l.logger.DebugContext(ctx, "plugin module loaded",
		"plugin", manifest.Name,
		"version", manifest.Version,
		"generation", gen.String(),
		"entry", entry)

	return &LoadedPlugin{Manifest: manifest, Instance: mod, Path: artifactPath, Generation: gen}, nil
}

// validate applies v to mod. A panicking validator counts as a rejection so
// one plugin cannot abort the rest of a reload.
func validate(v Validator, mod Module) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator panicked: %v", r)
		}
	}()
	if !v.Validate(mod) {
		return errors.New("rejected by validator")
	}
	return nil
}

func (l *Loader) checkVersion(m *Manifest) error {
	if l.constraint == nil {
		return nil
	}
	ver, err := semver.NewVersion(m.Version)
	if err != nil {
		return fmt.Errorf("version %q is not semantic: %w", m.Version, err)
	}
	if !l.constraint.Check(ver) {
		return fmt.Errorf("version %s does not satisfy %s", ver, l.constraint)
	}
	return nil
}

func (l *Loader) runtimeFor(entry string) Runtime {
	if rt, ok := l.runtimes[strings.ToLower(filepath.Ext(entry))]; ok {
		return rt
	}
	return l.defaultRuntime
}

func closeModule(logger *slog.Logger, name string, mod Module) {
	if err := mod.Close(); err != nil {
		logger.Warn("failed to close plugin module",
			"plugin", name,
			"error", err)
	}
}
