// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"crypto/rand"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generation identifies one load of an entry point. Every load gets a new
// generation, so two loads of unchanged code still yield independent modules.
type Generation = ulid.ULID

var (
	genMu      sync.Mutex
	genEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewGeneration returns a generation strictly greater than every generation
// previously minted in this process.
func NewGeneration() Generation {
	genMu.Lock()
	defer genMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), genEntropy)
}

// Module is the public surface a loaded entry point exposes to the host.
type Module interface {
	// Exports lists the exported names, sorted.
	Exports() []string
	// Value returns an exported non-callable value converted to Go types.
	Value(name string) (any, bool)
	// Call invokes an exported function.
	Call(ctx context.Context, name string, args ...any) ([]any, error)
	// Generation reports the load this module came from.
	Generation() Generation
	// Close releases the module's runtime resources.
	Close() error
}

// Runtime loads entry points. LoadFresh must build a new module from the
// current on-disk content on every call; gen is distinct per call.
type Runtime interface {
	LoadFresh(ctx context.Context, entryPath string, gen Generation) (Module, error)
}

// Validator decides whether a loaded module is an acceptable plugin.
type Validator interface {
	Validate(candidate Module) bool
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(candidate Module) bool

// Validate implements Validator.
func (f ValidatorFunc) Validate(candidate Module) bool { return f(candidate) }

type acceptAll struct{}

func (acceptAll) Validate(Module) bool { return true }

// AcceptAll is the validator used when none is configured.
var AcceptAll Validator = acceptAll{}

// RequireExports accepts modules exporting every given name.
func RequireExports(names ...string) Validator {
	return ValidatorFunc(func(candidate Module) bool {
		exports := candidate.Exports()
		for _, n := range names {
			if !slices.Contains(exports, n) {
				return false
			}
		}
		return true
	})
}

// LoadedPlugin is a validated module bound to its manifest.
type LoadedPlugin struct {
	Manifest *Manifest
	Instance Module
	// Path is the artifact directory the plugin was loaded from.
	Path string
	// Generation is the load that produced Instance.
	Generation Generation
}
