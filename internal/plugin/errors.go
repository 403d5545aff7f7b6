// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic error checking with errors.Is.
var (
	// ErrRootNotFound is returned when the plugin root directory does not exist.
	ErrRootNotFound = errors.New("plugin root not found")

	// ErrManifestNotFound, ErrMalformedManifest and ErrSchemaViolation classify
	// a *ManifestError.
	ErrManifestNotFound  = errors.New("manifest not found")
	ErrMalformedManifest = errors.New("malformed manifest")
	ErrSchemaViolation   = errors.New("manifest schema violation")

	// ErrInvalidManifest, ErrImportFailed and ErrValidationFailed classify a
	// *LoadError.
	ErrInvalidManifest  = errors.New("invalid manifest")
	ErrImportFailed     = errors.New("import failed")
	ErrValidationFailed = errors.New("validation failed")
)

// ManifestErrorKind classifies a manifest failure.
type ManifestErrorKind int

// Manifest failure kinds. ManifestNotFound also covers a manifest that exists
// but cannot be read (permission denied, a directory named plugin.json); those
// carry Reason "unreadable" and the filesystem error in Err.
const (
	ManifestNotFound ManifestErrorKind = iota + 1
	MalformedContent
	SchemaViolation
)

func (k ManifestErrorKind) String() string {
	switch k {
	case ManifestNotFound:
		return "not_found"
	case MalformedContent:
		return "malformed_content"
	case SchemaViolation:
		return "schema_violation"
	default:
		return "unknown"
	}
}

func (k ManifestErrorKind) sentinel() error {
	switch k {
	case ManifestNotFound:
		return ErrManifestNotFound
	case MalformedContent:
		return ErrMalformedManifest
	case SchemaViolation:
		return ErrSchemaViolation
	default:
		return nil
	}
}

// ManifestError is returned by ReadManifest and ParseManifest.
type ManifestError struct {
	Kind ManifestErrorKind
	// Path is the manifest file path, empty when parsing raw bytes.
	Path string
	// Field names the offending field for SchemaViolation.
	Field string
	// Reason is a human-readable description of the failure.
	Reason string
	// Err is the underlying cause, if any.
	Err error
}

func (e *ManifestError) Error() string {
	msg := "manifest error"
	if s := e.Kind.sentinel(); s != nil {
		msg = s.Error()
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Field != "" {
		msg += fmt.Sprintf(": field %q", e.Field)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ManifestError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *ManifestError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// LoadErrorKind classifies a load failure.
type LoadErrorKind int

// Load failure kinds.
const (
	InvalidManifest LoadErrorKind = iota + 1
	ImportFailed
	ValidationFailed
)

func (k LoadErrorKind) String() string {
	switch k {
	case InvalidManifest:
		return "invalid_manifest"
	case ImportFailed:
		return "import_failed"
	case ValidationFailed:
		return "validation_failed"
	default:
		return "unknown"
	}
}

func (k LoadErrorKind) sentinel() error {
	switch k {
	case InvalidManifest:
		return ErrInvalidManifest
	case ImportFailed:
		return ErrImportFailed
	case ValidationFailed:
		return ErrValidationFailed
	default:
		return nil
	}
}

// LoadError is returned by Loader.Load. It names the plugin (when the
// manifest was readable) and the artifact path for diagnostics.
type LoadError struct {
	Kind   LoadErrorKind
	Plugin string
	Path   string
	Err    error
}

func (e *LoadError) Error() string {
	msg := "load error"
	if s := e.Kind.sentinel(); s != nil {
		msg = s.Error()
	}
	if e.Plugin != "" {
		msg += fmt.Sprintf(" for plugin %q", e.Plugin)
	}
	if e.Path != "" {
		msg += " at " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *LoadError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *LoadError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// ErrModuleClosed is returned by Module.Call after the module was closed,
// which happens when a later reload replaced it.
var ErrModuleClosed = errors.New("plugin module closed")

// ErrNotExported is returned by Module.Call for a name the module does not
// export as a function.
var ErrNotExported = errors.New("function not exported")
