// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package plugin provides plugin manifests, the module surface shared by all
// runtimes, and the loader that turns an artifact directory into a live plugin.
package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ManifestFile is the descriptor every plugin artifact carries at its root.
const ManifestFile = "plugin.json"

// Manifest represents a plugin.json file.
type Manifest struct {
	Name       string         `json:"name" jsonschema:"minLength=1,description=Unique plugin name"`
	Version    string         `json:"version" jsonschema:"minLength=1,description=Plugin version"`
	EntryPoint string         `json:"entryPoint" jsonschema:"minLength=1,description=Entry point path relative to the plugin directory"`
	Meta       map[string]any `json:"meta,omitempty" jsonschema:"description=Free-form plugin metadata"`
}

// ReasonUnreadable is the ManifestError reason for a manifest that exists but
// cannot be read.
const ReasonUnreadable = "unreadable"

// ReadManifest reads and validates the manifest at the root of artifactPath.
// It never inspects the entry point. An absent manifest and an unreadable one
// are both ManifestNotFound; only the latter has Reason ReasonUnreadable.
func ReadManifest(artifactPath string) (*Manifest, error) {
	path := filepath.Join(artifactPath, ManifestFile)

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ManifestError{Kind: ManifestNotFound, Path: path}
		}
		return nil, &ManifestError{Kind: ManifestNotFound, Path: path, Reason: ReasonUnreadable, Err: err}
	}

	m, err := ParseManifest(data)
	if err != nil {
		var me *ManifestError
		if errors.As(err, &me) {
			me.Path = path
		}
		return nil, err
	}
	return m, nil
}

// ParseManifest parses and validates manifest bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, &ManifestError{Kind: MalformedContent, Reason: "manifest data is empty"}
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ManifestError{Kind: MalformedContent, Reason: "invalid JSON", Err: err}
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, &ManifestError{Kind: MalformedContent, Reason: fmt.Sprintf("manifest must be a JSON object, got %s", jsonKind(raw))}
	}

	m := &Manifest{}
	var err error
	if m.Name, err = requiredString(obj, "name"); err != nil {
		return nil, err
	}
	if m.Version, err = requiredString(obj, "version"); err != nil {
		return nil, err
	}
	if m.EntryPoint, err = requiredString(obj, "entryPoint"); err != nil {
		return nil, err
	}
	if filepath.IsAbs(m.EntryPoint) || !filepath.IsLocal(m.EntryPoint) {
		return nil, schemaViolation("entryPoint", "must be a relative path inside the plugin directory, got %q", m.EntryPoint)
	}

	if v, present := obj["meta"]; present && v != nil {
		meta, ok := v.(map[string]any)
		if !ok {
			return nil, schemaViolation("meta", "must be an object, got %s", jsonKind(v))
		}
		m.Meta = meta
	}

	return m, nil
}

func requiredString(obj map[string]any, field string) (string, error) {
	v, present := obj[field]
	if !present || v == nil {
		return "", schemaViolation(field, "is required")
	}
	s, ok := v.(string)
	if !ok {
		return "", schemaViolation(field, "must be a string, got %s", jsonKind(v))
	}
	if s == "" {
		return "", schemaViolation(field, "must not be empty")
	}
	return s, nil
}

func schemaViolation(field, format string, args ...any) *ManifestError {
	return &ManifestError{
		Kind:   SchemaViolation,
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}

// jsonKind names the JSON type of a value decoded by encoding/json.
func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
