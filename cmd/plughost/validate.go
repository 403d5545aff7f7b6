// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/holomush/plughost/internal/plugin"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate a plugin manifest against the manifest schema",
		Long: `Validate a plugin.json file, or the plugin.json inside a plugin
directory, against the manifest JSON Schema. No plugin code is run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, path, err := validateManifest(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("%s: ok (%s %s)\n", path, m.Name, m.Version)
			return nil
		},
	}
}

// validateManifest checks the manifest at path, which may name the manifest
// itself or a directory holding one.
func validateManifest(path string) (*plugin.Manifest, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, path, fmt.Errorf("cannot access %s: %w", path, err)
	}
	if info.IsDir() {
		path = filepath.Join(path, plugin.ManifestFile)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, path, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := plugin.ValidateSchema(data); err != nil {
		return nil, path, fmt.Errorf("%s: %s", path, plugin.FormatSchemaError(err))
	}

	m, err := plugin.ParseManifest(data)
	if err != nil {
		return nil, path, fmt.Errorf("%s: %w", path, err)
	}
	return m, path, nil
}
