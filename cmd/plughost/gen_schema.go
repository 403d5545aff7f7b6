// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/holomush/plughost/internal/plugin"
	"github.com/holomush/plughost/internal/xdg"
)

// defaultSchemaPath is where gen-schema writes when no output is given.
var defaultSchemaPath = filepath.Join("schemas", "plugin.schema.json")

// NewGenSchemaCmd creates the gen-schema subcommand.
func NewGenSchemaCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "gen-schema",
		Short: "Generate the plugin manifest JSON Schema",
		Long:  `Write the JSON Schema for plugin.json files. Use "-" to print to stdout.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := plugin.GenerateSchema()
			if err != nil {
				return fmt.Errorf("failed to generate schema: %w", err)
			}

			if output == "-" {
				_, err := cmd.OutOrStdout().Write(append(schema, '\n'))
				return err //nolint:wrapcheck // stdout write failure needs no context
			}

			if err := xdg.EnsureDir(filepath.Dir(output)); err != nil {
				return err //nolint:wrapcheck // EnsureDir names the directory
			}
			if err := os.WriteFile(output, schema, 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}

			cmd.Printf("Generated %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", defaultSchemaPath, "output file path")

	return cmd
}
