// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/plughost/internal/plugin"
)

// Output formats accepted by list.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// pluginRow is one registry entry as printed by list.
type pluginRow struct {
	Name       string         `json:"name" yaml:"name"`
	Version    string         `json:"version" yaml:"version"`
	EntryPoint string         `json:"entryPoint" yaml:"entryPoint"`
	Path       string         `json:"path" yaml:"path"`
	Generation string         `json:"generation" yaml:"generation"`
	Exports    []string       `json:"exports" yaml:"exports"`
	Meta       map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// NewListCmd creates the list subcommand.
func NewListCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Load plugins once and print the registry",
		Long: `Run a single reload against the configured root or plugin path and
print every plugin that loaded. Excluded artifacts are reported as
warnings on stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			s, err := loadOnce(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			return printPlugins(cmd.OutOrStdout(), output, rows(s.host.GetAll()))
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format (table, json or yaml)")

	return cmd
}

func checkOutput(output string) error {
	switch output {
	case outputTable, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("output must be 'table', 'json' or 'yaml', got %q", output)
	}
}

func rows(plugins []*plugin.LoadedPlugin) []pluginRow {
	out := make([]pluginRow, 0, len(plugins))
	for _, lp := range plugins {
		out = append(out, pluginRow{
			Name:       lp.Manifest.Name,
			Version:    lp.Manifest.Version,
			EntryPoint: lp.Manifest.EntryPoint,
			Path:       lp.Path,
			Generation: lp.Generation.String(),
			Exports:    lp.Instance.Exports(),
			Meta:       lp.Manifest.Meta,
		})
	}
	return out
}

func printPlugins(w io.Writer, output string, plugins []pluginRow) error {
	switch output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(plugins); err != nil {
			return fmt.Errorf("failed to encode plugins: %w", err)
		}
		return nil
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(plugins); err != nil {
			return fmt.Errorf("failed to encode plugins: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode plugins: %w", err)
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tVERSION\tENTRY POINT\tPATH")
	for _, p := range plugins {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Version, p.EntryPoint, p.Path)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write plugins: %w", err)
	}
	return nil
}
