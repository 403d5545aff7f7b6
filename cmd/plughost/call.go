// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewCallCmd creates the call subcommand.
func NewCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <plugin> <export> [args...]",
		Short: "Load plugins once and invoke an export",
		Long: `Run a single reload, then call an exported function of the named
plugin. Arguments that parse as JSON are passed as JSON values; anything
else is passed as a string. Each result is printed on its own line.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadOnce(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			name, export := args[0], args[1]
			lp, ok := s.host.Find(name)
			if !ok {
				return fmt.Errorf("plugin %q is not loaded", name)
			}

			results, err := lp.Instance.Call(cmd.Context(), export, parseArgs(args[2:])...)
			if err != nil {
				return fmt.Errorf("call %s.%s failed: %w", name, export, err)
			}
			return printResults(cmd.OutOrStdout(), results)
		},
	}
}

// parseArgs decodes each argument as JSON, falling back to the raw string.
func parseArgs(raw []string) []any {
	args := make([]any, 0, len(raw))
	for _, r := range raw {
		var v any
		if err := json.Unmarshal([]byte(r), &v); err != nil {
			v = r
		}
		args = append(args, v)
	}
	return args
}

func printResults(w io.Writer, results []any) error {
	for _, r := range results {
		if s, ok := r.(string); ok {
			_, _ = fmt.Fprintln(w, s)
			continue
		}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		_, _ = fmt.Fprintln(w, string(data))
	}
	return nil
}
