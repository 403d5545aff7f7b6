// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package main implements an echo plugin for plughost.
// It runs as a child process of the host and answers over net/rpc.
//
// Build next to its manifest:
//
//	go build -o plugins/echo/echo ./plugins/echo
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/holomush/plughost/pkg/pluginsdk"
)

func echo(_ context.Context, args []any) ([]any, error) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	return []any{"Echo: " + strings.Join(parts, " ")}, nil
}

func main() {
	pluginsdk.Serve(pluginsdk.Exports{
		"echo":       pluginsdk.Func(echo),
		"generation": pluginsdk.Generation(),
	})
}
