// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCommand_StopsOnContextCancel(t *testing.T) {
	root := t.TempDir()
	writeLuaPlugin(t, root, "alpha", `return {}`)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	stdout, stderr, err := execute(t, ctx, "serve",
		"--root", root, "--cache-root", t.TempDir(), "--metrics-addr", "")
	require.NoError(t, err)
	assert.Contains(t, stdout, "plughost serving 1 plugins")
	assert.Contains(t, stderr, "shutting down")
}

func TestServeCommand_WithObservabilityAndWatch(t *testing.T) {
	root := t.TempDir()
	writeLuaPlugin(t, root, "alpha", `return {}`)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, stderr, err := execute(t, ctx, "serve",
		"--root", root, "--cache-root", t.TempDir(),
		"--metrics-addr", "127.0.0.1:0", "--watch", "--debounce", "20ms")
	require.NoError(t, err)
	assert.Contains(t, stderr, "plugin registry reloaded")
}

func TestServeCommand_MissingRootStillServes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	stdout, stderr, err := execute(t, ctx, "serve",
		"--root", filepath.Join(t.TempDir(), "later"), "--cache-root", t.TempDir(), "--metrics-addr", "")
	require.NoError(t, err)
	assert.Contains(t, stdout, "plughost serving 0 plugins")
	assert.Contains(t, stderr, "initial plugin load failed")
}

func TestServeCommand_InvalidConfig(t *testing.T) {
	_, _, err := execute(t, context.Background(), "serve", "--root", t.TempDir(), "--log-format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log-format")
}

func TestMonitorServerErrors(t *testing.T) {
	t.Run("serve error cancels and logs", func(t *testing.T) {
		var logs bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&logs, nil))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 1)
		errCh <- errors.New("listener closed")
		monitorServerErrors(ctx, logger, cancel, errCh, "observability")

		assert.ErrorIs(t, ctx.Err(), context.Canceled)
		assert.Contains(t, logs.String(), "server error, triggering shutdown")
		assert.Contains(t, logs.String(), `"server":"observability"`)
	})

	t.Run("closed channel leaves context alone", func(t *testing.T) {
		var logs bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&logs, nil))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error)
		close(errCh)
		monitorServerErrors(ctx, logger, cancel, errCh, "observability")

		assert.NoError(t, ctx.Err())
		assert.Empty(t, logs.String())
	})
}
