// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/holomush/plughost/internal/observability"
	"github.com/holomush/plughost/internal/pluginhost"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Keep plugins loaded and serve metrics, health and reload endpoints",
		Long: `Load plugins and keep the registry alive until interrupted. When
metrics-addr is set, /metrics, /healthz/liveness, /healthz/readiness and
POST /reload are served there. With --watch, changes under the plugin
root trigger a reload.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var (
		s    *session
		obs  *observability.Server
		opts []pluginhost.Option
	)
	if cfg.MetricsAddr != "" {
		obs = observability.NewServer(cfg.MetricsAddr, func() bool { return s != nil && s.host.Ready() },
			observability.WithLogger(logger))
		opts = append(opts, pluginhost.WithMetrics(pluginhost.NewMetrics(obs.Registry())))
	}

	s, err = newSession(cmd, cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer s.close()

	logger.Info("starting plugin host",
		"root", cfg.Root,
		"plugin", cfg.Plugin,
		"watch", cfg.Watch,
		"metrics_addr", cfg.MetricsAddr,
	)

	// A failed first reload leaves an empty registry; watch or POST /reload
	// can still recover once the root appears.
	if err := s.host.Reload(ctx); err != nil && ctx.Err() == nil {
		logger.Warn("initial plugin load failed", "error", err)
	}

	if obs != nil {
		obs.Handle("/reload", pluginhost.ReloadHandler(s.host))
		obsErrChan, err := obs.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		go monitorServerErrors(ctx, logger, cancel, obsErrChan, "observability")
		defer stopServer(logger, obs)
	}

	watchDone := make(chan error, 1)
	if cfg.Watch {
		go func() {
			watchDone <- pluginhost.Watch(ctx, s.host, pluginhost.WatchOptions{
				Debounce: cfg.Debounce,
				Logger:   logger,
			})
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("plughost serving", len(s.host.GetAll()), "plugins")

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-watchDone:
		if err != nil {
			runErr = fmt.Errorf("watcher failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	cancel()
	logger.Info("shutting down...")
	return runErr
}

func stopServer(logger *slog.Logger, obs *observability.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := obs.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when the server reports a serve error.
// It returns once errCh yields or ctx is done.
func monitorServerErrors(ctx context.Context, logger *slog.Logger, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorContext(ctx, "server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
