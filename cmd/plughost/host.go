// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/plughost/internal/config"
	"github.com/holomush/plughost/internal/logging"
	"github.com/holomush/plughost/internal/pluginhost"
)

const serviceName = "plughost"

// shutdownTimeout bounds how long closing plugins and servers may take.
const shutdownTimeout = 5 * time.Second

// session bundles what every host-backed command needs.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	host   *pluginhost.Host
}

// close releases every loaded plugin.
func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.host.Close(ctx); err != nil {
		s.logger.Warn("error closing plugin host", "error", err)
	}
}

// loadConfig loads and validates configuration from the config file and the
// command's flags, and installs the configured logger as the slog default.
// Logs go to the command's error stream so stdout stays clean for results.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logging.SetDefault(logOptions(cmd, cfg)), nil
}

// logOptions formats logs per cfg; Validate has already checked the level.
func logOptions(cmd *cobra.Command, cfg *config.Config) logging.Options {
	level, _ := logging.ParseLevel(cfg.LogLevel)
	return logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.LogFormat,
		Level:   level,
		Output:  cmd.ErrOrStderr(),
	}
}

// newSession creates a plugin host for cfg. Binary plugin output is relayed
// through an hclog logger in the same format as logger.
func newSession(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, opts ...pluginhost.Option) (*session, error) {
	opts = append([]pluginhost.Option{
		pluginhost.WithLogger(logger),
		pluginhost.WithBinaryLogger(logging.PluginLogger(logOptions(cmd, cfg))),
	}, opts...)

	host, err := pluginhost.New(cfg.HostConfig(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin host: %w", err)
	}
	return &session{cfg: cfg, logger: logger, host: host}, nil
}

// loadOnce builds a host and runs a single reload. The caller must close the
// returned session.
func loadOnce(cmd *cobra.Command) (*session, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	s, err := newSession(cmd, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := s.host.Reload(cmd.Context()); err != nil {
		s.close()
		return nil, fmt.Errorf("failed to load plugins: %w", err)
	}
	return s, nil
}
