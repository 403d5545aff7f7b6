// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package goplugin provides a runtime for binary plugins using HashiCorp's
// go-plugin system over net/rpc.
package goplugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"sync"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/holomush/plughost/internal/plugin"
	"github.com/holomush/plughost/pkg/pluginsdk"
)

// Compile-time interface checks.
var (
	_ plugin.Runtime = (*Runtime)(nil)
	_ plugin.Module  = (*Module)(nil)
)

// ErrNotExecutable is returned when the entry point is not a runnable file.
var ErrNotExecutable = errors.New("entry point is not an executable file")

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the RPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the plugin process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path and generation.
	NewClient(execPath string, gen plugin.Generation) PluginClient
}

// Remote is the host-side surface of a dispensed plugin.
type Remote interface {
	Exports() ([]string, error)
	Value(name string) (any, bool, error)
	Call(ctx context.Context, name string, args []any) ([]any, error)
}

// DefaultClientFactory creates real go-plugin clients. Each client starts a
// new process from the executable's current content.
type DefaultClientFactory struct {
	// Logger receives go-plugin's own logs; nil logs warnings to stderr.
	Logger hclog.Logger
}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(execPath string, gen plugin.Generation) PluginClient {
	logger := f.Logger
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{
			Name:   "plughost.goplugin",
			Level:  hclog.Warn,
			Output: os.Stderr,
		})
	}

	cmd := exec.Command(execPath) // #nosec G204 -- execPath resolved from a validated plugin manifest
	cmd.Env = append(os.Environ(), pluginsdk.GenerationEnv+"="+gen.String())

	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  pluginsdk.HandshakeConfig,
		Plugins:          pluginsdk.PluginSet(nil),
		Cmd:              cmd,
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolNetRPC},
		Logger:           logger,
	})
}

// Runtime loads binary plugins.
type Runtime struct {
	clientFactory ClientFactory
}

// NewRuntime creates a runtime that launches real plugin processes, relaying
// their go-plugin output to logger. A nil logger logs warnings to stderr.
func NewRuntime(logger hclog.Logger) *Runtime {
	return &Runtime{clientFactory: &DefaultClientFactory{Logger: logger}}
}

// NewRuntimeWithFactory creates a runtime with a custom client factory (for testing).
// Panics if factory is nil.
func NewRuntimeWithFactory(factory ClientFactory) *Runtime {
	if factory == nil {
		panic("goplugin: factory cannot be nil")
	}
	return &Runtime{clientFactory: factory}
}

// LoadFresh starts a new plugin process for entryPath and snapshots its exports.
func (r *Runtime) LoadFresh(_ context.Context, entryPath string, gen plugin.Generation) (plugin.Module, error) {
	info, err := os.Stat(entryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("plugin executable not found: %s: %w", entryPath, err)
		}
		return nil, fmt.Errorf("cannot access plugin executable %s: %w", entryPath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotExecutable, entryPath)
	}

	client := r.clientFactory.NewClient(entryPath, gen)

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to plugin %s: %w", entryPath, err)
	}

	raw, err := rpcClient.Dispense(pluginsdk.PluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense plugin %s: %w", entryPath, err)
	}

	remote, ok := raw.(Remote)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("plugin %s does not implement Remote", entryPath)
	}

	exports, err := remote.Exports()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to list exports of %s: %w", entryPath, err)
	}

	return &Module{client: client, remote: remote, exports: exports, gen: gen}, nil
}

// Module is a running plugin process.
type Module struct {
	client  PluginClient
	remote  Remote
	exports []string
	gen     plugin.Generation

	mu     sync.RWMutex
	closed bool
}

// Exports returns the export names reported when the process started.
func (m *Module) Exports() []string {
	return slices.Clone(m.exports)
}

// Value fetches a non-callable export. Transport failures report absent.
func (m *Module) Value(name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false
	}
	v, ok, err := m.remote.Value(name)
	if err != nil {
		return nil, false
	}
	return v, ok
}

// Call invokes a function export in the plugin process.
//
// Note: The RLock is held for the duration of the RPC so Close cannot kill
// the process mid-call.
func (m *Module) Call(ctx context.Context, name string, args ...any) ([]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, plugin.ErrModuleClosed
	}
	if !slices.Contains(m.exports, name) {
		return nil, fmt.Errorf("%w: %s", plugin.ErrNotExported, name)
	}
	results, err := m.remote.Call(ctx, name, args)
	if err != nil {
		return nil, fmt.Errorf("plugin call %s failed: %w", name, err)
	}
	return results, nil
}

// Generation returns the load generation.
func (m *Module) Generation() plugin.Generation {
	return m.gen
}

// Close kills the plugin process.
func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.client.Kill()
	return nil
}
