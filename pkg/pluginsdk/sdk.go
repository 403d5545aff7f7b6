// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package pluginsdk provides the SDK for building plughost binary plugins.
//
// Binary plugins run as child processes of the host and are spoken to over
// net/rpc using the HashiCorp go-plugin framework. A plugin exposes a set of
// named exports: Func values are callable, anything else is a plain value.
//
// Example usage:
//
//	package main
//
//	import (
//		"context"
//
//		"github.com/holomush/plughost/pkg/pluginsdk"
//	)
//
//	func main() {
//		pluginsdk.Serve(pluginsdk.Exports{
//			"greeting": "hello",
//			"run": pluginsdk.Func(func(_ context.Context, _ []any) ([]any, error) {
//				return []any{"a-result"}, nil
//			}),
//		})
//	}
package pluginsdk

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"net/rpc"
	"os"
	"sort"

	hashiplug "github.com/hashicorp/go-plugin"
)

// PluginName is the name the module is dispensed under.
const PluginName = "module"

// GenerationEnv carries the host's load generation into the plugin process.
const GenerationEnv = "PLUGHOST_GENERATION"

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and plugins must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PLUGHOST_PLUGIN",
	MagicCookieValue: "plughost-v1",
}

func init() {
	// Composite values cross the RPC boundary inside interface fields.
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Func is a callable export.
type Func func(ctx context.Context, args []any) ([]any, error)

// Exports maps export names to Func values or plain values.
type Exports map[string]any

// Generation returns the load generation the host assigned to this process,
// or "" when not started by a host.
func Generation() string {
	return os.Getenv(GenerationEnv)
}

// Serve starts the plugin server. This should be called from main().
// It blocks and never returns under normal operation.
func Serve(exports Exports) {
	if exports == nil {
		panic("pluginsdk: exports cannot be nil")
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         PluginSet(exports),
	})
}

// PluginSet returns the go-plugin plugin map. The host passes nil exports.
func PluginSet(exports Exports) hashiplug.PluginSet {
	return hashiplug.PluginSet{
		PluginName: &ModulePlugin{Exports: exports},
	}
}

// ModulePlugin implements go-plugin's Plugin interface for net/rpc.
type ModulePlugin struct {
	// Exports is used by the plugin side (not used by host).
	Exports Exports
}

// Server returns the RPC server (called by plugin process).
func (p *ModulePlugin) Server(*hashiplug.MuxBroker) (interface{}, error) {
	if p.Exports == nil {
		return nil, errors.New("pluginsdk: exports are nil")
	}
	return &RPCServer{exports: p.Exports}, nil
}

// Client returns an RPC client (called by host process).
func (p *ModulePlugin) Client(_ *hashiplug.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// ExportsResponse lists export names.
type ExportsResponse struct {
	Names []string
}

// ValueResponse carries an exported value.
type ValueResponse struct {
	Value any
	Found bool
}

// CallRequest invokes an exported Func.
type CallRequest struct {
	Name string
	Args []any
}

// CallResponse carries a Func's results.
type CallResponse struct {
	Results []any
}

// RPCServer serves a plugin's exports.
type RPCServer struct {
	exports Exports
}

// Exports lists export names, sorted.
func (s *RPCServer) Exports(_ interface{}, resp *ExportsResponse) error {
	names := make([]string, 0, len(s.exports))
	for name := range s.exports {
		names = append(names, name)
	}
	sort.Strings(names)
	resp.Names = names
	return nil
}

// Value returns a non-callable export.
func (s *RPCServer) Value(name string, resp *ValueResponse) error {
	v, ok := s.exports[name]
	if !ok {
		return nil
	}
	if _, callable := v.(Func); callable {
		return nil
	}
	resp.Value = v
	resp.Found = true
	return nil
}

// Call invokes a Func export.
func (s *RPCServer) Call(req CallRequest, resp *CallResponse) error {
	fn, ok := s.exports[req.Name].(Func)
	if !ok {
		return fmt.Errorf("function not exported: %s", req.Name)
	}
	results, err := fn(context.Background(), req.Args)
	if err != nil {
		return err
	}
	resp.Results = results
	return nil
}

// RPCClient is the host-side view of a plugin process.
type RPCClient struct {
	client *rpc.Client
}

// Exports lists the plugin's export names.
func (c *RPCClient) Exports() ([]string, error) {
	var resp ExportsResponse
	if err := c.client.Call("Plugin.Exports", new(interface{}), &resp); err != nil {
		return nil, fmt.Errorf("exports: %w", err)
	}
	return resp.Names, nil
}

// Value fetches a non-callable export.
func (c *RPCClient) Value(name string) (any, bool, error) {
	var resp ValueResponse
	if err := c.client.Call("Plugin.Value", name, &resp); err != nil {
		return nil, false, fmt.Errorf("value %s: %w", name, err)
	}
	return resp.Value, resp.Found, nil
}

// Call invokes a Func export. The RPC is abandoned when ctx ends; the plugin
// process keeps running it to completion.
func (c *RPCClient) Call(ctx context.Context, name string, args []any) ([]any, error) {
	var resp CallResponse
	call := c.client.Go("Plugin.Call", CallRequest{Name: name, Args: args}, &resp, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case done := <-call.Done:
		if done.Error != nil {
			return nil, fmt.Errorf("call %s: %w", name, done.Error)
		}
		return resp.Results, nil
	}
}
