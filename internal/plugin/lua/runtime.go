// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/plughost/internal/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Runtime = (*Runtime)(nil)
	_ plugin.Module  = (*Module)(nil)
)

// DefaultExport is the export name given to a non-table value returned by an
// entry chunk.
const DefaultExport = "default"

// Runtime loads Lua entry points. Every load reads the entry file from disk
// and runs it in a brand new state, so nothing is shared between generations.
type Runtime struct {
	factory *StateFactory
}

// NewRuntime creates a Lua runtime. A nil factory uses NewStateFactory.
func NewRuntime(factory *StateFactory) *Runtime {
	if factory == nil {
		factory = NewStateFactory()
	}
	return &Runtime{factory: factory}
}

// LoadFresh runs the entry chunk and captures its surface: the value the
// chunk returns, or the globals it defined when it returns nothing.
func (r *Runtime) LoadFresh(ctx context.Context, entryPath string, gen plugin.Generation) (plugin.Module, error) {
	errb := oops.In("lua").With("entry", entryPath).With("generation", gen.String())

	code, err := os.ReadFile(filepath.Clean(entryPath))
	if err != nil {
		return nil, errb.Hint("failed to read entry file").Wrap(err)
	}

	L, err := r.factory.NewState(ctx, filepath.Dir(entryPath))
	if err != nil {
		return nil, errb.Hint("failed to create state").Wrap(err)
	}

	before := globalNames(L)

	fn, err := L.Load(bytes.NewReader(code), filepath.Base(entryPath))
	if err != nil {
		L.Close()
		return nil, errb.Hint("syntax error").Wrap(err)
	}

	L.SetContext(ctx)
	L.Push(fn)
	err = L.PCall(0, 1, nil)
	L.RemoveContext()
	if err != nil {
		L.Close()
		return nil, errb.Hint("entry chunk raised an error").Wrap(err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	var exports *lua.LTable
	switch v := ret.(type) {
	case *lua.LTable:
		exports = v
	case *lua.LNilType:
		exports = definedGlobals(L, before)
	default:
		exports = L.NewTable()
		exports.RawSetString(DefaultExport, v)
	}

	return &Module{state: L, exports: exports, gen: gen}, nil
}

// globalNames snapshots the string keys of the global table.
func globalNames(L *lua.LState) map[string]struct{} {
	names := make(map[string]struct{})
	L.G.Global.ForEach(func(k, _ lua.LValue) {
		if s, ok := k.(lua.LString); ok {
			names[string(s)] = struct{}{}
		}
	})
	return names
}

// definedGlobals collects the globals that were not present before the chunk ran.
func definedGlobals(L *lua.LState, before map[string]struct{}) *lua.LTable {
	t := L.NewTable()
	L.G.Global.ForEach(func(k, v lua.LValue) {
		s, ok := k.(lua.LString)
		if !ok {
			return
		}
		if _, existed := before[string(s)]; existed {
			return
		}
		t.RawSetString(string(s), v)
	})
	return t
}

// Module is a loaded Lua entry point. Calls are serialized because a Lua
// state is not safe for concurrent use.
type Module struct {
	mu      sync.Mutex
	state   *lua.LState
	exports *lua.LTable
	gen     plugin.Generation
	closed  bool
}

// Exports returns the exported names, sorted.
func (m *Module) Exports() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	m.exports.ForEach(func(k, _ lua.LValue) {
		if s, ok := k.(lua.LString); ok {
			names = append(names, string(s))
		}
	})
	sort.Strings(names)
	return names
}

// Value returns an exported non-function value.
func (m *Module) Value(name string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.exports.RawGetString(name)
	switch v.Type() {
	case lua.LTNil, lua.LTFunction:
		return nil, false
	}
	return fromLua(v, 0), true
}

// Call invokes an exported function and returns all of its results.
func (m *Module) Call(ctx context.Context, name string, args ...any) ([]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	errb := oops.In("lua").With("function", name).With("generation", m.gen.String())
	if m.closed {
		return nil, errb.Wrap(plugin.ErrModuleClosed)
	}

	fn, ok := m.exports.RawGetString(name).(*lua.LFunction)
	if !ok {
		return nil, errb.Wrapf(plugin.ErrNotExported, "%s", name)
	}

	L := m.state
	base := L.GetTop()
	L.Push(fn)
	for _, a := range args {
		L.Push(toLua(L, a))
	}

	L.SetContext(ctx)
	err := L.PCall(len(args), lua.MultRet, nil)
	L.RemoveContext()
	if err != nil {
		L.SetTop(base)
		return nil, errb.Wrap(err)
	}

	n := L.GetTop() - base
	results := make([]any, n)
	for i := 0; i < n; i++ {
		results[i] = fromLua(L.Get(base+i+1), 0)
	}
	L.SetTop(base)
	return results, nil
}

// Generation returns the load generation.
func (m *Module) Generation() plugin.Generation {
	return m.gen
}

// Close releases the Lua state. Later calls fail with plugin.ErrModuleClosed.
func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.state.Close()
	return nil
}
