// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lua provides the Lua runtime for plugin entry points.
package lua

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// library represents a Lua standard library opened in new states.
type library struct {
	name string
	fn   lua.LGFunction
}

// defaultLibraries returns every standard library. Plugins run with full trust.
func defaultLibraries() []library {
	return []library{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.IoLibName, lua.OpenIo},
		{lua.OsLibName, lua.OpenOs},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.DebugLibName, lua.OpenDebug},
		{lua.ChannelLibName, lua.OpenChannel},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	}
}

// sandboxLibraries returns the libraries that cannot reach the host system.
// Safe: base, table, string, math.
// Blocked: os, io, debug, package.
func sandboxLibraries() []library {
	return []library{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// unsafeBaseFunctions lists base library functions removed in sandbox mode.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load"}

// StateFactory creates Lua states for plugin loads.
type StateFactory struct {
	libraries []library
	sandbox   bool
}

// NewStateFactory creates a factory that opens every standard library.
func NewStateFactory() *StateFactory {
	return &StateFactory{libraries: defaultLibraries()}
}

// NewSandboxStateFactory creates a factory whose states only get base, table,
// string and math, without filesystem access from the base library.
func NewSandboxStateFactory() *StateFactory {
	return &StateFactory{libraries: sandboxLibraries(), sandbox: true}
}

// NewState creates a fresh Lua state. When moduleDir is non-empty and the
// package library is open, require resolves modules relative to it.
func (f *StateFactory) NewState(_ context.Context, moduleDir string) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	if f.sandbox {
		for _, fn := range unsafeBaseFunctions {
			L.SetGlobal(fn, lua.LNil)
		}
	}

	if pkg, ok := L.GetGlobal(lua.LoadLibName).(*lua.LTable); ok && moduleDir != "" {
		L.SetField(pkg, "path", lua.LString(modulePath(moduleDir)))
	}

	return L, nil
}

// modulePath builds a package.path that only searches the plugin directory.
func modulePath(dir string) string {
	dir = filepath.ToSlash(dir)
	return strings.Join([]string{
		dir + "/?.lua",
		dir + "/?/init.lua",
	}, ";")
}
