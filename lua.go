package main

import (
	"context"
	"errors"
	"fmt"

	lua "github.com/Shopify/go-lua"

	"mudpipe/pipeline"
)

const maxScriptDepth = 8

var errScriptDepth = errors.New("scripts nested too deeply")

// Lua globals removed before a script runs.
var luaBlockedGlobals = []string{"io", "dofile", "loadfile", "require", "package", "debug"}

// Fields of the os table removed before a script runs.
var luaBlockedOS = []string{"execute", "exit", "remove", "rename", "tmpname", "getenv", "setlocale"}

// luaRunner runs script aliases and script triggers. Every invocation gets
// a fresh interpreter; state that must outlive a script goes through
// setvar.
type luaRunner struct {
	session *pipeline.Session
	depth   int
}

func newLuaRunner(s *pipeline.Session) *luaRunner {
	return &luaRunner{session: s}
}

func (r *luaRunner) InvokeScript(ctx context.Context, script string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.depth >= maxScriptDepth {
		return errScriptDepth
	}
	r.depth++
	defer func() { r.depth-- }()

	aborted := false
	l := lua.NewState()
	lua.OpenLibraries(l)
	restrictLua(l)

	l.PushGlobalTable()
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "send", Function: func(l *lua.State) int {
			cmd := lua.CheckString(l, 1)
			if err := ctx.Err(); err != nil {
				lua.Errorf(l, "%s", err.Error())
			}
			r.session.Send(ctx, cmd)
			return 0
		}},
		{Name: "echo", Function: func(l *lua.State) int {
			r.session.Echo(lua.CheckString(l, 1))
			return 0
		}},
		{Name: "getvar", Function: func(l *lua.State) int {
			v, ok := r.session.Vars.Lookup(lua.CheckString(l, 1))
			if !ok {
				l.PushNil()
				return 1
			}
			l.PushString(v)
			return 1
		}},
		{Name: "setvar", Function: func(l *lua.State) int {
			r.session.Vars.Set(lua.CheckString(l, 1), lua.CheckString(l, 2))
			return 0
		}},
		{Name: "abort", Function: func(l *lua.State) int {
			aborted = true
			lua.Errorf(l, "aborted")
			return 0
		}},
	}, 0)
	l.Pop(1)

	if err := lua.LoadString(l, script); err != nil {
		return fmt.Errorf("lua: %w", err)
	}
	if err := l.ProtectedCall(0, 0, 0); err != nil {
		if aborted {
			return pipeline.ErrScriptAbort
		}
		return fmt.Errorf("lua: %w", err)
	}
	return nil
}

func restrictLua(l *lua.State) {
	for _, name := range luaBlockedGlobals {
		l.PushNil()
		l.SetGlobal(name)
	}
	l.Global("os")
	if l.IsTable(-1) {
		for _, name := range luaBlockedOS {
			l.PushNil()
			l.SetField(-2, name)
		}
	}
	l.Pop(1)
}
