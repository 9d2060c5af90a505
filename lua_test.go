package main

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLuaScriptAPI(t *testing.T) {
	tc := newTestClient(t)
	tr := &recordTransport{}
	tc.session.SetTransport(tr)

	tc.session.RunScript(context.Background(), `
send("look")
setvar("hp", "10")
echo("hp " .. getvar("hp"))
if getvar("nope") == nil then echo("no such var") end
`)

	if diff := cmp.Diff([]string{"look"}, tr.lines()); diff != "" {
		t.Fatalf("sent mismatch (-want +got):\n%s", diff)
	}
	if got := tc.session.Vars.Get("hp"); got != "10" {
		t.Fatalf("hp = %q, want 10", got)
	}
	for _, want := range []string{"> look", "hp 10", "no such var"} {
		if !tc.hasLine(want) {
			t.Errorf("missing line %q in %q", want, tc.primary())
		}
	}
}

func TestLuaScriptAliasArguments(t *testing.T) {
	tc := newTestClient(t)
	tr := &recordTransport{}
	tc.session.SetTransport(tr)

	tc.session.Send(context.Background(), `#salias heal for i = 1, 2 do send("cast heal %1") end`)
	tc.session.Send(context.Background(), "heal bob")

	if diff := cmp.Diff([]string{"cast heal bob", "cast heal bob"}, tr.lines()); diff != "" {
		t.Fatalf("sent mismatch (-want +got):\n%s", diff)
	}
}

func TestLuaAbort(t *testing.T) {
	tc := newTestClient(t)
	tc.session.RunScript(context.Background(), `abort() echo("unreachable")`)
	if !tc.hasLine("scripts terminated") {
		t.Fatalf("no termination notice in %q", tc.primary())
	}
	if tc.hasLine("unreachable") {
		t.Fatalf("script kept running after abort")
	}
}

func TestLuaErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"syntax", `send(`},
		{"runtime", `error("boom")`},
		{"io blocked", `io.write("x")`},
		{"require blocked", `require("os")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestClient(t)
			tc.session.RunScript(context.Background(), tt.script)
			if !tc.hasLineContaining("error: lua:") {
				t.Fatalf("no lua error in %q", tc.primary())
			}
		})
	}
}

func TestLuaOSRestricted(t *testing.T) {
	tc := newTestClient(t)
	tc.session.RunScript(context.Background(), `echo(tostring(os.execute == nil and os.exit == nil))`)
	if !tc.hasLine("true") {
		t.Fatalf("os functions still reachable: %q", tc.primary())
	}
}

func TestLuaRecursiveScriptAlias(t *testing.T) {
	tc := newTestClient(t)
	tc.session.SetTransport(&recordTransport{})

	tc.session.Send(context.Background(), `#salias boom send("boom")`)
	tc.session.Send(context.Background(), "boom")

	if !tc.hasLineContaining(errScriptDepth.Error()) {
		t.Fatalf("no depth error in %q", tc.primary())
	}
	if tc.scripts.depth != 0 {
		t.Fatalf("depth = %d after scripts finished", tc.scripts.depth)
	}
}

func TestLuaCancelledContext(t *testing.T) {
	tc := newTestClient(t)
	tr := &recordTransport{}
	tc.session.SetTransport(tr)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tc.scripts.InvokeScript(ctx, `send("look")`); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(tr.lines()) != 0 {
		t.Fatalf("sent %q with a cancelled context", tr.lines())
	}
}
