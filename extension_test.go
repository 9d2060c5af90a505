package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mudpipe/pipeline"
)

const greeterSource = `//go:build extension

package main

import (
	"strings"

	"gm"
)

const extensionName = "Greeter"
const extensionAuthor = "Tests"
const extensionAPIVersion = 1

func Init() {
	gm.AddTriggerFn(` + "`" + `^(\w+) waves` + "`" + `, func(line string) {
		gm.SetVar("waved", line)
	})
	gm.AddTrigger("^You are hungry", "eat bread")
	gm.RegisterCommand("greet", "greet someone", func(args string) {
		gm.Echo("hello " + strings.TrimSpace(args))
	})
	gm.AddAlias("gg", "say good game")
}
`

func writeExtension(t *testing.T, dir, name, src string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(src), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func newTestExtensionHost(t *testing.T, tc *testClient, dir string) *extensionHost {
	t.Helper()
	h := newExtensionHost(context.Background(), tc.session, dir, func(fn func()) { fn() })
	h.SetBase(tc.systemTriggers())
	return h
}

func TestExtensionLoadAndUnload(t *testing.T) {
	tc := newTestClient(t)
	tr := &recordTransport{}
	tc.session.SetTransport(tr)
	dir := t.TempDir()
	p := writeExtension(t, dir, "greeter.go", greeterSource)
	writeExtension(t, dir, "notes.go", "package main\n\nfunc Init() {}\n")

	h := newTestExtensionHost(t, tc, dir)
	if n := h.Load(); n != 1 {
		t.Fatalf("Load = %d, want 1", n)
	}
	if diff := cmp.Diff([]string{"Greeter"}, h.Loaded()); diff != "" {
		t.Fatalf("loaded mismatch (-want +got):\n%s", diff)
	}
	if got := len(tc.session.Triggers.Systems()); got != 4 {
		t.Fatalf("%d system triggers, want 4", got)
	}

	ctx := context.Background()
	tc.session.CheckLine(ctx, pipeline.Line{Text: "Bob waves"})
	if got := tc.session.Vars.Get("waved"); got != "Bob waves" {
		t.Fatalf("waved = %q", got)
	}
	tc.session.CheckLine(ctx, pipeline.Line{Text: "You are hungry."})
	tc.session.Send(ctx, "#greet bob")
	if !tc.hasLine("hello bob") {
		t.Fatalf("command output missing from %q", tc.primary())
	}
	tc.session.Send(ctx, "gg")
	if diff := cmp.Diff([]string{"eat bread", "say good game"}, tr.lines()); diff != "" {
		t.Fatalf("sent mismatch (-want +got):\n%s", diff)
	}

	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	if n := h.Load(); n != 0 {
		t.Fatalf("Load after removal = %d, want 0", n)
	}
	if _, ok := tc.session.Commands.Resolve("greet"); ok {
		t.Fatalf("greet still registered after unload")
	}
	if got := len(tc.session.Triggers.Systems()); got != 2 {
		t.Fatalf("%d system triggers after unload, want 2", got)
	}
}

func TestExtensionCompileError(t *testing.T) {
	tc := newTestClient(t)
	dir := t.TempDir()
	writeExtension(t, dir, "broken.go", `package main

const extensionName = "Broken"
const extensionAPIVersion = 1

func Init() { undefinedCall() }
`)
	h := newTestExtensionHost(t, tc, dir)
	if n := h.Load(); n != 0 {
		t.Fatalf("Load = %d, want 0", n)
	}
}

func TestExtensionWrongAPIVersion(t *testing.T) {
	tc := newTestClient(t)
	dir := t.TempDir()
	writeExtension(t, dir, "old.go", `package main

const extensionName = "Old"
const extensionAPIVersion = 0

func Init() {}
`)
	h := newTestExtensionHost(t, tc, dir)
	if n := h.Load(); n != 0 {
		t.Fatalf("Load = %d, want 0", n)
	}
}

func TestScanExtensions(t *testing.T) {
	dir := t.TempDir()
	writeExtension(t, dir, "a.go", "package main\nconst extensionName = \"Alpha\"\nconst extensionAuthor = \"Ann\"\nconst extensionAPIVersion = 1\n")
	writeExtension(t, dir, "b.go", "package main\nconst extensionName = \"alpha\"\nconst extensionAPIVersion = 1\n")
	writeExtension(t, dir, "c.go", "package main\n")
	writeExtension(t, dir, "readme.txt", "not go")

	got := scanExtensions(dir)
	if len(got) != 2 {
		t.Fatalf("scanned %d extensions, want 2: %+v", len(got), got)
	}
	if got[0].name != "Alpha" || got[0].author != "Ann" || got[0].apiVer != 1 || got[0].invalid {
		t.Errorf("a.go scanned as %+v", got[0])
	}
	if got[1].owner != "c" || !got[1].invalid {
		t.Errorf("c.go scanned as %+v", got[1])
	}
}

func TestStripGoBuildDirectives(t *testing.T) {
	src := "//go:build extension\n// +build extension\n\npackage main\n\nfunc Init() {}\n"
	want := "package main\n\nfunc Init() {}\n"
	if got := string(stripGoBuildDirectives([]byte(src))); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	plain := "package main\n"
	if got := string(stripGoBuildDirectives([]byte(plain))); got != plain {
		t.Fatalf("plain source changed to %q", got)
	}
}

func TestEnsureExtensionsDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "extensions")
	ensureExtensionsDir(dir)
	infos := scanExtensions(dir)
	if len(infos) == 0 {
		t.Fatalf("bundled extensions were not copied")
	}
	for _, info := range infos {
		if info.invalid || info.apiVer != extensionAPICurrentVersion {
			t.Errorf("bundled extension %s: %+v", info.path, info)
		}
	}
}
