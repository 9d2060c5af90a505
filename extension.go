package main

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"regexp"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/remeh/sizedwaitgroup"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"mudpipe/pipeline"
	"mudpipe/rules"
)

const extensionAPICurrentVersion = 1

// reloadDelay collapses the burst of events an editor save produces.
const reloadDelay = 300 * time.Millisecond

//go:embed extensions
var extensionFiles embed.FS

var extensionAllowedPkgs = []string{
	"bytes/bytes",
	"errors/errors",
	"fmt/fmt",
	"math/math",
	"math/rand/rand",
	"regexp/regexp",
	"sort/sort",
	"strconv/strconv",
	"strings/strings",
	"time/time",
	"unicode/utf8/utf8",
}

func restrictedStdlib() interp.Exports {
	restricted := interp.Exports{}
	for _, key := range extensionAllowedPkgs {
		if syms, ok := stdlib.Symbols[key]; ok {
			restricted[key] = syms
		}
	}
	return restricted
}

type extensionInfo struct {
	owner   string
	name    string
	author  string
	path    string
	src     []byte
	apiVer  int
	invalid bool
}

// extensionHost loads Go source extensions with yaegi. Extensions add
// system triggers, aliases and named commands through the gm package.
type extensionHost struct {
	ctx     context.Context
	session *pipeline.Session
	dir     string
	// post runs fn on the goroutine that owns the session.
	post func(fn func())
	// base holds system triggers that do not belong to an extension.
	base []rules.Trigger

	mu         sync.Mutex
	names      map[string]string
	triggers   map[string][]rules.Trigger
	terminates map[string]func()
	loading    bool
}

func newExtensionHost(ctx context.Context, s *pipeline.Session, dir string, post func(func())) *extensionHost {
	return &extensionHost{
		ctx:        ctx,
		session:    s,
		dir:        dir,
		post:       post,
		names:      map[string]string{},
		triggers:   map[string][]rules.Trigger{},
		terminates: map[string]func(){},
	}
}

func (h *extensionHost) exports(owner string) interp.Exports {
	return interp.Exports{
		// yaegi expects "importPath/pkgName".
		"gm/gm": {
			"AddTrigger": reflect.ValueOf(func(pattern, template string) {
				h.addTrigger(owner, rules.Trigger{Pattern: pattern, Template: template})
			}),
			"AddTriggerFn": reflect.ValueOf(func(pattern string, fn func(line string)) {
				if fn == nil {
					return
				}
				h.addTrigger(owner, rules.Trigger{Pattern: pattern, Hook: fn})
			}),
			"AddAlias": reflect.ValueOf(func(expression, template string) {
				h.post(func() {
					h.session.Aliases.Upsert(rules.Alias{Expression: expression, Template: template, Enabled: true})
				})
			}),
			"RegisterCommand": reflect.ValueOf(func(name, description string, handler func(args string)) {
				h.registerCommand(owner, name, description, handler)
			}),
			"Send": reflect.ValueOf(func(cmd string) {
				h.post(func() { h.session.Send(h.ctx, cmd) })
			}),
			"Echo": reflect.ValueOf(func(text string) {
				h.post(func() { h.session.Echo(text) })
			}),
			"GetVar":    reflect.ValueOf(func(name string) string { return h.session.Vars.Get(name) }),
			"SetVar":    reflect.ValueOf(func(name, value string) { h.session.Vars.Set(name, value) }),
			"Character": reflect.ValueOf(func() string { return h.session.Character() }),
			"Notify":    reflect.ValueOf(showNotification),
		},
	}
}

func (h *extensionHost) addTrigger(owner string, t rules.Trigger) {
	if err := rules.ValidatePattern(t.Pattern); err != nil {
		logWarn("extension %s: %v", h.displayName(owner), err)
		return
	}
	t.Enabled = true
	h.mu.Lock()
	t.ID = fmt.Sprintf("%s#%d", owner, len(h.triggers[owner])+1)
	h.triggers[owner] = append(h.triggers[owner], t)
	loading := h.loading
	h.mu.Unlock()
	if !loading {
		h.post(h.installSystem)
	}
}

func (h *extensionHost) registerCommand(owner, name, description string, handler func(string)) {
	if handler == nil {
		return
	}
	err := h.session.Commands.Register(pipeline.Command{
		Name:        name,
		Description: description,
		Owner:       owner,
		Run: func(ctx context.Context, s *pipeline.Session, params string) error {
			handler(params)
			return nil
		},
	})
	if err != nil {
		logWarn("extension %s: %v", h.displayName(owner), err)
	}
}

func (h *extensionHost) displayName(owner string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n, ok := h.names[owner]; ok {
		return n
	}
	return owner
}

// installSystem replaces the system triggers with the base set followed
// by every loaded extension's triggers, ordered by owner.
func (h *extensionHost) installSystem() {
	h.mu.Lock()
	owners := make([]string, 0, len(h.triggers))
	for o := range h.triggers {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	list := append([]rules.Trigger(nil), h.base...)
	for _, o := range owners {
		list = append(list, h.triggers[o]...)
	}
	h.mu.Unlock()
	h.session.Triggers.InstallSystem(list)
}

// SetBase sets the system triggers installed ahead of extension triggers.
func (h *extensionHost) SetBase(ts []rules.Trigger) {
	h.mu.Lock()
	h.base = append([]rules.Trigger(nil), ts...)
	h.mu.Unlock()
	h.installSystem()
}

// Load unloads everything, then compiles every extension in the
// directory in parallel and runs their Init functions in name order.
func (h *extensionHost) Load() int {
	h.unloadAll()
	scanned := scanExtensions(h.dir)

	compiled := make([]*interp.Interpreter, len(scanned))
	h.mu.Lock()
	h.loading = true
	for _, info := range scanned {
		h.names[info.owner] = info.name
	}
	h.mu.Unlock()

	wg := sizedwaitgroup.New(runtime.NumCPU())
	for i, info := range scanned {
		if info.invalid || info.apiVer != extensionAPICurrentVersion {
			logWarn("extension %s skipped: missing metadata or API version %d", info.path, info.apiVer)
			continue
		}
		wg.Add()
		go func(i int, info extensionInfo) {
			defer wg.Done()
			in, err := h.compile(info)
			if err != nil {
				logError("extension %s: %v", info.path, err)
				return
			}
			compiled[i] = in
		}(i, info)
	}
	wg.Wait()

	n := 0
	for i, in := range compiled {
		if in != nil && h.start(scanned[i], in) {
			n++
			continue
		}
		h.mu.Lock()
		delete(h.names, scanned[i].owner)
		h.mu.Unlock()
	}
	h.mu.Lock()
	h.loading = false
	h.mu.Unlock()
	h.installSystem()
	return n
}

func (h *extensionHost) compile(info extensionInfo) (in *interp.Interpreter, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	in = interp.New(interp.Options{})
	if err := in.Use(restrictedStdlib()); err != nil {
		return nil, err
	}
	if err := in.Use(h.exports(info.owner)); err != nil {
		return nil, err
	}
	src := stripGoBuildDirectives(info.src)
	if _, err := in.Eval(string(src)); err != nil {
		return nil, err
	}
	return in, nil
}

// start runs Init and records Terminate. A panicking Init unloads the
// extension again.
func (h *extensionHost) start(info extensionInfo, in *interp.Interpreter) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logError("extension %s: Init panicked: %v\n%s", info.name, r, debug.Stack())
			h.unload(info.owner)
			ok = false
		}
	}()
	if v, err := in.Eval("Terminate"); err == nil {
		if fn, ok := v.Interface().(func()); ok {
			h.mu.Lock()
			h.terminates[info.owner] = fn
			h.mu.Unlock()
		}
	}
	if v, err := in.Eval("Init"); err == nil {
		if fn, ok := v.Interface().(func()); ok {
			fn()
		}
	}
	logDebug("loaded extension %s", info.path)
	return true
}

func (h *extensionHost) unload(owner string) {
	h.mu.Lock()
	term := h.terminates[owner]
	delete(h.terminates, owner)
	delete(h.triggers, owner)
	h.mu.Unlock()
	if term != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logError("extension %s: Terminate panicked: %v", h.displayName(owner), r)
				}
			}()
			term()
		}()
	}
	h.session.Commands.UnregisterOwner(owner)
}

func (h *extensionHost) unloadAll() {
	h.mu.Lock()
	owners := make([]string, 0, len(h.names))
	for o := range h.names {
		owners = append(owners, o)
	}
	h.mu.Unlock()
	for _, o := range owners {
		h.unload(o)
	}
	h.mu.Lock()
	h.names = map[string]string{}
	h.mu.Unlock()
}

// Loaded returns the display names of the loaded extensions.
func (h *extensionHost) Loaded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.names))
	for _, n := range h.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Watch reloads extensions when a source file in the directory changes,
// until ctx ends.
func (h *extensionHost) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch extensions: %w", err)
	}
	if err := watcher.Add(h.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", h.dir, err)
	}
	go func() {
		defer watcher.Close()
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".go") {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDelay, func() {
					h.post(func() {
						n := h.Load()
						h.session.Echo(fmt.Sprintf("extensions reloaded (%d active)", n))
					})
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logWarn("extension watcher: %v", err)
			}
		}
	}()
	return nil
}

var (
	extNameRE   = regexp.MustCompile(`(?m)^\s*(?:var|const)\s+extensionName\s*=\s*"([^"]+)"`)
	extAuthorRE = regexp.MustCompile(`(?m)^\s*(?:var|const)\s+extensionAuthor\s*=\s*"([^"]+)"`)
	extAPIVerRE = regexp.MustCompile(`(?m)^\s*(?:var|const)\s+extensionAPIVersion\s*=\s*([0-9]+)\s*$`)
)

// scanExtensions reads every .go file in dir, sorted by file name.
func scanExtensions(dir string) []extensionInfo {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logWarn("read extension dir %s: %v", dir, err)
		}
		return nil
	}
	var out []extensionInfo
	seen := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".go") {
			continue
		}
		p := filepath.Join(dir, e.Name())
		src, err := os.ReadFile(p)
		if err != nil {
			logWarn("read extension %s: %v", p, err)
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".go")
		info := extensionInfo{owner: base, name: base, path: p, src: src}
		if m := extNameRE.FindSubmatch(src); len(m) >= 2 {
			info.name = strings.TrimSpace(string(m[1]))
		} else {
			info.invalid = true
		}
		if m := extAuthorRE.FindSubmatch(src); len(m) >= 2 {
			info.author = strings.TrimSpace(string(m[1]))
		}
		if m := extAPIVerRE.FindSubmatch(src); len(m) >= 2 {
			info.apiVer, _ = strconv.Atoi(string(m[1]))
		}
		lower := strings.ToLower(info.name)
		if seen[lower] {
			logWarn("extension %s: duplicate name %s", p, info.name)
			continue
		}
		seen[lower] = true
		out = append(out, info)
	}
	return out
}

// stripGoBuildDirectives removes leading build constraints, which are
// meant for the Go toolchain and not the interpreter.
func stripGoBuildDirectives(src []byte) []byte {
	lines := strings.Split(string(src), "\n")
	i := 0
	for i < len(lines) {
		l := strings.TrimSpace(lines[i])
		if strings.HasPrefix(l, "package ") {
			break
		}
		if strings.HasPrefix(l, "//go:build") || strings.HasPrefix(l, "// +build") || l == "" {
			i++
			continue
		}
		break
	}
	if i > 0 {
		return []byte(strings.Join(lines[i:], "\n"))
	}
	return src
}

// ensureExtensionsDir creates dir and fills it with the bundled
// extensions when it does not exist yet.
func ensureExtensionsDir(dir string) {
	if _, err := os.Stat(dir); err == nil {
		return
	} else if !os.IsNotExist(err) {
		logWarn("check extensions dir: %v", err)
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logWarn("create extensions dir: %v", err)
		return
	}
	entries, err := extensionFiles.ReadDir("extensions")
	if err != nil {
		logError("read embedded extensions: %v", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := extensionFiles.ReadFile(path.Join("extensions", e.Name()))
		if err != nil {
			logError("read embedded %s: %v", e.Name(), err)
			continue
		}
		dst := filepath.Join(dir, e.Name())
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			logWarn("write %s: %v", dst, err)
		}
	}
}
