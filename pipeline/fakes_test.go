package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"mudpipe/history"
	"mudpipe/rules"
	"mudpipe/vars"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTransport struct {
	sent      []string
	closed    bool
	cancelled int
	fail      error
}

func (f *fakeTransport) Send(_ context.Context, line string) error {
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, line)
	return nil
}

func (f *fakeTransport) Connected() bool { return !f.closed }

func (f *fakeTransport) CancelPending() int {
	f.cancelled++
	return 0
}

type relocation struct {
	Terminal rules.Terminal
	Stamp    string
	Text     string
}

type fakePresenter struct {
	lines     map[rules.Terminal][]string
	relocated []relocation
	badges    map[rules.Terminal]int
	focused   rules.Terminal
}

func newFakePresenter() *fakePresenter {
	return &fakePresenter{
		lines:   map[rules.Terminal][]string{},
		badges:  map[rules.Terminal]int{},
		focused: rules.TerminalPrimary,
	}
}

func (p *fakePresenter) Append(t rules.Terminal, text string) {
	p.lines[t] = append(p.lines[t], text)
}

func (p *fakePresenter) Replace(t rules.Terminal, old, new string) bool {
	ls := p.lines[t]
	for i := len(ls) - 1; i >= 0; i-- {
		if ls[i] == old {
			ls[i] = new
			return true
		}
	}
	return false
}

func (p *fakePresenter) Relocate(t rules.Terminal, stamp, text string) {
	p.relocated = append(p.relocated, relocation{t, stamp, text})
}

func (p *fakePresenter) SetBadge(t rules.Terminal, n int) { p.badges[t] = n }

func (p *fakePresenter) Focused(t rules.Terminal) bool { return p.focused == t }

func (p *fakePresenter) primary() string {
	return strings.Join(p.lines[rules.TerminalPrimary], "\n")
}

type fakeScripts struct {
	ran []string
	err error
}

func (f *fakeScripts) InvokeScript(_ context.Context, script string) error {
	f.ran = append(f.ran, script)
	return f.err
}

type fixture struct {
	s       *Session
	net     *fakeTransport
	out     *fakePresenter
	scripts *fakeScripts
	opts    *Options
	logs    []string
}

var fixedNow = time.Date(2026, 3, 4, 17, 5, 9, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	opts := DefaultOptions()
	f := &fixture{
		net:     &fakeTransport{},
		out:     newFakePresenter(),
		scripts: &fakeScripts{},
		opts:    &opts,
	}
	f.s = NewSession(Config{
		Vars:      vars.New(),
		History:   history.New(history.DefaultSize),
		Aliases:   rules.NewAliasTable(),
		Triggers:  rules.NewTriggerTable(),
		Out:       f.out,
		Options:   f.opts,
		Scripts:   f.scripts,
		Highlight: func(s string) string { return "[" + s + "]" },
		Logf:      func(format string, args ...any) { f.logs = append(f.logs, fmt.Sprintf(format, args...)) },
		Now:       func() time.Time { return fixedNow },
	})
	f.s.SetTransport(f.net)
	return f
}

func (f *fixture) alias(expr, tmpl string) {
	f.s.Aliases.Add(rules.Alias{Expression: expr, Template: tmpl, Enabled: true})
}
