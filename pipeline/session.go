// Package pipeline turns typed input into outbound lines and reacts to
// incoming lines with triggers.
//
// A Session is not safe for concurrent use. The host serializes every
// entry point (typed input, received lines, timers) onto one goroutine;
// named commands and scripts may call back into Send on that goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mudpipe/history"
	"mudpipe/rules"
	"mudpipe/vars"
)

var (
	// ErrNotConnected is returned when a line is sent without a transport.
	ErrNotConnected = errors.New("not connected")
	// ErrScriptAbort signals that a script asked to stop all scripts.
	ErrScriptAbort = errors.New("script aborted")
)

// Transport is the line-oriented connection to the game.
type Transport interface {
	Send(ctx context.Context, line string) error
	Connected() bool
	// CancelPending drops lines queued but not yet written and returns
	// how many were dropped.
	CancelPending() int
}

// ScriptRunner executes script text from script aliases and triggers.
type ScriptRunner interface {
	InvokeScript(ctx context.Context, script string) error
}

// Presenter receives the visible effects of the pipeline.
type Presenter interface {
	Append(t rules.Terminal, text string)
	// Replace swaps the most recent occurrence of old in t for new.
	Replace(t rules.Terminal, old, new string) bool
	Relocate(t rules.Terminal, stamp, text string)
	SetBadge(t rules.Terminal, unread int)
	Focused(t rules.Terminal) bool
}

// Observer is told about pipeline activity, typically for metrics.
type Observer interface {
	LineChecked()
	TriggerFired(system bool)
	LineSent()
	RecursionAborted()
}

type nopObserver struct{}

func (nopObserver) LineChecked()      {}
func (nopObserver) TriggerFired(bool) {}
func (nopObserver) LineSent()         {}
func (nopObserver) RecursionAborted() {}

// Options are the user-adjustable switches the pipeline consults on every
// call.
type Options struct {
	AliasesEnabled  bool           `yaml:"aliases_enabled"`
	TriggersEnabled bool           `yaml:"triggers_enabled"`
	CommandPrefix   string         `yaml:"command_prefix"`
	EchoCommands    bool           `yaml:"echo_commands"`
	TimestampStyle  TimestampStyle `yaml:"timestamp_style"`
	// SpamQuery is sent after SpamRepeatLimit identical commands.
	SpamQuery string `yaml:"spam_query"`
}

// DefaultOptions returns the options a new profile starts with.
func DefaultOptions() Options {
	return Options{
		AliasesEnabled:  true,
		TriggersEnabled: true,
		CommandPrefix:   "#",
		EchoCommands:    true,
		TimestampStyle:  TimestampHoursMinutes,
		SpamQuery:       "score",
	}
}

// Config wires a Session to its collaborators. Vars, History, Aliases,
// Triggers, Commands, Out, and Options are required.
type Config struct {
	Vars     *vars.Store
	History  *history.Buffer
	Aliases  *rules.AliasTable
	Triggers *rules.TriggerTable
	Commands *Registry
	Out      Presenter
	Options  *Options

	Scripts   ScriptRunner
	Observer  Observer
	Highlight func(text string) string
	Logf      func(format string, args ...any)
	Now       func() time.Time
}

// Session owns the shared rule tables and runs both pipelines over them.
type Session struct {
	Vars     *vars.Store
	History  *history.Buffer
	Aliases  *rules.AliasTable
	Triggers *rules.TriggerTable
	Commands *Registry
	Out      Presenter
	Options  *Options

	scripts   ScriptRunner
	observer  Observer
	highlight func(string) string
	logf      func(string, ...any)
	now       func() time.Time

	mu        sync.Mutex
	transport Transport

	expander   *Expander
	dispatcher *Dispatcher
}

// NewSession builds a session from cfg, filling optional fields with
// defaults.
func NewSession(cfg Config) *Session {
	s := &Session{
		Vars:      cfg.Vars,
		History:   cfg.History,
		Aliases:   cfg.Aliases,
		Triggers:  cfg.Triggers,
		Commands:  cfg.Commands,
		Out:       cfg.Out,
		Options:   cfg.Options,
		scripts:   cfg.Scripts,
		observer:  cfg.Observer,
		highlight: cfg.Highlight,
		logf:      cfg.Logf,
		now:       cfg.Now,
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.highlight == nil {
		s.highlight = defaultHighlight
	}
	if s.logf == nil {
		s.logf = log.Printf
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.Commands == nil {
		s.Commands = NewRegistry()
	}
	s.expander = newExpander(s)
	s.dispatcher = newDispatcher(s)
	return s
}

func defaultHighlight(text string) string {
	return "\x1b[7m" + text + "\x1b[0m"
}

// SetTransport attaches t, or detaches when t is nil.
func (s *Session) SetTransport(t Transport) {
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
}

// Transport returns the attached transport, which may be nil.
func (s *Session) Transport() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// SetScripts replaces the script runner.
func (s *Session) SetScripts(r ScriptRunner) {
	s.scripts = r
}

// Connected reports whether a transport is attached and open.
func (s *Session) Connected() bool {
	t := s.Transport()
	return t != nil && t.Connected()
}

// Character returns the active character name.
func (s *Session) Character() string {
	return s.Vars.Get(vars.Character)
}

// Prefix returns the named-command prefix.
func (s *Session) Prefix() string {
	if s.Options.CommandPrefix == "" {
		return "#"
	}
	return s.Options.CommandPrefix
}

// Echo shows text in the primary terminal.
func (s *Session) Echo(text string) {
	s.Out.Append(rules.TerminalPrimary, text)
}

// Warn shows and logs a warning.
func (s *Session) Warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.logf("warning: %s", msg)
	s.Out.Append(rules.TerminalPrimary, "warning: "+msg)
}

// Error shows and logs an error.
func (s *Session) Error(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.logf("error: %s", msg)
	s.Out.Append(rules.TerminalPrimary, "error: "+msg)
}

// Send expands raw and executes the resulting actions in order.
func (s *Session) Send(ctx context.Context, raw string) {
	if raw != "" {
		s.History.Add(raw)
		s.Vars.Set(vars.LastCommand, raw)
	}
	s.run(ctx, s.expander.Plan(raw))
}

// Expand returns the actions Send would execute for raw without running
// them or touching history.
func (s *Session) Expand(raw string) []Action {
	return s.expander.Expand(raw)
}

// CheckLine runs the trigger passes over one received line.
func (s *Session) CheckLine(ctx context.Context, line Line) {
	s.dispatcher.CheckLine(ctx, line)
}

// Focus clears the unread count of t.
func (s *Session) Focus(t rules.Terminal) {
	s.dispatcher.clearUnread(t)
}

// RunScript runs script text the way a script alias does.
func (s *Session) RunScript(ctx context.Context, script string) {
	s.invokeScript(ctx, script)
}

// sendLine writes one line to the transport, echoing it unless silent.
func (s *Session) sendLine(ctx context.Context, line string, silent bool) error {
	t := s.Transport()
	if t == nil || !t.Connected() {
		return ErrNotConnected
	}
	if s.Options.EchoCommands && !silent {
		s.Echo("> " + line)
	}
	if err := t.Send(ctx, line); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	s.observer.LineSent()
	return nil
}

// invokeScript runs script text. Any failure cancels queued sends; an
// abort is reported as a notice, anything else as an error.
func (s *Session) invokeScript(ctx context.Context, script string) {
	if s.scripts == nil {
		s.Warn("scripting is not available")
		return
	}
	err := s.scripts.InvokeScript(ctx, script)
	if err == nil {
		return
	}
	if errors.Is(err, ErrScriptAbort) {
		s.cancelPending()
		s.Echo("scripts terminated")
		s.logf("scripts terminated")
		return
	}
	s.Error("%v", err)
	s.cancelPending()
}

func (s *Session) cancelPending() {
	if t := s.Transport(); t != nil {
		if n := t.CancelPending(); n > 0 {
			s.logf("cancelled %d pending sends", n)
		}
	}
}

// Unread returns the unread count of t.
func (s *Session) Unread(t rules.Terminal) int {
	return s.dispatcher.Unread(t)
}
