package pipeline

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"sync"

	"mudpipe/rules"
)

// Line is one received line. Text is the plain text that patterns are
// matched against; Raw keeps the formatting as displayed.
type Line struct {
	Text string
	Raw  string
}

func (l Line) display() string {
	if l.Raw != "" {
		return l.Raw
	}
	return l.Text
}

// Dispatcher runs received lines through the system and user triggers.
type Dispatcher struct {
	s *Session

	mu     sync.Mutex
	unread map[rules.Terminal]int
}

func newDispatcher(s *Session) *Dispatcher {
	return &Dispatcher{s: s, unread: map[rules.Terminal]int{}}
}

// CheckLine evaluates every system trigger, then every user trigger when
// user triggers are enabled. Blank lines are ignored.
func (d *Dispatcher) CheckLine(ctx context.Context, line Line) {
	if strings.TrimSpace(line.Text) == "" {
		return
	}
	s := d.s
	s.observer.LineChecked()

	for _, t := range s.Triggers.SystemSnapshot() {
		if !t.Enabled || !t.IsMatch(line.Text) {
			continue
		}
		d.fire(ctx, t, line)
	}

	if !s.Options.TriggersEnabled {
		return
	}
	char := s.Character()
	var temporary []string
	for _, t := range s.Triggers.UserSnapshot() {
		if !t.Enabled || t.Pattern == "" || !t.AppliesTo(char) || !s.Triggers.GroupEnabled(t.Group) {
			continue
		}
		if !t.IsMatch(line.Text) {
			continue
		}
		s.Triggers.Touch(t, s.now())
		d.fire(ctx, t, line)
		if t.Temporary {
			temporary = append(temporary, t.ID)
		}
	}
	for _, id := range temporary {
		if err := s.Triggers.Remove(id); err != nil && !errors.Is(err, rules.ErrUnknownTrigger) {
			s.logf("remove temporary trigger %s: %v", id, err)
		}
	}
}

func (d *Dispatcher) fire(ctx context.Context, t *rules.Trigger, line Line) {
	s := d.s
	defer func() {
		if r := recover(); r != nil {
			s.logf("panic in trigger %s (%q): %v\n%s", t.ID, t.Pattern, r, debug.Stack())
			s.Error("trigger %q failed: %v", t.Pattern, r)
		}
	}()
	s.observer.TriggerFired(t.IsSystem)

	if t.Hook != nil {
		t.Hook(line.Text)
	}
	if t.Highlight && !t.IsSystem {
		raw := line.display()
		s.Out.Replace(rules.TerminalPrimary, raw, s.highlight(raw))
	}
	if t.Template != "" {
		cmd := t.Template
		if !t.IsSystem {
			cmd = s.Vars.Replace(rules.Substitute(cmd, t.Captures(line.Text)))
		}
		if t.IsScript {
			s.invokeScript(ctx, cmd)
		} else if err := s.sendLine(ctx, cmd, t.Silent); err != nil {
			if errors.Is(err, ErrNotConnected) {
				s.logf("trigger %s: %v", t.ID, err)
			} else {
				s.Error("%v", err)
			}
		}
	}
	if t.MoveTo != rules.TerminalNone {
		d.relocate(t.MoveTo, line.display())
	}
}

// relocate copies text to target with a timestamp and bumps its unread
// count, or clears the count when target is focused.
func (d *Dispatcher) relocate(target rules.Terminal, text string) {
	s := d.s
	stamp := s.now().Format(s.Options.TimestampStyle.Layout())
	s.Out.Relocate(target, stamp, text)

	d.mu.Lock()
	if s.Out.Focused(target) {
		d.unread[target] = 0
	} else {
		d.unread[target]++
	}
	n := d.unread[target]
	d.mu.Unlock()
	s.Out.SetBadge(target, n)
}

func (d *Dispatcher) clearUnread(t rules.Terminal) {
	d.mu.Lock()
	d.unread[t] = 0
	d.mu.Unlock()
	d.s.Out.SetBadge(t, 0)
}

// Unread returns the unread count of t.
func (d *Dispatcher) Unread(t rules.Terminal) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unread[t]
}
