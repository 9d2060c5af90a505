package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// ActionKind identifies a primitive action.
type ActionKind int

const (
	ActionSend ActionKind = iota
	ActionCommand
	ActionScript
	ActionWarn
	ActionError
)

func (k ActionKind) String() string {
	switch k {
	case ActionSend:
		return "send"
	case ActionCommand:
		return "command"
	case ActionScript:
		return "script"
	case ActionWarn:
		return "warn"
	case ActionError:
		return "error"
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

// Action is one step of an expanded input line.
type Action struct {
	Kind ActionKind
	// Text is the line to send, the script source, or the message.
	Text string
	// Name and Params address a named command.
	Name   string
	Params string
	// Auto marks the query injected by the spam guard.
	Auto bool
}

// run executes plan in order. A failed action is reported and the next
// one still runs, except that a missing transport ends the call.
func (s *Session) run(ctx context.Context, plan []Action) {
	for _, a := range plan {
		if ctx.Err() != nil {
			return
		}
		err := s.execute(ctx, a)
		if err == nil && a.Kind == ActionSend && !a.Auto && s.expander.countSend(a.Text) {
			if q := s.Options.SpamQuery; q != "" {
				err = s.execute(ctx, Action{Kind: ActionSend, Text: q, Auto: true})
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, ErrNotConnected) {
			s.Warn("not connected")
			return
		}
		s.Error("%v", err)
	}
}

func (s *Session) execute(ctx context.Context, a Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logf("panic in %s action: %v\n%s", a.Kind, r, debug.Stack())
			err = fmt.Errorf("%s failed: %v", a.Kind, r)
		}
	}()
	switch a.Kind {
	case ActionSend:
		return s.sendLine(ctx, a.Text, false)
	case ActionScript:
		s.invokeScript(ctx, a.Text)
	case ActionCommand:
		cmd, ok := s.Commands.Resolve(a.Name)
		if !ok {
			s.Warn("command not found: %s%s", s.Prefix(), a.Name)
			return nil
		}
		if err := s.Commands.Execute(ctx, cmd, s, a.Params); err != nil {
			return fmt.Errorf("%s%s: %w", s.Prefix(), cmd.Name, err)
		}
	case ActionWarn:
		s.Warn("%s", a.Text)
	case ActionError:
		s.Error("%s", a.Text)
	}
	return nil
}
