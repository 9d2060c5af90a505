package pipeline

import (
	"errors"
	"strings"

	"mudpipe/rules"
)

const (
	// MaxAliasDepth bounds nested alias expansion.
	MaxAliasDepth = 5
	// SpamRepeatLimit is the number of identical sends after which the
	// spam query is injected.
	SpamRepeatLimit = 15
	// spamMinLength is the shortest command the spam guard counts.
	spamMinLength = 3
)

var errAliasDepth = errors.New("alias recursion limit reached")

// Expander plans the actions for one line of typed input.
type Expander struct {
	s *Session

	spamLast  string
	spamCount int
}

func newExpander(s *Session) *Expander {
	return &Expander{s: s}
}

// Expand returns the actions for raw without side effects on the session.
func (e *Expander) Expand(raw string) []Action {
	return e.plan(raw, false)
}

// Plan expands raw and counts alias use. The spam guard is applied while
// the plan runs, so only sends that reach the transport are counted.
func (e *Expander) Plan(raw string) []Action {
	return e.plan(raw, true)
}

func (e *Expander) plan(raw string, record bool) []Action {
	if strings.TrimSpace(raw) == "" {
		return []Action{{Kind: ActionSend}}
	}
	out, _, err := e.expand(raw, 0, record)
	if err != nil {
		if record {
			e.s.observer.RecursionAborted()
		}
		return []Action{{Kind: ActionError, Text: err.Error()}}
	}
	return out
}

// expand rewrites text at the given alias depth. stop is set when a
// script alias ended the call.
func (e *Expander) expand(text string, depth int, record bool) (out []Action, stop bool, err error) {
	if depth >= MaxAliasDepth {
		return nil, false, errAliasDepth
	}
	s := e.s
	text = s.Vars.Replace(text)
	char := s.Character()
	prefix := s.Prefix()

	for _, seg := range rules.SplitCommands(text) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		head, tail := rules.SplitHead(seg)

		var (
			a  rules.Alias
			ok bool
		)
		if record && s.Options.AliasesEnabled {
			a, ok = s.Aliases.Use(head, char)
		} else {
			a, ok = s.Aliases.Find(head, char)
		}
		if ok && !s.Options.AliasesEnabled {
			out = append(out, Action{Kind: ActionWarn, Text: "aliases are disabled"})
			ok = false
		}
		if !ok {
			out = append(out, e.literal(seg, head, tail, prefix))
			continue
		}

		if a.IsScript {
			out = append(out, Action{Kind: ActionScript, Text: rules.Substitute(a.Template, rules.AliasArgs(tail))})
			return out, true, nil
		}
		var next string
		if rules.HasPlaceholders(a.Template) {
			next = rules.Substitute(a.Template, rules.AliasArgs(tail))
		} else {
			next = strings.TrimSpace(a.Template + " " + tail)
		}
		sub, stop, err := e.expand(next, depth+1, record)
		if err != nil {
			return nil, false, err
		}
		out = append(out, sub...)
		if stop {
			return out, true, nil
		}
	}
	return out, false, nil
}

func (e *Expander) literal(seg, head, tail, prefix string) Action {
	if strings.HasPrefix(seg, prefix) {
		return Action{Kind: ActionCommand, Name: strings.TrimPrefix(head, prefix), Params: tail}
	}
	return Action{Kind: ActionSend, Text: seg}
}

// countSend records one executed send and reports whether the spam
// query is due. Identical sends of spamMinLength or more characters are
// counted; anything else restarts the count.
func (e *Expander) countSend(text string) bool {
	switch {
	case len(text) < spamMinLength:
		e.spamLast, e.spamCount = text, 0
	case text == e.spamLast:
		e.spamCount++
	default:
		e.spamLast, e.spamCount = text, 1
	}
	if e.spamCount < SpamRepeatLimit {
		return false
	}
	e.spamCount = 0
	return true
}
