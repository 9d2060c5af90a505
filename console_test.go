package main

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"mudpipe/rules"
)

func TestConsoleHoldRelease(t *testing.T) {
	out := &syncBuffer{}
	c := newConsole(out)
	c.hold()
	c.Append(rules.TerminalPrimary, "You see gold")
	if out.String() != "" {
		t.Fatalf("written while held: %q", out.String())
	}
	if !c.Replace(rules.TerminalPrimary, "You see gold", "*You see gold*") {
		t.Fatalf("Replace found nothing")
	}
	c.release()
	if got := out.String(); got != "*You see gold*\n" {
		t.Fatalf("written %q", got)
	}
	c.release()
	c.Append(rules.TerminalPrimary, "next")
	if got := out.String(); got != "*You see gold*\nnext\n" {
		t.Fatalf("written %q", got)
	}
}

func TestConsoleFocus(t *testing.T) {
	out := &syncBuffer{}
	c := newConsole(out)
	c.Relocate(rules.TerminalChat, "3:04 PM", "Ann says hi")
	if strings.Contains(out.String(), "Ann says hi") {
		t.Fatalf("unfocused terminal written: %q", out.String())
	}
	c.setFocus(rules.TerminalChat)
	if !c.Focused(rules.TerminalChat) || c.Focused(rules.TerminalPrimary) {
		t.Fatalf("focus not switched")
	}
	if !strings.Contains(out.String(), "Ann says hi") {
		t.Fatalf("pending chat lines not written on focus: %q", out.String())
	}
	c.SetBadge(rules.TerminalTells, 3)
	if c.Badge(rules.TerminalTells) != 3 {
		t.Fatalf("badge not stored")
	}
}

func TestConsoleUnknownTerminal(t *testing.T) {
	c := newConsole(nil)
	c.Append(rules.Terminal("elsewhere"), "stray")
	if diff := cmp.Diff([]string{"stray"}, c.lines(rules.TerminalPrimary)); diff != "" {
		t.Fatalf("primary mismatch (-want +got):\n%s", diff)
	}
}

func TestMessageLogTrim(t *testing.T) {
	l := &messageLog{max: 3}
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		l.Add(m)
	}
	if diff := cmp.Diff([]string{"c", "d", "e"}, l.Entries("", false)); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	msgs, next := l.Since(1)
	if next != 5 || len(msgs) != 3 {
		t.Fatalf("Since(1) = %d msgs, next %d", len(msgs), next)
	}
	msgs, _ = l.Since(4)
	if len(msgs) != 1 || msgs[0].Text != "e" {
		t.Fatalf("Since(4) = %+v", msgs)
	}
	if msgs, _ := l.Since(9); len(msgs) != 0 {
		t.Fatalf("Since past the end = %+v", msgs)
	}
}

func TestMessageLogTimestamps(t *testing.T) {
	l := &messageLog{}
	l.AddAt("hello", time.Date(2024, 1, 1, 15, 4, 0, 0, time.UTC))
	if got := l.Entries("15:04", true); got[0] != "[15:04] hello" {
		t.Fatalf("got %q", got[0])
	}
	if got := l.String(); got != "hello" {
		t.Fatalf("String = %q", got)
	}
	if l.ReplaceLast("missing", "x") {
		t.Fatalf("ReplaceLast matched a missing entry")
	}
}
