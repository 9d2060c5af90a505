package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"mudpipe/rules"
)

const (
	maxMessages = 1000
)

var (
	highlightStyle = lipgloss.NewStyle().Reverse(true).Bold(true)
	stampStyle     = lipgloss.NewStyle().Faint(true)
	tagStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// console keeps one message log per terminal and writes the focused
// terminal to out. Lines are written on flush so that a highlight applied
// while a line is being checked shows up in place.
type console struct {
	mu      sync.Mutex
	out     io.Writer
	logs    map[rules.Terminal]*messageLog
	printed map[rules.Terminal]int
	badges  map[rules.Terminal]int
	focus   rules.Terminal
	holds   int
}

func newConsole(out io.Writer) *console {
	c := &console{
		out:     out,
		logs:    map[rules.Terminal]*messageLog{},
		printed: map[rules.Terminal]int{},
		badges:  map[rules.Terminal]int{},
		focus:   rules.TerminalPrimary,
	}
	for _, t := range rules.Terminals {
		c.logs[t] = &messageLog{max: maxMessages}
	}
	return c
}

var con = newConsole(os.Stdout)

func consoleMessage(msg string) {
	if msg == "" {
		return
	}
	con.Append(rules.TerminalPrimary, msg)
}

func (c *console) log(t rules.Terminal) *messageLog {
	if l, ok := c.logs[t]; ok {
		return l
	}
	return c.logs[rules.TerminalPrimary]
}

func (c *console) Append(t rules.Terminal, text string) {
	c.log(t).Add(text)
	c.flush()
}

func (c *console) Replace(t rules.Terminal, old, new string) bool {
	ok := c.log(t).ReplaceLast(old, new)
	c.flush()
	return ok
}

func (c *console) Relocate(t rules.Terminal, stamp, text string) {
	c.log(t).Add(stampStyle.Render("["+stamp+"]") + " " + text)
	c.flush()
}

func (c *console) SetBadge(t rules.Terminal, unread int) {
	c.mu.Lock()
	c.badges[t] = unread
	c.mu.Unlock()
}

func (c *console) Badge(t rules.Terminal) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.badges[t]
}

func (c *console) Focused(t rules.Terminal) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focus == t
}

// setFocus switches the written terminal and prints what it has not shown.
func (c *console) setFocus(t rules.Terminal) {
	c.mu.Lock()
	if c.focus != t {
		fmt.Fprintln(c.out, tagStyle.Render("-- "+string(t)+" --"))
	}
	c.focus = t
	c.mu.Unlock()
	c.flush()
}

// hold delays writing until the matching release.
func (c *console) hold() {
	c.mu.Lock()
	c.holds++
	c.mu.Unlock()
}

func (c *console) release() {
	c.mu.Lock()
	if c.holds > 0 {
		c.holds--
	}
	c.mu.Unlock()
	c.flush()
}

func (c *console) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holds > 0 || c.out == nil {
		return
	}
	t := c.focus
	msgs, next := c.log(t).Since(c.printed[t])
	c.printed[t] = next
	for _, m := range msgs {
		fmt.Fprintln(c.out, m.Text)
	}
}

func (c *console) lines(t rules.Terminal) []string {
	return c.log(t).Entries("", false)
}

func renderHighlight(text string) string {
	return highlightStyle.Render(text)
}
