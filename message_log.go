package main

import (
	"strings"
	"sync"
	"time"
)

type timedMessage struct {
	Text string
	Time time.Time
}

type messageLog struct {
	mu      sync.Mutex
	entries []timedMessage
	max     int
	// dropped counts entries trimmed from the front.
	dropped int
}

func (l *messageLog) Add(msg string) {
	l.AddAt(msg, time.Now())
}

func (l *messageLog) AddAt(msg string, at time.Time) {
	entry := timedMessage{Text: msg, Time: at}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if l.max > 0 && len(l.entries) > l.max {
		n := len(l.entries) - l.max
		l.entries = l.entries[n:]
		l.dropped += n
	}
	l.mu.Unlock()
}

// ReplaceLast swaps the most recent entry equal to old for new.
func (l *messageLog) ReplaceLast(old, new string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Text == old {
			l.entries[i].Text = new
			return true
		}
	}
	return false
}

// Since returns entries with absolute index >= from and the next index.
func (l *messageLog) Since(from int) ([]timedMessage, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := from - l.dropped
	if start < 0 {
		start = 0
	}
	if start > len(l.entries) {
		start = len(l.entries)
	}
	out := append([]timedMessage(nil), l.entries[start:]...)
	return out, l.dropped + len(l.entries)
}

func (l *messageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *messageLog) Entries(format string, useTimestamps bool) []string {
	l.mu.Lock()
	entries := make([]timedMessage, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	out := make([]string, len(entries))
	if format == "" {
		format = "3:04PM"
	}
	if useTimestamps {
		for i, msg := range entries {
			out[i] = "[" + msg.Time.Format(format) + "] " + msg.Text
		}
		return out
	}
	for i, msg := range entries {
		out[i] = msg.Text
	}
	return out
}

func (l *messageLog) String() string {
	return strings.Join(l.Entries("", false), "\n")
}
