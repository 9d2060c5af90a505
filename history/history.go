// Package history records sent commands for recall with the up and down
// keys.
package history

import "sync"

// MinLength is the shortest command kept. Shorter commands are usually
// single-letter movement and would bury everything else.
const MinLength = 3

// DefaultSize is used when New is given a non-positive size.
const DefaultSize = 500

// Buffer is an ordered command log with a recall cursor. Cursor 0 means no
// entry is selected; cursor n selects the n-th newest entry.
type Buffer struct {
	mu      sync.Mutex
	entries []string
	cursor  int
	max     int
}

// New returns a buffer holding at most max entries.
func New(max int) *Buffer {
	if max <= 0 {
		max = DefaultSize
	}
	return &Buffer{max: max}
}

// Add records cmd unless it is too short or repeats the newest entry. The
// cursor is reset either way.
func (b *Buffer) Add(cmd string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursor = 0
	if len(cmd) < MinLength {
		return
	}
	if n := len(b.entries); n > 0 && b.entries[n-1] == cmd {
		return
	}
	b.entries = append(b.entries, cmd)
	if len(b.entries) > b.max {
		b.entries = b.entries[len(b.entries)-b.max:]
	}
}

// Next moves toward older entries, stopping at the oldest.
func (b *Buffer) Next() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cursor < len(b.entries) {
		b.cursor++
	}
	return b.current()
}

// Previous moves toward newer entries, stopping at 0 where it returns "".
func (b *Buffer) Previous() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cursor > 0 {
		b.cursor--
	}
	return b.current()
}

// Current returns the selected entry, or "" when none is selected.
func (b *Buffer) Current() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

func (b *Buffer) current() string {
	if b.cursor == 0 || b.cursor > len(b.entries) {
		return ""
	}
	return b.entries[len(b.entries)-b.cursor]
}

// Clear drops every entry and resets the cursor.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.entries = nil
	b.cursor = 0
	b.mu.Unlock()
}

// Len reports the number of entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Entries returns a copy of the log, oldest first.
func (b *Buffer) Entries() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.entries...)
}

// Resize changes the capacity, dropping the oldest entries if needed.
func (b *Buffer) Resize(max int) {
	if max <= 0 {
		max = DefaultSize
	}
	b.mu.Lock()
	b.max = max
	if len(b.entries) > max {
		b.entries = b.entries[len(b.entries)-max:]
	}
	if b.cursor > len(b.entries) {
		b.cursor = len(b.entries)
	}
	b.mu.Unlock()
}
