package rules

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Terminal names an output view that lines can be moved to.
type Terminal string

const (
	TerminalNone    Terminal = ""
	TerminalPrimary Terminal = "primary"
	TerminalChat    Terminal = "chat"
	TerminalTells   Terminal = "tells"
	TerminalCombat  Terminal = "combat"
	TerminalSystem  Terminal = "system"
)

// Terminals lists every known terminal in display order.
var Terminals = []Terminal{TerminalPrimary, TerminalChat, TerminalTells, TerminalCombat, TerminalSystem}

// ParseTerminal maps a user-supplied name to a Terminal.
func ParseTerminal(s string) (Terminal, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "none" {
		return TerminalNone, true
	}
	for _, t := range Terminals {
		if string(t) == s {
			return t, true
		}
	}
	return TerminalNone, false
}

// Trigger reacts to incoming lines matching Pattern.
type Trigger struct {
	ID       string `json:"id"`
	Pattern  string `json:"pattern"`
	Template string `json:"template,omitempty"`
	Enabled  bool   `json:"enabled"`
	// Character limits the trigger to one character; empty means everyone.
	Character string `json:"character,omitempty"`
	Group     string `json:"group,omitempty"`
	IsScript  bool   `json:"is_script,omitempty"`
	// StopProcessing is recorded but not consulted by the dispatcher.
	StopProcessing bool     `json:"stop_processing,omitempty"`
	MoveTo         Terminal `json:"move_to,omitempty"`
	Highlight      bool     `json:"highlight,omitempty"`
	IsSystem       bool     `json:"-"`
	Temporary      bool     `json:"temporary,omitempty"`
	// Silent sends the template without echoing it locally.
	Silent      bool      `json:"silent,omitempty"`
	Priority    int       `json:"priority,omitempty"`
	LastMatched time.Time `json:"last_matched,omitempty"`
	MatchCount  int       `json:"match_count,omitempty"`

	// Hook is a native callback supplied by an extension.
	Hook func(line string) `json:"-"`
}

// IsMatch reports whether the trigger pattern matches text. An empty
// pattern never matches.
func (t *Trigger) IsMatch(text string) bool {
	return matchPattern(t.Pattern, text)
}

// Captures returns the whole line followed by groups 1..9, or nil when
// the pattern does not match.
func (t *Trigger) Captures(text string) []string {
	return capturePattern(t.Pattern, text)
}

// AppliesTo reports whether the trigger is usable by character.
func (t *Trigger) AppliesTo(character string) bool {
	return t.Character == "" || sameName(t.Character, character)
}

// ErrUnknownTrigger is returned for an ID not present in the user table.
var ErrUnknownTrigger = errors.New("unknown trigger")

// TriggerTable holds the system and user trigger partitions. Dispatch
// iterates snapshots, so the table can change while a line is processed.
type TriggerTable struct {
	mu             sync.RWMutex
	system         []*Trigger
	user           []*Trigger
	disabledGroups map[string]bool
}

// NewTriggerTable returns an empty table.
func NewTriggerTable() *TriggerTable {
	return &TriggerTable{disabledGroups: map[string]bool{}}
}

// sortUser orders user triggers by ascending priority; equal priorities
// keep insertion order. Caller holds mu.
func (tt *TriggerTable) sortUser() {
	sort.SliceStable(tt.user, func(i, j int) bool {
		return tt.user[i].Priority < tt.user[j].Priority
	})
}

// Upsert updates the user trigger with t.ID, or failing that the one with
// t.Pattern, or appends t with a fresh ID. Statistics of an updated
// trigger are kept. The stored copy is returned along with whether it was
// newly created.
func (tt *TriggerTable) Upsert(t Trigger) (Trigger, bool) {
	t.IsSystem = false
	tt.mu.Lock()
	defer tt.mu.Unlock()
	var cur *Trigger
	if t.ID != "" {
		cur = findByID(tt.user, t.ID)
	}
	if cur == nil && t.Pattern != "" {
		for _, u := range tt.user {
			if u.Pattern == t.Pattern {
				cur = u
				break
			}
		}
	}
	if cur != nil {
		if t.ID == "" {
			t.ID = cur.ID
		}
		t.MatchCount = cur.MatchCount
		t.LastMatched = cur.LastMatched
		*cur = t
		tt.sortUser()
		return *cur, false
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	n := t
	tt.user = append(tt.user, &n)
	tt.sortUser()
	return n, true
}

func findByID(list []*Trigger, id string) *Trigger {
	for _, t := range list {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Remove deletes the user trigger with id.
func (tt *TriggerTable) Remove(id string) error {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	for i, t := range tt.user {
		if t.ID == id {
			tt.user = append(tt.user[:i:i], tt.user[i+1:]...)
			return nil
		}
	}
	return ErrUnknownTrigger
}

// Get returns a copy of the user trigger with id.
func (tt *TriggerTable) Get(id string) (Trigger, bool) {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	if t := findByID(tt.user, id); t != nil {
		return *t, true
	}
	return Trigger{}, false
}

// SetEnabled toggles the user trigger with id.
func (tt *TriggerTable) SetEnabled(id string, on bool) error {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	t := findByID(tt.user, id)
	if t == nil {
		return ErrUnknownTrigger
	}
	t.Enabled = on
	return nil
}

// InstallSystem discards every system trigger and installs ts in order.
// Triggers without an ID get one; a repeated ID keeps only its first
// occurrence.
func (tt *TriggerTable) InstallSystem(ts []Trigger) {
	list := make([]*Trigger, 0, len(ts))
	seen := map[string]bool{}
	for i := range ts {
		t := ts[i]
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		t.IsSystem = true
		list = append(list, &t)
	}
	tt.mu.Lock()
	tt.system = list
	tt.mu.Unlock()
}

// LoadUser replaces the user partition.
func (tt *TriggerTable) LoadUser(ts []Trigger) {
	list := make([]*Trigger, 0, len(ts))
	seen := map[string]bool{}
	for i := range ts {
		t := ts[i]
		t.IsSystem = false
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		list = append(list, &t)
	}
	tt.mu.Lock()
	tt.user = list
	tt.sortUser()
	tt.mu.Unlock()
}

// SystemSnapshot returns the system triggers in installed order.
func (tt *TriggerTable) SystemSnapshot() []*Trigger {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return append([]*Trigger(nil), tt.system...)
}

// UserSnapshot returns the user triggers in priority order.
func (tt *TriggerTable) UserSnapshot() []*Trigger {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return append([]*Trigger(nil), tt.user...)
}

// Users returns copies of the user triggers in priority order.
func (tt *TriggerTable) Users() []Trigger {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	out := make([]Trigger, len(tt.user))
	for i, t := range tt.user {
		out[i] = *t
	}
	return out
}

// Systems returns copies of the system triggers.
func (tt *TriggerTable) Systems() []Trigger {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	out := make([]Trigger, len(tt.system))
	for i, t := range tt.system {
		out[i] = *t
	}
	return out
}

// Touch records a match on t.
func (tt *TriggerTable) Touch(t *Trigger, now time.Time) {
	tt.mu.Lock()
	t.MatchCount++
	t.LastMatched = now
	tt.mu.Unlock()
}

// SetGroupEnabled enables or disables every user trigger in group.
func (tt *TriggerTable) SetGroupEnabled(group string, on bool) {
	key := foldKey(group)
	if key == "" {
		return
	}
	tt.mu.Lock()
	if on {
		delete(tt.disabledGroups, key)
	} else {
		tt.disabledGroups[key] = true
	}
	tt.mu.Unlock()
}

// GroupEnabled reports whether group is enabled. The empty group always is.
func (tt *TriggerTable) GroupEnabled(group string) bool {
	key := foldKey(group)
	if key == "" {
		return true
	}
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return !tt.disabledGroups[key]
}

// DisabledGroups returns the disabled group names, sorted.
func (tt *TriggerTable) DisabledGroups() []string {
	tt.mu.RLock()
	out := make([]string, 0, len(tt.disabledGroups))
	for g := range tt.disabledGroups {
		out = append(out, g)
	}
	tt.mu.RUnlock()
	sort.Strings(out)
	return out
}
