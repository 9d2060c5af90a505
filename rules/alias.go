// Package rules holds the alias and trigger tables shared by the command
// expander and the trigger dispatcher.
package rules

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

// Alias rewrites a typed command whose first word equals Expression.
type Alias struct {
	Expression string `json:"expression"`
	Template   string `json:"template"`
	Enabled    bool   `json:"enabled"`
	// Character limits the alias to one character; empty means everyone.
	Character  string `json:"character,omitempty"`
	IsScript   bool   `json:"is_script,omitempty"`
	MatchCount int    `json:"match_count,omitempty"`
}

func foldKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// sameName compares two names the way aliases and scopes are matched.
func sameName(a, b string) bool {
	return foldKey(a) == foldKey(b)
}

// AppliesTo reports whether the alias is usable by character.
func (a *Alias) AppliesTo(character string) bool {
	return a.Character == "" || sameName(a.Character, character)
}

// AliasTable is an ordered alias list. Lookups return the first match in
// table order.
type AliasTable struct {
	mu   sync.RWMutex
	list []*Alias
}

// NewAliasTable returns an empty table.
func NewAliasTable() *AliasTable {
	return &AliasTable{}
}

// Add appends a copy of a.
func (t *AliasTable) Add(a Alias) {
	a.Expression = strings.TrimSpace(a.Expression)
	if a.Expression == "" {
		return
	}
	t.mu.Lock()
	t.list = append(t.list, &a)
	t.mu.Unlock()
}

// Upsert replaces the first alias with the same expression and character
// scope, or appends a when there is none. It reports whether a new entry
// was created. The match count of a replaced alias is kept.
func (t *AliasTable) Upsert(a Alias) bool {
	a.Expression = strings.TrimSpace(a.Expression)
	if a.Expression == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cur := range t.list {
		if sameName(cur.Expression, a.Expression) && sameName(cur.Character, a.Character) {
			a.MatchCount = cur.MatchCount
			*cur = a
			return false
		}
	}
	t.list = append(t.list, &a)
	return true
}

// Remove deletes every alias with the given expression and reports how
// many were removed.
func (t *AliasTable) Remove(expression string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	kept := t.list[:0]
	for _, a := range t.list {
		if sameName(a.Expression, expression) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	for i := len(kept); i < len(t.list); i++ {
		t.list[i] = nil
	}
	t.list = kept
	return n
}

// SetEnabled toggles every alias with the given expression.
func (t *AliasTable) SetEnabled(expression string, on bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, a := range t.list {
		if sameName(a.Expression, expression) {
			a.Enabled = on
			n++
		}
	}
	return n
}

// Find returns the first enabled alias whose expression equals head and
// which applies to character.
func (t *AliasTable) Find(head, character string) (Alias, bool) {
	if head == "" {
		return Alias{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a := t.find(head, character); a != nil {
		return *a, true
	}
	return Alias{}, false
}

// Use is Find that also counts the match.
func (t *AliasTable) Use(head, character string) (Alias, bool) {
	if head == "" {
		return Alias{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	a := t.find(head, character)
	if a == nil {
		return Alias{}, false
	}
	a.MatchCount++
	return *a, true
}

func (t *AliasTable) find(head, character string) *Alias {
	key := foldKey(head)
	for _, a := range t.list {
		if !a.Enabled || foldKey(a.Expression) != key {
			continue
		}
		if a.AppliesTo(character) {
			return a
		}
	}
	return nil
}

// Snapshot returns copies of the aliases in table order.
func (t *AliasTable) Snapshot() []Alias {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Alias, len(t.list))
	for i, a := range t.list {
		out[i] = *a
	}
	return out
}

// Load replaces the table contents.
func (t *AliasTable) Load(as []Alias) {
	t.mu.Lock()
	t.list = t.list[:0]
	for i := range as {
		a := as[i]
		if strings.TrimSpace(a.Expression) == "" {
			continue
		}
		t.list = append(t.list, &a)
	}
	t.mu.Unlock()
}

// Len reports the number of aliases.
func (t *AliasTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.list)
}
