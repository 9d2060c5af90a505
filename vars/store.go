// Package vars holds the session's user variables and the @Name
// substitution applied to typed commands and trigger templates.
package vars

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
)

// Well-known variable names.
const (
	Character   = "Character"
	LastCommand = "LastCommand"
	Username    = "Username"
	Password    = "Password"
)

// Variable is a single stored key/value pair. Key keeps the spelling used
// by the most recent Set.
type Variable struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Resolver supplies values for names that are not kept in the store, such
// as the login credentials of the active profile.
type Resolver func(name string) (string, bool)

// Store maps case-insensitive names to values.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]Variable
	reserved Resolver
}

// New returns an empty store.
func New() *Store {
	return &Store{entries: map[string]Variable{}}
}

// fold normalizes a key. A Caser is stateful, so each call gets its own.
func fold(key string) string {
	return cases.Fold().String(strings.TrimSpace(key))
}

// IsReserved reports whether name is one of the identity variables that
// resolve from the profile instead of the store.
func IsReserved(name string) bool {
	k := fold(name)
	return k == fold(Username) || k == fold(Password)
}

// SetReserved installs the resolver used for @Username and @Password.
func (s *Store) SetReserved(r Resolver) {
	s.mu.Lock()
	s.reserved = r
	s.mu.Unlock()
}

// Set creates or replaces a variable. Empty keys and reserved names are
// ignored.
func (s *Store) Set(key, value string) {
	key = strings.TrimSpace(key)
	if key == "" || IsReserved(key) {
		return
	}
	s.mu.Lock()
	s.entries[fold(key)] = Variable{Key: key, Value: value}
	s.mu.Unlock()
}

// Get returns the value of key, or "" when it is not set.
func (s *Store) Get(key string) string {
	v, _ := s.Lookup(key)
	return v
}

// Lookup returns the value of key and whether it exists.
func (s *Store) Lookup(key string) (string, bool) {
	k := fold(key)
	s.mu.RLock()
	v, ok := s.entries[k]
	s.mu.RUnlock()
	return v.Value, ok
}

// Delete removes key. Deleting a missing key is a no-op.
func (s *Store) Delete(key string) {
	k := fold(key)
	s.mu.Lock()
	delete(s.entries, k)
	s.mu.Unlock()
}

// Clear removes every stored variable.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = map[string]Variable{}
	s.mu.Unlock()
}

// All returns the stored variables sorted by key.
func (s *Store) All() []Variable {
	s.mu.RLock()
	out := make([]Variable, 0, len(s.entries))
	for _, v := range s.entries {
		out = append(out, v)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Key) < strings.ToLower(out[j].Key)
	})
	return out
}

// Load replaces the store contents with vs.
func (s *Store) Load(vs []Variable) {
	s.Clear()
	for _, v := range vs {
		s.Set(v.Key, v.Value)
	}
}

func (s *Store) resolve(name string) (string, bool) {
	s.mu.RLock()
	r := s.reserved
	s.mu.RUnlock()
	if IsReserved(name) {
		if r == nil {
			return "", false
		}
		return r(name)
	}
	return s.Lookup(name)
}

func isNameRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Replace substitutes every @Name in text whose name resolves. The whole
// run of name characters after '@' is the name; unknown names are left as
// written.
func (s *Store) Replace(text string) string {
	if !strings.ContainsRune(text, '@') {
		return text
	}
	var b strings.Builder
	rs := []rune(text)
	for i := 0; i < len(rs); i++ {
		if rs[i] != '@' {
			b.WriteRune(rs[i])
			continue
		}
		j := i + 1
		for j < len(rs) && isNameRune(rs[j]) {
			j++
		}
		if j == i+1 {
			b.WriteRune('@')
			continue
		}
		name := string(rs[i+1 : j])
		if v, ok := s.resolve(name); ok {
			b.WriteString(v)
		} else {
			b.WriteRune('@')
			b.WriteString(name)
		}
		i = j - 1
	}
	return b.String()
}
