package rules

import (
	"log"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
)

// matchTimeout bounds a single evaluation so a pathological pattern cannot
// stall line processing.
const matchTimeout = 250 * time.Millisecond

// patternCache holds compiled trigger patterns keyed by their source. A nil
// entry marks a pattern that failed to compile.
var patternCache = struct {
	sync.RWMutex
	m map[string]*regexp2.Regexp
}{m: map[string]*regexp2.Regexp{}}

func compilePattern(pattern string) *regexp2.Regexp {
	patternCache.RLock()
	re, ok := patternCache.m[pattern]
	patternCache.RUnlock()
	if ok {
		return re
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		log.Printf("trigger pattern %q: %v", pattern, err)
		re = nil
	} else {
		re.MatchTimeout = matchTimeout
	}
	patternCache.Lock()
	patternCache.m[pattern] = re
	patternCache.Unlock()
	return re
}

// ValidatePattern reports a compile error for pattern, if any.
func ValidatePattern(pattern string) error {
	_, err := regexp2.Compile(pattern, regexp2.None)
	return err
}

// matchPattern reports whether pattern matches text. Empty and invalid
// patterns never match.
func matchPattern(pattern, text string) bool {
	if pattern == "" {
		return false
	}
	re := compilePattern(pattern)
	if re == nil {
		return false
	}
	ok, err := re.MatchString(text)
	if err != nil {
		log.Printf("trigger pattern %q: %v", pattern, err)
		return false
	}
	return ok
}

// capturePattern returns text followed by groups 1..9, or nil when
// pattern does not match.
func capturePattern(pattern, text string) []string {
	if pattern == "" {
		return nil
	}
	re := compilePattern(pattern)
	if re == nil {
		return nil
	}
	m, err := re.FindStringMatch(text)
	if err != nil || m == nil {
		return nil
	}
	groups := m.Groups()
	out := make([]string, 0, MaxArgs)
	out = append(out, text)
	for i := 1; i < len(groups) && i < MaxArgs; i++ {
		out = append(out, groups[i].String())
	}
	return out
}
