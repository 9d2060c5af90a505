package rules

import "strings"

// MaxArgs is the number of positional placeholders (%0 through %9).
const MaxArgs = 10

// HasPlaceholders reports whether tmpl contains any %0..%9 marker.
func HasPlaceholders(tmpl string) bool {
	for i := 0; i+1 < len(tmpl); i++ {
		if tmpl[i] != '%' {
			continue
		}
		c := tmpl[i+1]
		if c == '%' {
			i++
			continue
		}
		if c >= '0' && c <= '9' {
			return true
		}
	}
	return false
}

// Substitute replaces %0..%9 in tmpl with args[n]. Missing args become
// empty strings and %% produces a literal percent sign.
func Substitute(tmpl string, args []string) string {
	if !strings.ContainsRune(tmpl, '%') {
		return tmpl
	}
	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '%' || i+1 >= len(tmpl) {
			b.WriteByte(c)
			continue
		}
		n := tmpl[i+1]
		switch {
		case n == '%':
			b.WriteByte('%')
			i++
		case n >= '0' && n <= '9':
			if idx := int(n - '0'); idx < len(args) {
				b.WriteString(args[idx])
			}
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// AliasArgs builds the placeholder values for an alias: %0 is the whole
// tail and %1..%9 are its whitespace-separated words.
func AliasArgs(tail string) []string {
	tail = strings.TrimSpace(tail)
	args := make([]string, 1, MaxArgs)
	args[0] = tail
	for _, w := range strings.Fields(tail) {
		if len(args) == MaxArgs {
			break
		}
		args = append(args, w)
	}
	return args
}

// SplitHead returns the first whitespace-delimited token of seg and the
// trimmed remainder.
func SplitHead(seg string) (head, tail string) {
	seg = strings.TrimSpace(seg)
	i := strings.IndexFunc(seg, isSpace)
	if i < 0 {
		return seg, ""
	}
	return seg[:i], strings.TrimSpace(seg[i:])
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

// SplitCommands splits text on ';'. A backslash keeps the following ';'
// inside the segment, so a template holding several commands can be typed
// as one argument.
func SplitCommands(text string) []string {
	if !strings.Contains(text, `\;`) {
		return strings.Split(text, ";")
	}
	var (
		out []string
		cur strings.Builder
	)
	for i := 0; i < len(text); i++ {
		switch {
		case text[i] == '\\' && i+1 < len(text) && text[i+1] == ';':
			cur.WriteByte(';')
			i++
		case text[i] == ';':
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(text[i])
		}
	}
	return append(out, cur.String())
}
