package rules

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var quotedRE = regexp.MustCompile(`"([^"]*)"`) // captures quoted substrings

// ParseMacros reads Clan Lord style macro lines:
//
//	"trigger" "template"
//
// The first two quoted strings on a line are used. In the template @text
// becomes %0 and a trailing \r submit marker is dropped. Lines starting
// with # or // are comments.
func ParseMacros(r io.Reader) ([]Alias, error) {
	var out []Alias
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		matches := quotedRE.FindAllStringSubmatch(line, -1)
		if len(matches) < 2 {
			continue
		}
		trigger := strings.TrimSpace(matches[0][1])
		if trigger == "" || strings.ContainsAny(trigger, " \t") {
			continue
		}
		template := strings.TrimSuffix(matches[1][1], `\r`)
		template = strings.ReplaceAll(template, "@text", "%0")
		out = append(out, Alias{
			Expression: trigger,
			Template:   strings.TrimSpace(template),
			Enabled:    true,
		})
	}
	if err := scanner.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// LoadMacroFile parses a single macro file.
func LoadMacroFile(path string) ([]Alias, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	as, err := ParseMacros(f)
	if err != nil {
		return as, fmt.Errorf("%s: %w", path, err)
	}
	return as, nil
}

// LoadMacroDir parses every regular file in dirPath. A file that fails to
// load is logged and skipped.
func LoadMacroDir(dirPath string) ([]Alias, error) {
	if dirPath == "" {
		return nil, fmt.Errorf("empty macro directory")
	}
	files, err := filepath.Glob(filepath.Join(dirPath, "*"))
	if err != nil {
		return nil, err
	}
	var out []Alias
	for _, f := range files {
		fi, err := os.Stat(f)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		as, err := LoadMacroFile(f)
		if err != nil {
			log.Printf("macros: failed to load %s: %v", f, err)
			continue
		}
		out = append(out, as...)
	}
	return out, nil
}
