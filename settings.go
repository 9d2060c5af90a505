package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"mudpipe/history"
	"mudpipe/pipeline"
)

const SETTINGS_VERSION = 1

const settingsFile = "settings.yaml"

// Supported wire encodings.
const (
	encodingLatin1   = "latin1"
	encodingMacRoman = "macroman"
	encodingUTF8     = "utf8"
)

var gs settings = gsdef

// settingsLoaded reports whether settings were successfully loaded from disk.
var settingsLoaded bool

var gsdef settings = settings{
	Version: SETTINGS_VERSION,

	Pipeline: pipeline.DefaultOptions(),

	HistorySize:   history.DefaultSize,
	Encoding:      encodingLatin1,
	SendRate:      0,
	Notifications: true,
	AutoLogin:     true,
	Focus:         "primary",
}

type settings struct {
	Version int `yaml:"version"`

	Pipeline pipeline.Options `yaml:",inline"`

	HistorySize int `yaml:"history_size"`
	// Encoding is the character set spoken on the wire.
	Encoding string `yaml:"encoding"`
	// SendRate limits outbound lines per second; 0 disables the limit.
	SendRate      float64 `yaml:"send_rate"`
	Notifications bool    `yaml:"notifications"`
	AutoLogin     bool    `yaml:"auto_login"`
	Focus         string  `yaml:"focus"`
	LastProfile   string  `yaml:"last_profile,omitempty"`
}

func loadSettings() bool {
	path := filepath.Join(dataDirPath, settingsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		gs = gsdef
		settingsLoaded = false
		return false
	}

	tmp := gsdef
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		logError("load settings: %v", err)
		gs = gsdef
		settingsLoaded = false
		return false
	}
	if tmp.Version != SETTINGS_VERSION {
		logWarn("settings version %d is not %d; using defaults", tmp.Version, SETTINGS_VERSION)
		gs = gsdef
		settingsLoaded = false
		return false
	}
	gs = tmp
	if _, err := pipeline.ParseTimestampStyle(string(gs.Pipeline.TimestampStyle)); err != nil {
		gs.Pipeline.TimestampStyle = gsdef.Pipeline.TimestampStyle
	}
	if gs.HistorySize <= 0 {
		gs.HistorySize = gsdef.HistorySize
	}
	settingsLoaded = true
	return true
}

func saveSettings() {
	data, err := yaml.Marshal(gs)
	if err != nil {
		logError("save settings: %v", err)
		return
	}
	if err := os.MkdirAll(dataDirPath, 0o755); err != nil {
		logError("save settings: %v", err)
		return
	}
	path := filepath.Join(dataDirPath, settingsFile)
	if err := os.WriteFile(path+".tmp", data, 0644); err != nil {
		logError("save settings: %v", err)
		return
	}
	if err := os.Rename(path+".tmp", path); err != nil {
		logError("save settings: %v", err)
	}
}

// settingEntry is one row of the #setting table.
type settingEntry struct {
	help string
	get  func(*settings) string
	set  func(*settings, string) error
}

func boolSetting(help string, field func(*settings) *bool) settingEntry {
	return settingEntry{
		help: help,
		get:  func(s *settings) string { return strconv.FormatBool(*field(s)) },
		set: func(s *settings, v string) error {
			b, err := parseBool(v)
			if err != nil {
				return err
			}
			*field(s) = b
			return nil
		},
	}
}

func stringSetting(help string, field func(*settings) *string) settingEntry {
	return settingEntry{
		help: help,
		get:  func(s *settings) string { return *field(s) },
		set: func(s *settings, v string) error {
			*field(s) = v
			return nil
		},
	}
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "yes", "true", "1":
		return true, nil
	case "off", "no", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", v)
}

var settingTable = map[string]settingEntry{
	"aliases":       boolSetting("expand aliases", func(s *settings) *bool { return &s.Pipeline.AliasesEnabled }),
	"triggers":      boolSetting("run user triggers", func(s *settings) *bool { return &s.Pipeline.TriggersEnabled }),
	"echo":          boolSetting("echo sent commands", func(s *settings) *bool { return &s.Pipeline.EchoCommands }),
	"notifications": boolSetting("desktop notifications", func(s *settings) *bool { return &s.Notifications }),
	"autologin":     boolSetting("send profile credentials at login prompts", func(s *settings) *bool { return &s.AutoLogin }),
	"spamquery":     stringSetting("command sent after repeated input", func(s *settings) *string { return &s.Pipeline.SpamQuery }),
	"prefix": {
		help: "named command prefix",
		get:  func(s *settings) string { return s.Pipeline.CommandPrefix },
		set: func(s *settings, v string) error {
			v = strings.TrimSpace(v)
			if v == "" || strings.ContainsAny(v, " \t;@%") {
				return fmt.Errorf("invalid prefix %q", v)
			}
			s.Pipeline.CommandPrefix = v
			return nil
		},
	},
	"timestamps": {
		help: "relocated line stamp: hm, hms, 24h or locale",
		get:  func(s *settings) string { return string(s.Pipeline.TimestampStyle) },
		set: func(s *settings, v string) error {
			ts, err := pipeline.ParseTimestampStyle(v)
			if err != nil {
				return err
			}
			s.Pipeline.TimestampStyle = ts
			return nil
		},
	},
	"history": {
		help: "commands kept in history",
		get:  func(s *settings) string { return strconv.Itoa(s.HistorySize) },
		set: func(s *settings, v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil || n <= 0 {
				return fmt.Errorf("expected a positive number, got %q", v)
			}
			s.HistorySize = n
			return nil
		},
	},
	"encoding": {
		help: "wire encoding: latin1, macroman or utf8",
		get:  func(s *settings) string { return s.Encoding },
		set: func(s *settings, v string) error {
			v = strings.ToLower(strings.TrimSpace(v))
			switch v {
			case encodingLatin1, encodingMacRoman, encodingUTF8:
				s.Encoding = v
				return nil
			}
			return fmt.Errorf("unknown encoding %q", v)
		},
	},
	"sendrate": {
		help: "outbound lines per second, 0 for unlimited",
		get:  func(s *settings) string { return strconv.FormatFloat(s.SendRate, 'f', -1, 64) },
		set: func(s *settings, v string) error {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || f < 0 {
				return fmt.Errorf("expected a number >= 0, got %q", v)
			}
			s.SendRate = f
			return nil
		},
	},
}

func settingNames() []string {
	names := make([]string, 0, len(settingTable))
	for n := range settingTable {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func getSetting(s *settings, name string) (string, error) {
	e, ok := settingTable[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("unknown setting %q", name)
	}
	return e.get(s), nil
}

func setSetting(s *settings, name, value string) error {
	e, ok := settingTable[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown setting %q", name)
	}
	return e.set(s, value)
}
