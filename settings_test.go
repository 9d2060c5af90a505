package main

import (
	"os"
	"path/filepath"
	"testing"

	"mudpipe/pipeline"
)

func withDataDir(t *testing.T) {
	t.Helper()
	old := dataDirPath
	dataDirPath = t.TempDir()
	gs = gsdef
	t.Cleanup(func() {
		dataDirPath = old
		gs = gsdef
	})
}

func TestSettingsRoundTrip(t *testing.T) {
	withDataDir(t)
	if loadSettings() {
		t.Fatalf("loadSettings reported success without a file")
	}

	gs.HistorySize = 42
	gs.Encoding = encodingUTF8
	gs.Pipeline.CommandPrefix = "/"
	gs.Pipeline.TimestampStyle = pipeline.TimestampTwentyFourHour
	gs.LastProfile = "main"
	saveSettings()

	gs = gsdef
	if !loadSettings() {
		t.Fatalf("loadSettings failed")
	}
	if gs.HistorySize != 42 || gs.Encoding != encodingUTF8 || gs.LastProfile != "main" {
		t.Fatalf("settings not restored: %+v", gs)
	}
	if gs.Pipeline.CommandPrefix != "/" || gs.Pipeline.TimestampStyle != pipeline.TimestampTwentyFourHour {
		t.Fatalf("pipeline options not restored: %+v", gs.Pipeline)
	}
}

func TestSettingsVersionMismatch(t *testing.T) {
	withDataDir(t)
	data := []byte("version: 99\nhistory_size: 5\n")
	if err := os.WriteFile(filepath.Join(dataDirPath, settingsFile), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if loadSettings() {
		t.Fatalf("loadSettings accepted a foreign version")
	}
	if gs.HistorySize != gsdef.HistorySize {
		t.Fatalf("HistorySize = %d, want default", gs.HistorySize)
	}
}

func TestSettingsRepairsInvalidValues(t *testing.T) {
	withDataDir(t)
	data := []byte("version: 1\nhistory_size: -3\ntimestamp_style: sundial\n")
	if err := os.WriteFile(filepath.Join(dataDirPath, settingsFile), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if !loadSettings() {
		t.Fatalf("loadSettings failed")
	}
	if gs.HistorySize != gsdef.HistorySize {
		t.Errorf("HistorySize = %d, want default", gs.HistorySize)
	}
	if gs.Pipeline.TimestampStyle != gsdef.Pipeline.TimestampStyle {
		t.Errorf("TimestampStyle = %q, want default", gs.Pipeline.TimestampStyle)
	}
}

func TestSetSetting(t *testing.T) {
	tests := []struct {
		name, value string
		want        string
		wantErr     bool
	}{
		{"aliases", "off", "false", false},
		{"Triggers", "no", "false", false},
		{"echo", "maybe", "", true},
		{"prefix", "!", "!", false},
		{"prefix", "a b", "", true},
		{"prefix", "@", "", true},
		{"timestamps", "hms", "hms", false},
		{"timestamps", "sundial", "", true},
		{"history", "500", "500", false},
		{"history", "0", "", true},
		{"encoding", "MacRoman", encodingMacRoman, false},
		{"encoding", "ebcdic", "", true},
		{"sendrate", "2.5", "2.5", false},
		{"sendrate", "-1", "", true},
		{"spamquery", "look", "look", false},
		{"nosuch", "1", "", true},
	}
	for _, tt := range tests {
		s := gsdef
		err := setSetting(&s, tt.name, tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("setSetting(%s, %q) err = %v, wantErr %v", tt.name, tt.value, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if got, _ := getSetting(&s, tt.name); got != tt.want {
			t.Errorf("after setSetting(%s, %q) got %q, want %q", tt.name, tt.value, got, tt.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"on", "YES", " true ", "1"} {
		if b, err := parseBool(v); err != nil || !b {
			t.Errorf("parseBool(%q) = %v, %v", v, b, err)
		}
	}
	for _, v := range []string{"off", "No", "false", "0"} {
		if b, err := parseBool(v); err != nil || b {
			t.Errorf("parseBool(%q) = %v, %v", v, b, err)
		}
	}
	if _, err := parseBool("sometimes"); err == nil {
		t.Errorf("parseBool accepted sometimes")
	}
}
