package main

import (
	"os"
	"path/filepath"
)

const profilesFile = "profiles.db"

// dataDirPath holds settings, profiles, logs and extensions. It resolves
// relative to the executable so the client finds its data regardless of
// the current working directory.
var dataDirPath = defaultDataDir()

func defaultDataDir() string {
	if exe, err := os.Executable(); err == nil {
		if dir, err := filepath.Abs(filepath.Dir(exe)); err == nil {
			return filepath.Join(dir, "data")
		}
	}
	// Fallback to relative path.
	return "data"
}
