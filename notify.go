package main

import (
	"os"
	"runtime"

	"github.com/gen2brain/beeep"
)

const notifyTitle = "mudpipe"

// notifyDesktop shows a desktop notification, best-effort and non-fatal.
func notifyDesktop(title, body string) error {
	if body == "" {
		return nil
	}
	// Skip on headless Linux without DISPLAY; beeep would error.
	if runtime.GOOS == "linux" && (os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "") {
		return nil
	}
	return beeep.Notify(title, body, "")
}

// showNotification notifies when notifications are enabled.
func showNotification(msg string) {
	if !gs.Notifications {
		return
	}
	if err := notifyDesktop(notifyTitle, msg); err != nil {
		logDebug("notify: %v", err)
	}
}
