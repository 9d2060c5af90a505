package main

import (
	"runtime"
	"testing"
)

func TestNotifyDesktopHeadless(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("headless check is linux only")
	}
	t.Setenv("DISPLAY", "")
	t.Setenv("WAYLAND_DISPLAY", "")
	if err := notifyDesktop(notifyTitle, "You are hungry"); err != nil {
		t.Fatalf("notifyDesktop: %v", err)
	}
	if err := notifyDesktop(notifyTitle, ""); err != nil {
		t.Fatalf("empty body: %v", err)
	}
}
