package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mudpipe/profile"
	"mudpipe/rules"
)

// TestMain points dataDirPath at a scratch directory and keeps log output
// off the console.
func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "mudpipe-test")
	if err != nil {
		panic(err)
	}
	dataDirPath = dir
	logDir = filepath.Join(dir, "logs")
	silent = true
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

// syncBuffer is a bytes.Buffer safe for the turn loop and the test to
// share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// recordTransport is a connected transport that keeps what it was sent.
type recordTransport struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordTransport) Send(ctx context.Context, line string) error {
	r.mu.Lock()
	r.sent = append(r.sent, line)
	r.mu.Unlock()
	return nil
}

func (r *recordTransport) Connected() bool    { return true }
func (r *recordTransport) CancelPending() int { return 0 }

func (r *recordTransport) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type testClient struct {
	*client
	screen *syncBuffer
}

// newTestClient returns a client with default settings, a console
// writing to a buffer and a fresh profile store.
func newTestClient(t *testing.T) *testClient {
	t.Helper()
	gs = gsdef
	dataDirPath = t.TempDir()
	store, err := profile.Open(filepath.Join(dataDirPath, profilesFile))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	screen := &syncBuffer{}
	c := newClient(ctx, newConsole(screen), store, nil)
	t.Cleanup(func() { c.disconnect() })
	return &testClient{client: c, screen: screen}
}

// primary returns the lines of the primary terminal.
func (tc *testClient) primary() []string {
	return tc.out.lines(rules.TerminalPrimary)
}

func (tc *testClient) hasLine(want string) bool {
	for _, l := range tc.primary() {
		if l == want {
			return true
		}
	}
	return false
}

func (tc *testClient) hasLineContaining(sub string) bool {
	for _, l := range tc.primary() {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
