package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func nopRun(context.Context, *Session, string) error { return nil }

func TestRegistryRegisterResolve(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Command{Name: "Echo", Description: "print text", Run: nopRun}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(Command{Name: "echo", Run: nopRun}); !errors.Is(err, ErrCommandExists) {
		t.Fatalf("duplicate Register = %v", err)
	}
	if err := r.Register(Command{Name: "two words", Run: nopRun}); err == nil {
		t.Fatalf("name with a space accepted")
	}
	if err := r.Register(Command{Name: "nil"}); err == nil {
		t.Fatalf("command without handler accepted")
	}
	c, ok := r.Resolve("ECHO")
	if !ok || c.Name != "echo" || c.Description != "print text" {
		t.Fatalf("Resolve = %+v, %v", c, ok)
	}
}

func TestRegistryOwners(t *testing.T) {
	r := NewRegistry()
	r.Register(Command{Name: "b", Owner: "ext", Run: nopRun})
	r.Register(Command{Name: "a", Owner: "ext", Run: nopRun})
	r.Register(Command{Name: "c", Run: nopRun})
	var names []string
	for _, c := range r.Commands() {
		names = append(names, c.Name)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, names); diff != "" {
		t.Fatalf("Commands (-want +got):\n%s", diff)
	}
	if n := r.UnregisterOwner("ext"); n != 2 {
		t.Fatalf("UnregisterOwner = %d", n)
	}
	if !r.Unregister("C") || r.Unregister("c") {
		t.Fatalf("Unregister did not report presence")
	}
}

func TestRegistryAsync(t *testing.T) {
	f := newFixture(t)
	f.s.Commands.Register(Command{Name: "later", Async: true, Run: func(ctx context.Context, s *Session, params string) error {
		select {
		case <-time.After(10 * time.Millisecond):
			return errors.New("done " + params)
		case <-ctx.Done():
			return ctx.Err()
		}
	}})
	c, _ := f.s.Commands.Resolve("later")
	if err := f.s.Commands.Execute(context.Background(), c, f.s, "x"); err == nil || err.Error() != "done x" {
		t.Fatalf("Execute = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	blocked := make(chan struct{})
	f.s.Commands.Register(Command{Name: "hang", Async: true, Run: func(ctx context.Context, s *Session, params string) error {
		close(blocked)
		<-ctx.Done()
		return ctx.Err()
	}})
	c, _ = f.s.Commands.Resolve("hang")
	go func() {
		<-blocked
		cancel()
	}()
	if err := f.s.Commands.Execute(ctx, c, f.s, ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute = %v", err)
	}
}

func TestRegistryAsyncPanic(t *testing.T) {
	f := newFixture(t)
	f.s.Commands.Register(Command{Name: "boom", Async: true, Run: func(context.Context, *Session, string) error {
		panic("async boom")
	}})
	c, _ := f.s.Commands.Resolve("boom")
	if err := f.s.Commands.Execute(context.Background(), c, f.s, ""); err == nil {
		t.Fatalf("panic not reported")
	}
}
