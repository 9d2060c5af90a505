package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
)

// ErrCommandExists is returned when registering a name that is taken.
var ErrCommandExists = errors.New("command already registered")

// Command is a named handler addressed with the command prefix.
type Command struct {
	Name        string
	Description string
	// Owner identifies the extension that registered the command; empty
	// for built-ins.
	Owner string
	// Async handlers run on their own goroutine and are awaited.
	Async bool
	Run   func(ctx context.Context, s *Session, params string) error
}

// Registry maps command names to handlers. Names are case-insensitive.
type Registry struct {
	mu   sync.RWMutex
	cmds map[string]*Command
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{cmds: map[string]*Command{}}
}

// Register adds cmd.
func (r *Registry) Register(cmd Command) error {
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	if name == "" || strings.ContainsAny(name, " \t;") {
		return fmt.Errorf("invalid command name %q", cmd.Name)
	}
	if cmd.Run == nil {
		return fmt.Errorf("command %q has no handler", cmd.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cmds[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrCommandExists)
	}
	cmd.Name = name
	r.cmds[name] = &cmd
	return nil
}

// Resolve looks up name.
func (r *Registry) Resolve(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cmds[strings.ToLower(name)]
	return c, ok
}

// Unregister removes name and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	name = strings.ToLower(name)
	_, ok := r.cmds[name]
	delete(r.cmds, name)
	return ok
}

// UnregisterOwner removes every command registered by owner.
func (r *Registry) UnregisterOwner(owner string) int {
	if owner == "" {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name, c := range r.cmds {
		if c.Owner == owner {
			delete(r.cmds, name)
			n++
		}
	}
	return n
}

// Commands returns every command sorted by name.
func (r *Registry) Commands() []Command {
	r.mu.RLock()
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, *c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs cmd with params. An async handler runs on its own
// goroutine; Execute waits for it or for ctx to end.
func (r *Registry) Execute(ctx context.Context, cmd *Command, s *Session, params string) error {
	if !cmd.Async {
		return cmd.Run(ctx, s, params)
	}
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("panic: %v\n%s", p, debug.Stack())
			}
		}()
		done <- cmd.Run(ctx, s, params)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
