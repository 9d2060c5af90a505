package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/time/rate"

	"mudpipe/history"
	"mudpipe/pipeline"
	"mudpipe/profile"
	"mudpipe/rules"
	"mudpipe/vars"
)

const (
	linesQueue = 1024
	postsQueue = 256
)

var errNoHost = errors.New("no host given and the profile has none")

// Prompts answered with the profile's login when auto-login is on.
var (
	loginPromptPattern    = `(?i)^\s*(what is your name|by what name do you wish to be known|enter your (character )?name|login|username)\s*[:?]?\s*$`
	passwordPromptPattern = `(?i)^\s*(password|enter your password)\s*[:?]?\s*$`
)

// client connects the pipeline session to the console, the game
// connection and the profile store. Everything that touches the session
// runs on the goroutine executing run.
type client struct {
	ctx     context.Context
	cancel  context.CancelFunc
	session *pipeline.Session
	out     *console
	history *history.Buffer
	store   *profile.Store
	profile *profile.Profile
	scripts *luaRunner
	ext     *extensionHost
	metrics *metrics

	conn gameConn
	// stop is closed when conn is dropped so its reader never blocks on
	// lines.
	stop chan struct{}

	lines chan string
	posts chan func()
}

func newClient(ctx context.Context, out *console, store *profile.Store, m *metrics) *client {
	ctx, cancel := context.WithCancel(ctx)
	c := &client{
		ctx:     ctx,
		cancel:  cancel,
		out:     out,
		history: history.New(gs.HistorySize),
		store:   store,
		metrics: m,
		lines:   make(chan string, linesQueue),
		posts:   make(chan func(), postsQueue),
	}
	cfg := pipeline.Config{
		Vars:      vars.New(),
		History:   c.history,
		Aliases:   rules.NewAliasTable(),
		Triggers:  rules.NewTriggerTable(),
		Commands:  pipeline.NewRegistry(),
		Out:       out,
		Options:   &gs.Pipeline,
		Highlight: renderHighlight,
		Logf:      logQuiet,
	}
	if m != nil {
		cfg.Observer = m
	}
	c.session = pipeline.NewSession(cfg)
	c.scripts = newLuaRunner(c.session)
	c.session.SetScripts(c.scripts)
	c.session.Vars.SetReserved(c.credential)
	for _, cmd := range builtinCommands(c) {
		if err := c.session.Commands.Register(cmd); err != nil {
			logError("register %s: %v", cmd.Name, err)
		}
	}
	c.session.Triggers.InstallSystem(c.systemTriggers())
	return c
}

// enableExtensions loads extensions from dir and reloads them on change.
func (c *client) enableExtensions(dir string) {
	ensureExtensionsDir(dir)
	c.ext = newExtensionHost(c.ctx, c.session, dir, c.post)
	c.ext.SetBase(c.systemTriggers())
	if n := c.ext.Load(); n > 0 {
		c.session.Echo(fmt.Sprintf("%d extensions loaded", n))
	}
	if err := c.ext.Watch(c.ctx); err != nil {
		logWarn("%v", err)
	}
}

// systemTriggers are the client's own system triggers.
func (c *client) systemTriggers() []rules.Trigger {
	return []rules.Trigger{
		{
			ID:      "login-name",
			Pattern: loginPromptPattern,
			Enabled: true,
			Hook:    func(string) { c.autoLogin(vars.Username) },
		},
		{
			ID:      "login-password",
			Pattern: passwordPromptPattern,
			Enabled: true,
			Hook:    func(string) { c.autoLogin(vars.Password) },
		},
	}
}

// autoLogin answers a login prompt with the profile's credential without
// echoing it.
func (c *client) autoLogin(name string) {
	if !gs.AutoLogin || c.profile == nil {
		return
	}
	v, ok := c.profile.Credential(name)
	if !ok {
		return
	}
	t := c.session.Transport()
	if t == nil || !t.Connected() {
		return
	}
	if err := t.Send(c.ctx, v); err != nil {
		logWarn("auto-login: %v", err)
	}
}

func (c *client) credential(name string) (string, bool) {
	if c.profile == nil {
		return "", false
	}
	return c.profile.Credential(name)
}

// post queues fn for the turn loop. It must not be called from the turn
// loop with a full queue.
func (c *client) post(fn func()) {
	select {
	case c.posts <- fn:
	case <-c.ctx.Done():
	}
}

// run is the turn loop. It returns when input closes or ctx ends.
func (c *client) run(input <-chan string) error {
	defer c.disconnect()
	for {
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		case text, ok := <-input:
			if !ok {
				return nil
			}
			c.handleInput(text)
		case raw := <-c.lines:
			c.handleLine(raw)
		case fn := <-c.posts:
			fn()
		}
	}
}

func (c *client) handleInput(text string) {
	c.session.Send(c.ctx, text)
}

// handleLine shows a received line and runs the triggers over it. Output
// is held until the triggers finish so a highlight replaces the line
// before it is written.
func (c *client) handleLine(raw string) {
	c.out.hold()
	defer c.out.release()
	c.out.Append(rules.TerminalPrimary, raw)
	c.session.CheckLine(c.ctx, pipeline.Line{Text: ansi.Strip(raw), Raw: raw})
}

func sendLimit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

// connect dials addr, or the profile's host when addr is empty, replacing
// any open connection.
func (c *client) connect(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" && c.profile != nil {
		addr = c.profile.Host
	}
	if addr == "" {
		return errNoHost
	}
	c.disconnect()

	stop := make(chan struct{})
	var conn gameConn
	h := connHandler{
		onLine: func(raw string) {
			select {
			case c.lines <- raw:
			case <-stop:
			}
		},
		onClose: func(err error) {
			select {
			case c.posts <- func() { c.connectionLost(conn, err) }:
			case <-stop:
			}
		},
	}
	c.session.Echo("connecting to " + addr + "...")
	conn, err := dialGame(c.ctx, addr, wireEncoding(gs.Encoding), sendLimit(gs.SendRate), h)
	if err != nil {
		close(stop)
		return err
	}
	c.conn = conn
	c.stop = stop
	c.session.SetTransport(conn)
	if c.metrics != nil {
		c.metrics.setConnected(true)
	}
	c.session.Echo("connected to " + addr)
	return nil
}

// disconnect closes the open connection and reports whether there was one.
func (c *client) disconnect() bool {
	if c.conn == nil {
		return false
	}
	close(c.stop)
	if err := c.conn.Close(); err != nil {
		logDebug("close: %v", err)
	}
	c.conn = nil
	c.stop = nil
	c.session.SetTransport(nil)
	if c.metrics != nil {
		c.metrics.setConnected(false)
	}
	return true
}

// connectionLost handles the server closing conn.
func (c *client) connectionLost(conn gameConn, err error) {
	if c.conn != conn {
		return
	}
	c.disconnect()
	if err != nil && !errors.Is(err, errConnClosed) {
		c.session.Warn("connection lost: %v", err)
		return
	}
	c.session.Echo("connection closed")
}

// loadProfile switches to the named profile.
func (c *client) loadProfile(name string) error {
	if c.store == nil {
		return errors.New("profiles are not available")
	}
	p, err := c.store.Get(name)
	if err != nil {
		return err
	}
	c.applyProfile(p)
	return nil
}

func (c *client) applyProfile(p *profile.Profile) {
	s := c.session
	c.profile = p
	s.Aliases.Load(p.Aliases)
	s.Triggers.LoadUser(p.Triggers)
	for _, g := range s.Triggers.DisabledGroups() {
		s.Triggers.SetGroupEnabled(g, true)
	}
	for _, g := range p.DisabledGroups {
		s.Triggers.SetGroupEnabled(g, false)
	}
	s.Vars.Clear()
	s.Vars.Load(p.Variables)
	if p.Character != "" {
		s.Vars.Set(vars.Character, p.Character)
	}
	gs.LastProfile = p.Name
}

// saveProfile writes the session's rules into the active profile.
func (c *client) saveProfile() error {
	if c.store == nil {
		return errors.New("profiles are not available")
	}
	if c.profile == nil {
		return errors.New("no profile selected")
	}
	s := c.session
	p := c.profile
	p.Aliases = s.Aliases.Snapshot()
	p.Triggers = s.Triggers.Users()
	p.Variables = s.Vars.All()
	p.DisabledGroups = s.Triggers.DisabledGroups()
	if ch := s.Character(); ch != "" {
		p.Character = ch
	}
	if err := c.store.Put(p); err != nil {
		return err
	}
	gs.LastProfile = p.Name
	return nil
}

// connectedFor reports how long the connection has been open.
func (c *client) connectedFor() time.Duration {
	if c.conn == nil {
		return 0
	}
	return time.Since(c.conn.Since())
}

func (c *client) close() {
	c.cancel()
}
