package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/buildkite/shellwords"
	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"

	"mudpipe/pipeline"
	"mudpipe/profile"
	"mudpipe/rules"
	"mudpipe/vars"
)

var shortUnits, _ = durafmt.DefaultUnitsCoder.Decode("y:yrs,wk:wks,d:d,h:h,m:m,s:s,ms:ms,us:us")

// usage shows the correct form of a command.
func usage(s *pipeline.Session, form string) error {
	s.Echo("usage: " + s.Prefix() + form)
	return nil
}

// builtinCommands returns the client's named commands.
func builtinCommands(c *client) []pipeline.Command {
	return []pipeline.Command{
		{
			Name:        "help",
			Description: "list commands",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				for _, cmd := range s.Commands.Commands() {
					s.Echo(fmt.Sprintf("  %s%-12s %s", s.Prefix(), cmd.Name, cmd.Description))
				}
				return nil
			},
		},
		{
			Name:        "alias",
			Description: "list aliases, or define one: alias <name> <template>",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				return c.defineAlias(s, params, false)
			},
		},
		{
			Name:        "salias",
			Description: "define a Lua script alias: salias <name> <script>",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				return c.defineAlias(s, params, true)
			},
		},
		{
			Name:        "unalias",
			Description: "remove an alias: unalias <name>",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				name := strings.TrimSpace(params)
				if name == "" {
					return usage(s, "unalias <name>")
				}
				if s.Aliases.Remove(name) == 0 {
					return fmt.Errorf("no alias %q", name)
				}
				s.Echo("alias " + name + " removed")
				return nil
			},
		},
		{
			Name:        "trigger",
			Description: "add or update a trigger: trigger <pattern> [template] [-id -group -char -priority -move -highlight -script -silent -temp]; quote a pattern holding spaces",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				return c.defineTrigger(s, params)
			},
		},
		{
			Name:        "untrigger",
			Description: "remove a trigger: untrigger <id>",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				id := strings.TrimSpace(params)
				if id == "" {
					return usage(s, "untrigger <id>")
				}
				if err := s.Triggers.Remove(id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				s.Echo("trigger " + id + " removed")
				return nil
			},
		},
		{
			Name:        "triggers",
			Description: "list triggers",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				c.listTriggers(s)
				return nil
			},
		},
		{
			Name:        "group",
			Description: "enable or disable a trigger group: group <name> on|off",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				parts, err := shellwords.SplitPosix(params)
				if err != nil {
					return err
				}
				if len(parts) != 2 {
					return usage(s, "group <name> on|off")
				}
				on, err := parseBool(parts[1])
				if err != nil {
					return err
				}
				s.Triggers.SetGroupEnabled(parts[0], on)
				s.Echo(fmt.Sprintf("group %s %s", parts[0], onOff(on)))
				return nil
			},
		},
		{
			Name:        "var",
			Description: "list variables, or set one: var <name> <value>",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				name, value := rules.SplitHead(params)
				if name == "" {
					all := s.Vars.All()
					if len(all) == 0 {
						s.Echo("no variables")
					}
					for _, v := range all {
						s.Echo(fmt.Sprintf("  %s = %s", v.Key, v.Value))
					}
					return nil
				}
				if vars.IsReserved(name) {
					return fmt.Errorf("%s comes from the profile; use %sprofile", name, s.Prefix())
				}
				s.Vars.Set(name, value)
				s.Echo(fmt.Sprintf("%s = %s", name, value))
				return nil
			},
		},
		{
			Name:        "unvar",
			Description: "remove a variable: unvar <name>",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				name := strings.TrimSpace(params)
				if name == "" {
					return usage(s, "unvar <name>")
				}
				s.Vars.Delete(name)
				return nil
			},
		},
		{
			Name:        "setting",
			Description: "show or change settings: setting [name [value]]",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				return c.setting(s, params)
			},
		},
		{
			Name:        "history",
			Description: "show command history, or history clear",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				if strings.EqualFold(strings.TrimSpace(params), "clear") {
					s.History.Clear()
					s.Echo("history cleared")
					return nil
				}
				for i, e := range s.History.Entries() {
					s.Echo(fmt.Sprintf("%4d  %s", i+1, e))
				}
				return nil
			},
		},
		{
			Name:        "connect",
			Description: "connect to host:port or ws(s)://url, default the profile host",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				return c.connect(params)
			},
		},
		{
			Name:        "disconnect",
			Description: "close the connection",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				if !c.disconnect() {
					return pipeline.ErrNotConnected
				}
				s.Echo("disconnected")
				return nil
			},
		},
		{
			Name:        "echo",
			Description: "print text",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				s.Echo(params)
				return nil
			},
		},
		{
			Name:        "notify",
			Description: "show a desktop notification",
			Async:       true,
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				if strings.TrimSpace(params) == "" {
					return errors.New("nothing to show")
				}
				return notifyDesktop(notifyTitle, params)
			},
		},
		{
			Name:        "lua",
			Description: "run Lua code",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				if strings.TrimSpace(params) == "" {
					return usage(s, "lua <code>")
				}
				s.RunScript(ctx, params)
				return nil
			},
		},
		{
			Name:        "load",
			Description: "import aliases from a macro file or directory",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				return c.loadMacros(s, params)
			},
		},
		{
			Name:        "status",
			Description: "show connection and rule counts",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				c.status(s)
				return nil
			},
		},
		{
			Name:        "reload",
			Description: "reload extensions",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				if c.ext == nil {
					return errors.New("extensions are not enabled")
				}
				n := c.ext.Load()
				s.Echo(fmt.Sprintf("extensions reloaded (%d active)", n))
				return nil
			},
		},
		{
			Name:        "save",
			Description: "save the profile and settings",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				saveSettings()
				if err := c.saveProfile(); err != nil {
					return err
				}
				s.Echo("saved profile " + c.profile.Name)
				return nil
			},
		},
		{
			Name:        "profile",
			Description: "list profiles, switch: profile <name>, or create: profile <name> <host> [user [password]]",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				return c.profileCommand(s, params)
			},
		},
		{
			Name:        "unprofile",
			Description: "delete a stored profile: unprofile <name>",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				name := strings.TrimSpace(params)
				if name == "" {
					return usage(s, "unprofile <name>")
				}
				if c.store == nil {
					return errors.New("profiles are not available")
				}
				if c.profile != nil && strings.EqualFold(c.profile.Name, name) {
					return fmt.Errorf("%s is the active profile", c.profile.Name)
				}
				if err := c.store.Delete(name); err != nil {
					return err
				}
				s.Echo("profile " + name + " deleted")
				return nil
			},
		},
		{
			Name:        "char",
			Description: "show or set the active character",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				name := strings.TrimSpace(params)
				if name == "" {
					if ch := s.Character(); ch != "" {
						s.Echo("character: " + ch)
					} else {
						s.Echo("no character set")
					}
					return nil
				}
				s.Vars.Set(vars.Character, name)
				if c.profile != nil {
					c.profile.Character = name
				}
				s.Echo("character: " + name)
				return nil
			},
		},
		{
			Name:        "wait",
			Description: "run a command later: wait <duration> <command>",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				arg, cmd := rules.SplitHead(params)
				if arg == "" || cmd == "" {
					return usage(s, "wait <duration> <command>")
				}
				d, err := parseDelay(arg)
				if err != nil {
					return err
				}
				time.AfterFunc(d, func() {
					c.post(func() { c.session.Send(c.ctx, cmd) })
				})
				return nil
			},
		},
		{
			Name:        "focus",
			Description: "switch terminal: focus primary|chat|tells|combat|system",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				t, ok := rules.ParseTerminal(params)
				if !ok || t == rules.TerminalNone {
					return fmt.Errorf("unknown terminal %q", strings.TrimSpace(params))
				}
				c.out.setFocus(t)
				s.Focus(t)
				return nil
			},
		},
		{
			Name:        "quit",
			Description: "close the client",
			Run: func(ctx context.Context, s *pipeline.Session, params string) error {
				c.close()
				return nil
			},
		},
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// parseDelay accepts a Go duration or a number of seconds.
func parseDelay(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("invalid delay %q", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func (c *client) defineAlias(s *pipeline.Session, params string, script bool) error {
	name, template := rules.SplitHead(params)
	if name == "" {
		c.listAliases(s)
		return nil
	}
	if template == "" {
		if script {
			return usage(s, "salias <name> <script>")
		}
		return usage(s, "alias <name> <template>")
	}
	if strings.HasPrefix(name, s.Prefix()) {
		return fmt.Errorf("alias names cannot start with %s", s.Prefix())
	}
	a := rules.Alias{Expression: name, Template: template, Enabled: true, IsScript: script}
	if s.Aliases.Upsert(a) {
		s.Echo("alias " + name + " added")
	} else {
		s.Echo("alias " + name + " updated")
	}
	return nil
}

func (c *client) listAliases(s *pipeline.Session) {
	as := s.Aliases.Snapshot()
	if len(as) == 0 {
		s.Echo("no aliases")
		return
	}
	for _, a := range as {
		kind := "=>"
		if a.IsScript {
			kind = "=> lua:"
		}
		line := fmt.Sprintf("  %s %s %s", a.Expression, kind, a.Template)
		if a.Character != "" {
			line += " [" + a.Character + "]"
		}
		if !a.Enabled {
			line += " (disabled)"
		}
		if a.MatchCount > 0 {
			line += fmt.Sprintf(" (used %s times)", humanize.Comma(int64(a.MatchCount)))
		}
		s.Echo(line)
	}
}

// parseTriggerArgs reads "<pattern> [template] [flags]".
func parseTriggerArgs(params string) (rules.Trigger, error) {
	var parts []string
	rest := strings.TrimSpace(params)
	// An unquoted pattern is taken verbatim so regex escapes survive.
	if rest != "" && !strings.ContainsRune(`'"-`, rune(rest[0])) {
		var head string
		head, rest = rules.SplitHead(rest)
		parts = append(parts, head)
	}
	more, err := shellwords.SplitPosix(rest)
	if err != nil {
		return rules.Trigger{}, err
	}
	parts = append(parts, more...)
	t := rules.Trigger{Enabled: true}
	var positional []string
	value := func(i *int, flag string) (string, error) {
		if *i+1 >= len(parts) {
			return "", fmt.Errorf("%s needs a value", flag)
		}
		*i++
		return parts[*i], nil
	}
	for i := 0; i < len(parts); i++ {
		p := parts[i]
		var v string
		switch p {
		case "-id":
			if v, err = value(&i, p); err == nil {
				t.ID = v
			}
		case "-group":
			if v, err = value(&i, p); err == nil {
				t.Group = v
			}
		case "-char":
			if v, err = value(&i, p); err == nil {
				t.Character = v
			}
		case "-priority":
			if v, err = value(&i, p); err == nil {
				t.Priority, err = strconv.Atoi(v)
			}
		case "-move":
			if v, err = value(&i, p); err == nil {
				var ok bool
				if t.MoveTo, ok = rules.ParseTerminal(v); !ok {
					err = fmt.Errorf("unknown terminal %q", v)
				}
			}
		case "-highlight":
			t.Highlight = true
		case "-script":
			t.IsScript = true
		case "-silent":
			t.Silent = true
		case "-temp":
			t.Temporary = true
		case "-stop":
			t.StopProcessing = true
		case "-disabled":
			t.Enabled = false
		default:
			positional = append(positional, p)
		}
		if err != nil {
			return rules.Trigger{}, err
		}
	}
	if len(positional) == 0 {
		return rules.Trigger{}, errors.New("missing pattern")
	}
	t.Pattern = positional[0]
	t.Template = strings.Join(positional[1:], " ")
	if err := rules.ValidatePattern(t.Pattern); err != nil {
		return rules.Trigger{}, err
	}
	return t, nil
}

func (c *client) defineTrigger(s *pipeline.Session, params string) error {
	if strings.TrimSpace(params) == "" {
		return usage(s, "trigger <pattern> [template] [flags]")
	}
	t, err := parseTriggerArgs(params)
	if err != nil {
		return err
	}
	stored, created := s.Triggers.Upsert(t)
	if created {
		s.Echo("trigger " + stored.ID + " added")
	} else {
		s.Echo("trigger " + stored.ID + " updated")
	}
	return nil
}

func (c *client) listTriggers(s *pipeline.Session) {
	users := s.Triggers.Users()
	s.Echo(fmt.Sprintf("%s user triggers, %s system triggers",
		humanize.Comma(int64(len(users))), humanize.Comma(int64(len(s.Triggers.Systems())))))
	for _, t := range users {
		line := fmt.Sprintf("  %s  %q", t.ID, t.Pattern)
		if t.Template != "" {
			line += " => " + t.Template
		}
		var tags []string
		if t.Group != "" {
			g := "group " + t.Group
			if !s.Triggers.GroupEnabled(t.Group) {
				g += " (off)"
			}
			tags = append(tags, g)
		}
		if !t.Enabled {
			tags = append(tags, "disabled")
		}
		if t.MoveTo != rules.TerminalNone {
			tags = append(tags, "to "+string(t.MoveTo))
		}
		if t.MatchCount > 0 {
			tags = append(tags, fmt.Sprintf("matched %s times, last %s",
				humanize.Comma(int64(t.MatchCount)), humanize.Time(t.LastMatched)))
		}
		if len(tags) > 0 {
			line += " [" + strings.Join(tags, "; ") + "]"
		}
		s.Echo(line)
	}
}

func (c *client) setting(s *pipeline.Session, params string) error {
	name, value := rules.SplitHead(params)
	if name == "" {
		for _, n := range settingNames() {
			v, _ := getSetting(&gs, n)
			s.Echo(fmt.Sprintf("  %-14s %-10s %s", n, v, settingTable[n].help))
		}
		return nil
	}
	if value == "" {
		v, err := getSetting(&gs, name)
		if err != nil {
			return err
		}
		s.Echo(fmt.Sprintf("%s = %s", strings.ToLower(name), v))
		return nil
	}
	if err := setSetting(&gs, name, value); err != nil {
		return err
	}
	c.applySettings()
	saveSettings()
	v, _ := getSetting(&gs, name)
	s.Echo(fmt.Sprintf("%s = %s", strings.ToLower(name), v))
	return nil
}

// applySettings pushes settings that are not read on every call.
func (c *client) applySettings() {
	c.history.Resize(gs.HistorySize)
}

func (c *client) loadMacros(s *pipeline.Session, params string) error {
	p := strings.TrimSpace(params)
	if p == "" {
		return usage(s, "load <file or directory>")
	}
	if _, err := os.Stat(p); os.IsNotExist(err) && !filepath.IsAbs(p) {
		p = filepath.Join(dataDirPath, p)
	}
	info, err := os.Stat(p)
	if err != nil {
		return err
	}
	var as []rules.Alias
	if info.IsDir() {
		as, err = rules.LoadMacroDir(p)
	} else {
		as, err = rules.LoadMacroFile(p)
	}
	if err != nil {
		return err
	}
	for _, a := range as {
		s.Aliases.Upsert(a)
	}
	s.Echo(fmt.Sprintf("loaded %s aliases from %s", humanize.Comma(int64(len(as))), p))
	return nil
}

func (c *client) status(s *pipeline.Session) {
	if c.conn != nil {
		s.Echo(fmt.Sprintf("connected to %s for %s", c.conn.Addr(),
			durafmt.Parse(c.connectedFor()).LimitFirstN(2).Format(shortUnits)))
	} else {
		s.Echo("not connected")
	}
	if c.profile != nil {
		s.Echo("profile: " + c.profile.Name)
	}
	if ch := s.Character(); ch != "" {
		s.Echo("character: " + ch)
	}
	s.Echo(fmt.Sprintf("aliases: %d, triggers: %d user / %d system, variables: %d, history: %d",
		s.Aliases.Len(), len(s.Triggers.Users()), len(s.Triggers.Systems()), len(s.Vars.All()), s.History.Len()))
	if c.ext != nil {
		if names := c.ext.Loaded(); len(names) > 0 {
			s.Echo("extensions: " + strings.Join(names, ", "))
		}
	}
	for _, t := range rules.Terminals {
		if n := s.Unread(t); n > 0 {
			s.Echo(fmt.Sprintf("%s: %d unread", t, n))
		}
	}
}

func (c *client) profileCommand(s *pipeline.Session, params string) error {
	if c.store == nil {
		return errors.New("profiles are not available")
	}
	parts, err := shellwords.SplitPosix(params)
	if err != nil {
		return err
	}
	switch len(parts) {
	case 0:
		names, err := c.store.List()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			s.Echo("no profiles")
		}
		for _, n := range names {
			mark := " "
			if c.profile != nil && strings.EqualFold(n, c.profile.Name) {
				mark = "*"
			}
			s.Echo(mark + " " + n)
		}
		return nil
	case 1:
		if c.profile != nil {
			if err := c.saveProfile(); err != nil {
				logWarn("save profile %s: %v", c.profile.Name, err)
			}
		}
		if err := c.loadProfile(parts[0]); err != nil {
			if errors.Is(err, profile.ErrNotFound) {
				return fmt.Errorf("%w: %s (create it with %sprofile <name> <host>)", err, parts[0], s.Prefix())
			}
			return err
		}
		s.Echo("profile " + c.profile.Name)
		return nil
	}
	p, err := c.store.Get(parts[0])
	if errors.Is(err, profile.ErrNotFound) {
		p = &profile.Profile{Name: parts[0]}
	} else if err != nil {
		return err
	}
	p.Host = parts[1]
	if len(parts) > 2 {
		p.Username = parts[2]
	}
	if len(parts) > 3 {
		p.Password = parts[3]
	}
	if err := c.store.Put(p); err != nil {
		return err
	}
	c.applyProfile(p)
	s.Echo("profile " + p.Name + " saved")
	return nil
}
