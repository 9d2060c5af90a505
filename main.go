package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/caarlos0/env/v11"

	"mudpipe/profile"
)

// launchConfig holds the start-up options. Environment variables set the
// defaults and flags override them.
type launchConfig struct {
	Host        string `env:"MUDPIPE_HOST"`
	Profile     string `env:"MUDPIPE_PROFILE"`
	DataDir     string `env:"MUDPIPE_DATA_DIR"`
	MetricsAddr string `env:"MUDPIPE_METRICS_ADDR"`
	Debug       bool   `env:"MUDPIPE_DEBUG"`
}

func main() {
	var cfg launchConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("environment: %v", err)
	}
	flag.StringVar(&cfg.Host, "host", cfg.Host, "connect to host:port or ws(s)://url at start")
	flag.StringVar(&cfg.Profile, "profile", cfg.Profile, "profile to load")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "data directory (settings, profiles, logs, extensions)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "serve Prometheus metrics on this address, e.g. :9100")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "verbose/debug logging")
	pcapPath := flag.String("pcap", "", "run the server text of a .pcap/.pcapng capture through the triggers and exit")
	pcapPort := flag.Int("pcapPort", 0, "with -pcap, only replay streams sent from this TCP port")
	pcapPace := flag.Bool("pcapPace", false, "with -pcap, keep the captured timing")
	noExt := flag.Bool("noext", false, "do not load extensions")
	flag.Parse()

	if cfg.DataDir != "" {
		dataDirPath = cfg.DataDir
	}
	if err := os.MkdirAll(dataDirPath, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	logDir = filepath.Join(dataDirPath, "logs")
	setupLogging(cfg.Debug)

	loadSettings()
	defer saveSettings()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	var m *metrics
	if cfg.MetricsAddr != "" {
		m = newMetrics()
		go func() {
			if err := m.serve(ctx, cfg.MetricsAddr); err != nil {
				logError("metrics: %v", err)
			}
		}()
	}

	store, err := profile.Open(filepath.Join(dataDirPath, profilesFile))
	if err != nil {
		logError("%v", err)
		store = nil
	} else {
		defer store.Close()
	}

	c := newClient(ctx, con, store, m)
	if name := startProfile(cfg.Profile, store); name != "" {
		if err := c.loadProfile(name); err != nil {
			logWarn("profile %s: %v", name, err)
		}
	}
	if !*noExt {
		c.enableExtensions(filepath.Join(dataDirPath, "extensions"))
	}

	if *pcapPath != "" {
		r := &pcapReplay{port: *pcapPort, pace: *pcapPace, enc: wireEncoding(gs.Encoding)}
		if err := replayCapture(c, r, *pcapPath); err != nil {
			logError("replay %s: %v", *pcapPath, err)
			os.Exit(1)
		}
		return
	}

	input := make(chan string)
	go readInput(ctx, os.Stdin, input)

	if cfg.Host != "" || (c.profile != nil && c.profile.Host != "") {
		c.post(func() {
			if err := c.connect(cfg.Host); err != nil {
				c.session.Error("%v", err)
			}
		})
	}
	c.session.Echo(fmt.Sprintf("type %shelp for commands", c.session.Prefix()))

	if err := c.run(input); err != nil && !errors.Is(err, context.Canceled) {
		logError("%v", err)
	}
	if c.profile != nil {
		if err := c.saveProfile(); err != nil {
			logError("save profile: %v", err)
		}
	}
}

// startProfile picks the profile to load: the requested one, else the
// last one used.
func startProfile(requested string, store *profile.Store) string {
	if requested != "" {
		return requested
	}
	if gs.LastProfile != "" {
		return gs.LastProfile
	}
	if store != nil {
		return store.Last()
	}
	return ""
}

// readInput forwards lines from r until EOF or ctx ends, then closes out.
func readInput(ctx context.Context, r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logError("read input: %v", err)
	}
}

// replayCapture feeds a capture through the client and returns once every
// line has been checked.
func replayCapture(c *client, r *pcapReplay, path string) error {
	r.deliver = func(raw string) {
		c.post(func() { c.handleLine(raw) })
	}
	done := make(chan error, 1)
	go func() {
		done <- r.Run(c.ctx, path)
		c.post(c.close)
	}()
	c.run(make(chan string))
	return <-done
}
