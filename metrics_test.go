package main

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"mudpipe/pipeline"
)

func TestMetricsObserveSession(t *testing.T) {
	gs = gsdef
	m := newMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newClient(ctx, newConsole(&syncBuffer{}), nil, m)
	c.session.SetTransport(&recordTransport{})

	c.session.Send(ctx, `#trigger '^(\w+) arrives' 'wave %1'`)
	c.session.CheckLine(ctx, pipeline.Line{Text: "Ann arrives"})
	c.session.CheckLine(ctx, pipeline.Line{Text: "What is your name?"})
	c.session.CheckLine(ctx, pipeline.Line{Text: "   "})
	c.session.Send(ctx, "look")
	c.session.Send(ctx, "#alias a b")
	c.session.Send(ctx, "#alias b a")
	c.session.Send(ctx, "a")

	if got := testutil.ToFloat64(m.linesChecked); got != 2 {
		t.Errorf("lines checked = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.triggersFired.WithLabelValues("user")); got != 1 {
		t.Errorf("user triggers fired = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.triggersFired.WithLabelValues("system")); got != 1 {
		t.Errorf("system triggers fired = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.linesSent); got != 2 {
		t.Errorf("lines sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.recursionAborted); got != 1 {
		t.Errorf("recursion aborted = %v, want 1", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := newMetrics()
	m.setConnected(true)
	m.LineSent()

	srv := httptest.NewServer(m.handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"mudpipe_connected 1", "mudpipe_lines_sent_total 1"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output lacks %q:\n%s", want, body)
		}
	}
}
