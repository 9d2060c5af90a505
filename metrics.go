package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics counts pipeline activity. It is the session's Observer.
type metrics struct {
	registry *prometheus.Registry

	linesChecked     prometheus.Counter
	triggersFired    *prometheus.CounterVec
	linesSent        prometheus.Counter
	recursionAborted prometheus.Counter
	connected        prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		linesChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudpipe_lines_checked_total",
			Help: "Received lines run through the triggers.",
		}),
		triggersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mudpipe_triggers_fired_total",
			Help: "Trigger matches by kind.",
		}, []string{"kind"}),
		linesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudpipe_lines_sent_total",
			Help: "Lines handed to the connection.",
		}),
		recursionAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudpipe_alias_recursion_aborted_total",
			Help: "Commands abandoned at the alias depth limit.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mudpipe_connected",
			Help: "1 while a game connection is open.",
		}),
	}
	m.registry.MustRegister(
		m.linesChecked,
		m.triggersFired,
		m.linesSent,
		m.recursionAborted,
		m.connected,
	)
	return m
}

func (m *metrics) LineChecked() { m.linesChecked.Inc() }
func (m *metrics) LineSent()    { m.linesSent.Inc() }

func (m *metrics) TriggerFired(system bool) {
	kind := "user"
	if system {
		kind = "system"
	}
	m.triggersFired.WithLabelValues(kind).Inc()
}

func (m *metrics) RecursionAborted() { m.recursionAborted.Inc() }

func (m *metrics) setConnected(on bool) {
	if on {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// serve exposes /metrics on addr until ctx ends.
func (m *metrics) serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
