package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/time/rate"
)

const (
	dialTimeout = 10 * time.Second
	// promptDelay is how long an unterminated line may wait before it is
	// treated as a prompt.
	promptDelay = 250 * time.Millisecond
	outboxSize  = 256
	maxLineLen  = 64 * 1024
)

var errConnClosed = errors.New("connection closed")

// connHandler receives traffic from a game connection. Both callbacks run
// on the connection's reader goroutine.
type connHandler struct {
	onLine  func(raw string)
	onClose func(err error)
}

// gameConn is an open connection to a game.
type gameConn interface {
	Send(ctx context.Context, line string) error
	Connected() bool
	CancelPending() int
	Close() error
	Addr() string
	Since() time.Time
}

// dialGame connects to addr. ws:// and wss:// addresses use a websocket,
// anything else is a host:port reached over TCP.
func dialGame(ctx context.Context, addr string, enc encoding.Encoding, limit rate.Limit, h connHandler) (gameConn, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		wc, err := dialWebsocket(ctx, addr, enc, limit, h)
		if err != nil {
			return nil, err
		}
		return wc, nil
	}
	d := net.Dialer{Timeout: dialTimeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	logDebug("connected to %s", c.RemoteAddr())
	return newLineConn(c, addr, enc, limit, h), nil
}

// outbox queues lines for a writer goroutine, paced by a limiter.
type outbox struct {
	ch      chan string
	limiter *rate.Limiter
	done    chan struct{}
}

func newOutbox(limit rate.Limit) *outbox {
	if limit <= 0 {
		limit = rate.Inf
	}
	return &outbox{
		ch:      make(chan string, outboxSize),
		limiter: rate.NewLimiter(limit, 1),
		done:    make(chan struct{}),
	}
}

func (o *outbox) push(ctx context.Context, line string) error {
	select {
	case o.ch <- line:
		return nil
	case <-o.done:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain drops every queued line and reports how many were dropped.
func (o *outbox) drain() int {
	n := 0
	for {
		select {
		case <-o.ch:
			n++
		default:
			return n
		}
	}
}

// run writes queued lines until the outbox is closed or write fails.
func (o *outbox) run(write func(string) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-o.done
		cancel()
	}()
	for {
		select {
		case line := <-o.ch:
			if err := o.limiter.Wait(ctx); err != nil {
				return nil
			}
			if err := write(line); err != nil {
				return err
			}
		case <-o.done:
			return nil
		}
	}
}

// lineConn is a telnet-filtered line transport over TCP.
type lineConn struct {
	conn   net.Conn
	addr   string
	enc    encoding.Encoding
	h      connHandler
	out    *outbox
	since  time.Time
	open   atomic.Bool
	closer sync.Once
	wg     sync.WaitGroup
}

func newLineConn(c net.Conn, addr string, enc encoding.Encoding, limit rate.Limit, h connHandler) *lineConn {
	lc := &lineConn{
		conn:  c,
		addr:  addr,
		enc:   enc,
		h:     h,
		out:   newOutbox(limit),
		since: time.Now(),
	}
	lc.open.Store(true)
	lc.wg.Add(2)
	go lc.readLoop()
	go lc.writeLoop()
	return lc
}

func (lc *lineConn) Addr() string     { return lc.addr }
func (lc *lineConn) Since() time.Time { return lc.since }
func (lc *lineConn) Connected() bool  { return lc.open.Load() }

func (lc *lineConn) Send(ctx context.Context, line string) error {
	if !lc.open.Load() {
		return errConnClosed
	}
	return lc.out.push(ctx, line)
}

func (lc *lineConn) CancelPending() int {
	return lc.out.drain()
}

// Close shuts the connection and waits for its goroutines.
func (lc *lineConn) Close() error {
	err := lc.shutdown()
	lc.wg.Wait()
	return err
}

func (lc *lineConn) shutdown() error {
	var err error
	lc.closer.Do(func() {
		lc.open.Store(false)
		close(lc.out.done)
		err = lc.conn.Close()
	})
	return err
}

func (lc *lineConn) writeLoop() {
	defer lc.wg.Done()
	err := lc.out.run(func(line string) error {
		logDebug("send %q", line)
		return writeAll(lc.conn, append(encodeLine(lc.enc, line), '\r', '\n'))
	})
	if err != nil {
		logDebug("write: %v", err)
		lc.shutdown()
	}
}

func (lc *lineConn) readLoop() {
	defer lc.wg.Done()
	var (
		filter  telnetFilter
		partial []byte
		buf     = make([]byte, 4096)
	)
	emit := func(b []byte) {
		line := decodeLine(lc.enc, trimCR(b))
		logDebug("recv %q", line)
		if lc.h.onLine != nil {
			lc.h.onLine(line)
		}
	}
	for {
		if len(partial) > 0 {
			lc.conn.SetReadDeadline(time.Now().Add(promptDelay))
		} else {
			lc.conn.SetReadDeadline(time.Time{})
		}
		n, err := lc.conn.Read(buf)
		if n > 0 {
			data, reply, prompts := filter.Filter(buf[:n])
			if len(reply) > 0 {
				if werr := writeAll(lc.conn, reply); werr != nil {
					logDebug("telnet reply: %v", werr)
				}
			}
			partial = splitLines(partial, data, prompts, emit)
			if len(partial) > maxLineLen {
				emit(partial)
				partial = nil
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && lc.open.Load() {
				if len(partial) > 0 {
					emit(partial)
					partial = nil
				}
				continue
			}
			if len(partial) > 0 {
				emit(partial)
			}
			wasOpen := lc.open.Load()
			lc.shutdown()
			if lc.h.onClose != nil && wasOpen {
				if errors.Is(err, io.EOF) {
					err = errConnClosed
				}
				lc.h.onClose(err)
			}
			return
		}
	}
}

// splitLines appends data to partial, calls emit for every complete line
// and for every prompt boundary, and returns the unterminated remainder.
func splitLines(partial, data []byte, prompts []int, emit func([]byte)) []byte {
	start := 0
	next := 0
	for i := 0; i <= len(data); i++ {
		isPrompt := next < len(prompts) && prompts[next] == i
		if isPrompt {
			next++
			for next < len(prompts) && prompts[next] == i {
				next++
			}
			if seg := append(partial, data[start:i]...); len(bytes.TrimSpace(seg)) > 0 {
				emit(seg)
			}
			partial = nil
			start = i
		}
		if i < len(data) && data[i] == '\n' {
			// a newline straight after a prompt ends the prompt itself
			if !isPrompt {
				emit(append(partial, data[start:i]...))
			}
			partial = nil
			start = i + 1
		}
	}
	return append(partial, data[start:]...)
}

// writeAll writes the entirety of data to conn, returning an error if the
// write fails or is short.
func writeAll(conn io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
