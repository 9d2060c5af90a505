package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/text/encoding"
	"golang.org/x/time/rate"
)

const wsWriteTimeout = 5 * time.Second

// wsConn carries game text over a websocket. Each frame holds one or more
// lines; an unterminated tail is delivered as a prompt.
type wsConn struct {
	conn   *websocket.Conn
	addr   string
	enc    encoding.Encoding
	h      connHandler
	out    *outbox
	since  time.Time
	open   atomic.Bool
	closer sync.Once
	wg     sync.WaitGroup
}

func dialWebsocket(ctx context.Context, addr string, enc encoding.Encoding, limit rate.Limit, h connHandler) (*wsConn, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = dialTimeout
	c, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	logDebug("websocket connected to %s", addr)
	wc := &wsConn{
		conn:  c,
		addr:  addr,
		enc:   enc,
		h:     h,
		out:   newOutbox(limit),
		since: time.Now(),
	}
	wc.open.Store(true)
	wc.wg.Add(2)
	go wc.readLoop()
	go wc.writeLoop()
	return wc, nil
}

func (wc *wsConn) Addr() string     { return wc.addr }
func (wc *wsConn) Since() time.Time { return wc.since }
func (wc *wsConn) Connected() bool  { return wc.open.Load() }

func (wc *wsConn) Send(ctx context.Context, line string) error {
	if !wc.open.Load() {
		return errConnClosed
	}
	return wc.out.push(ctx, line)
}

func (wc *wsConn) CancelPending() int {
	return wc.out.drain()
}

func (wc *wsConn) Close() error {
	err := wc.shutdown()
	wc.wg.Wait()
	return err
}

func (wc *wsConn) shutdown() error {
	var err error
	wc.closer.Do(func() {
		wc.open.Store(false)
		close(wc.out.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		wc.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = wc.conn.Close()
	})
	return err
}

func (wc *wsConn) writeLoop() {
	defer wc.wg.Done()
	err := wc.out.run(func(line string) error {
		logDebug("send %q", line)
		wc.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return wc.conn.WriteMessage(websocket.TextMessage, encodeLine(wc.enc, line))
	})
	if err != nil {
		logDebug("websocket write: %v", err)
		wc.shutdown()
	}
}

func (wc *wsConn) readLoop() {
	defer wc.wg.Done()
	emit := func(b []byte) {
		line := decodeLine(wc.enc, trimCR(b))
		logDebug("recv %q", line)
		if wc.h.onLine != nil {
			wc.h.onLine(line)
		}
	}
	for {
		_, msg, err := wc.conn.ReadMessage()
		if err != nil {
			wasOpen := wc.open.Load()
			wc.shutdown()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = errConnClosed
			}
			if wc.h.onClose != nil && wasOpen {
				wc.h.onClose(err)
			}
			return
		}
		rest := splitLines(nil, msg, nil, emit)
		if len(rest) > 0 {
			emit(rest)
		}
	}
}

func trimCR(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}
	return b
}
