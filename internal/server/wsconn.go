package server

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/timvw/pane-relay/internal/stream"
)

const wsReadLimit = 64 * 1024

// wsConn adapts a gorilla connection to stream.Conn. Gorilla allows one
// concurrent writer and one reader: writes are serialized by mu, and a
// single goroutine reads into frames so a receive timeout never poisons the
// connection the way an expired read deadline would.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool

	frames    chan string
	readErr   error // set before frames is closed
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) *wsConn {
	conn.SetReadLimit(wsReadLimit)
	c := &wsConn{
		conn:         conn,
		writeTimeout: writeTimeout,
		frames:       make(chan string),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *wsConn) readLoop() {
	defer close(c.frames)
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			c.readErr = err
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		select {
		case c.frames <- string(data):
		case <-c.done:
			return
		}
	}
}

// Send writes one text frame, bounded by the write timeout.
func (c *wsConn) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return stream.ErrTransportClosed
	}
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Receive returns the next text frame.
func (c *wsConn) Receive(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case text, ok := <-c.frames:
		if !ok {
			if c.readErr != nil {
				return "", c.readErr
			}
			return "", io.EOF
		}
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", stream.ErrTransportClosed
	case <-timer.C:
		return "", stream.ErrReceiveTimeout
	}
}

// Close sends a normal close frame and closes the connection. Safe to call
// more than once.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
