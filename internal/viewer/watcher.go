package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/stream"
)

// EventKind classifies watcher events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventHeartbeat
	EventOutput
)

// Event is something that happened on the stream.
type Event struct {
	Kind   EventKind
	Output model.Output  // EventOutput
	Err    error         // EventDisconnected
	Retry  time.Duration // EventDisconnected: delay before the next attempt
	At     time.Time
}

var backoffSteps = []time.Duration{
	100 * time.Millisecond,
	time.Second,
	3 * time.Second,
	5 * time.Second,
}

const maxBackoff = 30 * time.Second

// Backoff returns the reconnect delay after the given number of consecutive
// failures: 100ms, 1s, 3s, 5s, then doubling up to 30s.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt < len(backoffSteps) {
		return backoffSteps[attempt]
	}
	d := backoffSteps[len(backoffSteps)-1]
	for i := len(backoffSteps) - 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Watcher keeps a stream to one target open, reconnecting as needed.
type Watcher struct {
	client *Client
	target string
	events chan Event
	logger *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	conn     *websocket.Conn
	writeMu  sync.Mutex
}

// Watch starts streaming target until ctx is done. interval is requested on
// every (re)connect.
func (c *Client) Watch(ctx context.Context, target string, interval time.Duration) *Watcher {
	w := &Watcher{
		client:   c,
		target:   target,
		events:   make(chan Event, 64),
		logger:   c.Logger.With("target", target),
		interval: stream.ClampInterval(interval),
	}
	go w.run(ctx)
	return w
}

// Events delivers stream events. It is closed when the watcher stops.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Interval returns the refresh rate the watcher requests.
func (w *Watcher) Interval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interval
}

// SetInterval changes the requested refresh rate and sends it if connected.
func (w *Watcher) SetInterval(d time.Duration) time.Duration {
	d = stream.ClampInterval(d)
	w.mu.Lock()
	w.interval = d
	conn := w.conn
	w.mu.Unlock()
	if conn != nil {
		if err := w.write(conn, stream.SetRefreshRate(d)); err != nil {
			w.logger.Debug("set refresh rate", "error", err)
		}
	}
	return d
}

// Reconnect drops the current connection; the watcher redials after the
// shortest backoff.
func (w *Watcher) Reconnect() {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.events)

	streamURL, err := w.client.StreamURL(w.target)
	if err != nil {
		w.emit(ctx, Event{Kind: EventDisconnected, Err: err})
		return
	}

	attempt := 0
	for ctx.Err() == nil {
		conn, resp, err := w.client.Dialer.DialContext(ctx, streamURL, nil)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusBadRequest {
				// The server rejected the target; retrying will not help.
				w.emit(ctx, Event{Kind: EventDisconnected, Err: fmt.Errorf("target rejected: %w", responseError(resp))})
				return
			}
			retry := Backoff(attempt)
			attempt++
			w.emit(ctx, Event{Kind: EventDisconnected, Err: err, Retry: retry})
			if !sleep(ctx, retry) {
				return
			}
			continue
		}

		attempt = 0
		err = w.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		retry := Backoff(0)
		w.emit(ctx, Event{Kind: EventDisconnected, Err: err, Retry: retry})
		if !sleep(ctx, retry) {
			return
		}
	}
}

// serve runs one connection until it fails or ctx is done.
func (w *Watcher) serve(ctx context.Context, conn *websocket.Conn) error {
	w.mu.Lock()
	w.conn = conn
	interval := w.interval
	w.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
		_ = conn.Close()
	}()

	w.emit(ctx, Event{Kind: EventConnected})
	if err := w.write(conn, stream.SetRefreshRate(interval)); err != nil {
		return err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f stream.ServerFrame
		if err := json.Unmarshal(data, &f); err != nil {
			w.logger.Debug("ignoring malformed frame", "error", err)
			continue
		}
		switch {
		case f.Type == stream.TypeHeartbeat:
			if err := w.write(conn, stream.ClientFrame{Type: stream.TypePing}); err != nil {
				return err
			}
			w.emit(ctx, Event{Kind: EventHeartbeat})
		case f.IsOutput():
			if f.Target != w.target {
				continue
			}
			w.emit(ctx, Event{Kind: EventOutput, Output: f.Output()})
		}
	}
}

func (w *Watcher) write(conn *websocket.Conn, f stream.ClientFrame) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, []byte(stream.EncodeClientFrame(f)))
}

func (w *Watcher) emit(ctx context.Context, e Event) {
	e.At = time.Now()
	select {
	case w.events <- e:
	case <-ctx.Done():
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
