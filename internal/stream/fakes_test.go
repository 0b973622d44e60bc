package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/timvw/pane-relay/internal/mux"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// fakeConn is an in-memory Conn. Frames pushed with deliver are returned by
// Receive; disconnect simulates the client going away.
type fakeConn struct {
	mu       sync.Mutex
	sent     []string
	sendErr  error
	closed   bool
	inbound  chan string
	gone     chan struct{}
	goneOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan string, 16), gone: make(chan struct{})}
}

func (c *fakeConn) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrTransportClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.disconnect()
	return nil
}

func (c *fakeConn) Receive(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case text := <-c.inbound:
		return text, nil
	case <-c.gone:
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", ErrReceiveTimeout
	}
}

func (c *fakeConn) deliver(text string) { c.inbound <- text }

func (c *fakeConn) disconnect() { c.goneOnce.Do(func() { close(c.gone) }) }

func (c *fakeConn) failSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// frames decodes everything sent so far.
func (c *fakeConn) frames(t *testing.T) []ServerFrame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ServerFrame, 0, len(c.sent))
	for _, s := range c.sent {
		var f ServerFrame
		if err := json.Unmarshal([]byte(s), &f); err != nil {
			t.Fatalf("bad frame %q: %v", s, err)
		}
		out = append(out, f)
	}
	return out
}

func (c *fakeConn) outputs(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, f := range c.frames(t) {
		if f.IsOutput() {
			out = append(out, f.Content)
		}
	}
	return out
}

func (c *fakeConn) count(t *testing.T, typ string) int {
	t.Helper()
	n := 0
	for _, f := range c.frames(t) {
		if f.Type == typ {
			n++
		}
	}
	return n
}

// scriptedCapturer returns scripted captures in order, repeating the last one.
type scriptedCapturer struct {
	mu       sync.Mutex
	script   []string
	pos      int
	captures int
	absent   bool
	err      error
	calls    []time.Time
}

func (s *scriptedCapturer) HasSession(ctx context.Context, session string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.absent, nil
}

func (s *scriptedCapturer) Capture(ctx context.Context, target string, opts mux.CaptureOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captures++
	s.calls = append(s.calls, time.Now())
	if s.err != nil {
		return "", s.err
	}
	if len(s.script) == 0 {
		return "", nil
	}
	out := s.script[s.pos]
	if s.pos < len(s.script)-1 {
		s.pos++
	}
	return out, nil
}

func (s *scriptedCapturer) setAbsent(v bool) {
	s.mu.Lock()
	s.absent = v
	s.mu.Unlock()
}

func (s *scriptedCapturer) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *scriptedCapturer) setScript(script ...string) {
	s.mu.Lock()
	s.script = script
	s.pos = 0
	s.mu.Unlock()
}

func (s *scriptedCapturer) captureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}

func (s *scriptedCapturer) exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos == len(s.script)-1 && s.captures >= len(s.script)
}

var errBoom = errors.New("boom")

func newTestHub(gw Capturer, interval time.Duration) *Hub {
	return NewHub(gw, HubConfig{
		Interval: interval,
		Backoff:  20 * time.Millisecond,
		Logger:   quietLogger(),
	})
}
