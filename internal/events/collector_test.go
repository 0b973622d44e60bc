package events

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakePoker struct {
	mu       sync.Mutex
	sessions []string
}

func (p *fakePoker) PokeSession(session string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, session)
	return 1
}

func (p *fakePoker) poked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sessions...)
}

func startCollector(t *testing.T, poker Poker) (*Collector, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	socketPath := shortSocketPath(t)
	c := NewCollector(poker, socketPath, nil, nil)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start collector: %v", err)
	}
	return c, socketPath
}

func TestCollector_StartBindsSocket(t *testing.T) {
	_, socketPath := startCollector(t, &fakePoker{})
	if _, err := os.Stat(socketPath); err != nil {
		t.Fatalf("expected socket at %s: %v", socketPath, err)
	}
}

func TestCollector_StartRequiresPoker(t *testing.T) {
	c := NewCollector(nil, shortSocketPath(t), nil, nil)
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error without poker")
	}
}

func TestCollector_PokesSessionOfValidHint(t *testing.T) {
	poker := &fakePoker{}
	c, socketPath := startCollector(t, poker)

	payload := []byte(`{"target":"build:0.1","source":"after-send-keys"}`)
	if err := sendDatagram(socketPath, payload); err != nil {
		t.Fatalf("send datagram: %v", err)
	}

	waitFor(t, time.Second, func() bool { return c.Received() == 1 })
	got := poker.poked()
	if len(got) != 1 || got[0] != "build" {
		t.Fatalf("poked = %v, want [build]", got)
	}
}

func TestCollector_IgnoresBadHints(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"malformed", []byte(`not-json`)},
		{"injection", []byte(`{"target":"s;kill-server"}`)},
		{"empty target", []byte(`{"target":""}`)},
		{"oversized", []byte(`{"target":"` + strings.Repeat("a", 9000) + `"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poker := &fakePoker{}
			c, socketPath := startCollector(t, poker)

			// Oversized datagrams may be refused by the kernel; either way
			// nothing must reach the poker.
			_ = sendDatagram(socketPath, tt.payload)
			if err := sendDatagram(socketPath, []byte(`{"target":"ok"}`)); err != nil {
				t.Fatalf("send datagram: %v", err)
			}

			waitFor(t, time.Second, func() bool { return c.Received() == 1 })
			if got := poker.poked(); len(got) != 1 || got[0] != "ok" {
				t.Fatalf("poked = %v, want [ok]", got)
			}
		})
	}
}

func TestCollector_ClosesOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	socketPath := shortSocketPath(t)
	c := NewCollector(&fakePoker{}, socketPath, nil, nil)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start collector: %v", err)
	}
	cancel()
	waitFor(t, time.Second, func() bool {
		_, err := os.Stat(socketPath)
		return os.IsNotExist(err)
	})
}

func TestSend(t *testing.T) {
	poker := &fakePoker{}
	c, socketPath := startCollector(t, poker)

	if err := Send(socketPath, Hint{Target: "dev:2"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, time.Second, func() bool { return c.Received() == 1 })

	if err := Send(socketPath, Hint{Target: "dev;x"}); err == nil {
		t.Fatal("Send accepted an invalid target")
	}
}

func sendDatagram(socketPath string, payload []byte) error {
	addr, err := net.ResolveUnixAddr("unixgram", socketPath)
	if err != nil {
		return err
	}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write(payload)
	return err
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func shortSocketPath(t *testing.T) string {
	t.Helper()
	base := filepath.Join(os.TempDir(), "pr-hints")
	if err := os.MkdirAll(base, 0o700); err != nil {
		t.Fatalf("mkdir temp base: %v", err)
	}
	p := filepath.Join(base, fmt.Sprintf("%d-%d.sock", time.Now().UnixNano(), os.Getpid()))
	t.Cleanup(func() {
		_ = os.Remove(p)
	})
	return p
}
