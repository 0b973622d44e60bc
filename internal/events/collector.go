// Package events receives refresh hints over a unix datagram socket so tmux
// hooks can wake output pollers early.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	telem "github.com/timvw/pane-relay/internal/otel"
)

const defaultMaxPayloadBytes = 8 * 1024

// Poker wakes pollers. *stream.Hub satisfies it.
type Poker interface {
	PokeSession(session string) int
}

// Collector listens for Hint datagrams and pokes the matching pollers.
type Collector struct {
	poker   Poker
	path    string
	logger  *slog.Logger
	metrics *telem.Metrics

	MaxPayloadBytes int

	mu       sync.Mutex
	conn     *net.UnixConn
	closed   bool
	received int
}

func NewCollector(poker Poker, socketPath string, logger *slog.Logger, metrics *telem.Metrics) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		poker:           poker,
		path:            socketPath,
		logger:          logger,
		metrics:         metrics,
		MaxPayloadBytes: defaultMaxPayloadBytes,
	}
}

func (c *Collector) SocketPath() string {
	return c.path
}

// Received returns how many valid hints have been accepted.
func (c *Collector) Received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received
}

// Start binds the socket and reads hints until ctx is done.
func (c *Collector) Start(ctx context.Context) error {
	if c.poker == nil {
		return fmt.Errorf("poker is required")
	}
	if c.path == "" {
		return fmt.Errorf("socket path is required")
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = defaultMaxPayloadBytes
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Chmod(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("chmod socket dir: %w", err)
	}
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	addr, err := net.ResolveUnixAddr("unixgram", c.path)
	if err != nil {
		return fmt.Errorf("resolve unix addr: %w", err)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return fmt.Errorf("listen unixgram: %w", err)
	}
	if err := os.Chmod(c.path, 0o600); err != nil {
		_ = conn.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.close()
	}()

	go c.readLoop(ctx)

	return nil
}

func (c *Collector) readLoop(ctx context.Context) {
	buf := make([]byte, c.MaxPayloadBytes)
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		n, _, err := conn.ReadFromUnix(buf)
		if err != nil {
			if c.isClosed() {
				return
			}
			continue
		}

		if n <= 0 || n >= c.MaxPayloadBytes {
			c.logger.Debug("hint dropped", "reason", "size", "bytes", n)
			continue
		}

		var h Hint
		if err := json.Unmarshal(buf[:n], &h); err != nil {
			c.logger.Debug("hint dropped", "reason", "malformed", "error", err)
			continue
		}
		if err := h.Validate(); err != nil {
			c.logger.Warn("hint rejected", "error", err)
			c.metrics.RecordValidationRejection(ctx, "hint")
			continue
		}

		c.mu.Lock()
		c.received++
		c.mu.Unlock()

		woken := c.poker.PokeSession(h.Session())
		c.logger.Debug("hint", "target", h.Target, "source", h.Source, "woken", woken)
	}
}

func (c *Collector) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Collector) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	_ = os.Remove(c.path)
}

// Send writes one hint to the collector listening at socketPath.
func Send(socketPath string, h Hint) error {
	if err := h.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode hint: %w", err)
	}
	addr, err := net.ResolveUnixAddr("unixgram", socketPath)
	if err != nil {
		return fmt.Errorf("resolve unix addr: %w", err)
	}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return fmt.Errorf("dial hint socket: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("send hint: %w", err)
	}
	return nil
}
