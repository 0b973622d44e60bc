// Package stream fans tmux pane output out to streaming subscribers.
//
// A Hub owns one Registry of subscribers and at most one poller goroutine per
// target. The poller exists exactly while the target has subscribers; it
// captures the pane, and broadcasts only when the content changes. A Session
// drives one client connection: heartbeats, control frames and teardown.
package stream

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTransportClosed is returned by a Transport after Close.
	ErrTransportClosed = errors.New("transport closed")

	// ErrReceiveTimeout is returned by Receive when no frame arrived in time.
	// The connection stays usable.
	ErrReceiveTimeout = errors.New("receive timeout")

	// ErrHubClosed is returned when subscribing after Close.
	ErrHubClosed = errors.New("hub closed")
)

// Transport sends text frames to one client. Send must be safe for
// concurrent use; the heartbeat, the poller and control replies all write.
type Transport interface {
	Send(text string) error
	Close() error
}

// Conn is a Transport that can also read client frames.
type Conn interface {
	Transport

	// Receive waits up to timeout for the next text frame. It returns
	// ErrReceiveTimeout on timeout and ctx.Err() if ctx ends first. Any other
	// error means the connection is gone.
	Receive(ctx context.Context, timeout time.Duration) (string, error)
}
