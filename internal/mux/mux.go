// Package mux is the gateway to the tmux binary.
//
// Every operation validates its identifiers, builds an explicit argument
// vector and runs one short-lived tmux process. Nothing is interpreted by a
// shell and nothing is retained between calls.
package mux

import (
	"context"

	"github.com/timvw/pane-relay/internal/model"
)

// Gateway abstracts the tmux operations the relay issues.
type Gateway interface {
	// SendKeys types keys into target. With literal set, tmux key names
	// such as "Enter" are not looked up.
	SendKeys(ctx context.Context, target, keys string, literal bool) (Result, error)

	// SendEnter presses Enter in target.
	SendEnter(ctx context.Context, target string) (Result, error)

	// Capture returns the pane content of target, including escape sequences.
	Capture(ctx context.Context, target string, opts CaptureOptions) (string, error)

	// HasSession reports whether the named session exists.
	HasSession(ctx context.Context, session string) (bool, error)

	ListSessions(ctx context.Context) ([]string, error)
	ListWindows(ctx context.Context, session string) ([]model.Window, error)
	ListPanes(ctx context.Context, session, window string) ([]model.Pane, error)

	// Hierarchy walks sessions, windows and panes in one call tree.
	Hierarchy(ctx context.Context) (model.Hierarchy, error)

	NewSession(ctx context.Context, name string) (Result, error)
	KillSession(ctx context.Context, name string) (Result, error)

	// EnsureSession creates the session if it does not exist yet.
	EnsureSession(ctx context.Context, name string) (created bool, err error)

	// NewWindow creates a window in session. An empty name lets tmux choose.
	NewWindow(ctx context.Context, session, name string) (Result, error)
	KillWindow(ctx context.Context, session, index string) (Result, error)

	// ResizeWindow resizes the window of target, clamping cols and rows.
	ResizeWindow(ctx context.Context, target string, cols, rows int) (Result, error)
}

// CaptureOptions selects how much of a pane is captured.
type CaptureOptions struct {
	// History includes scrollback.
	History bool
	// Lines limits scrollback to the last N lines. Zero or negative means
	// the whole history. Ignored without History.
	Lines int
}

var _ Gateway = (*Tmux)(nil)
