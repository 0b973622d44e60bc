package model

import (
	"sort"
	"strconv"
	"time"
)

// TimeFormat is used for every timestamp the relay emits.
const TimeFormat = time.RFC3339Nano

// Timestamp formats t in UTC using TimeFormat.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Window is a tmux window as reported by list-windows.
type Window struct {
	// Index is the window index within its session.
	Index int `json:"index"`
	// Name is the window name. It may contain any character tmux allows.
	Name string `json:"name"`
	// Active is true for the session's current window.
	Active bool `json:"active"`
	// PaneCount is the number of panes in the window.
	PaneCount int `json:"pane_count"`
}

// Pane is a tmux pane as reported by list-panes.
type Pane struct {
	// Index is the pane index within its window.
	Index int `json:"index"`
	// Active is true for the window's current pane.
	Active bool `json:"active"`
	// Command is the foreground command running in the pane (e.g., "bash").
	Command string `json:"command"`
	// Size is the pane geometry as "WxH".
	Size string `json:"size"`
}

// WindowNode is a window with its panes, keyed by pane index.
type WindowNode struct {
	Window
	Panes map[string]Pane `json:"panes"`
}

// SessionNode is a session with its windows, keyed by window index.
type SessionNode struct {
	Name    string                `json:"name"`
	Windows map[string]WindowNode `json:"windows"`
}

// Hierarchy maps session names to their windows and panes.
type Hierarchy map[string]SessionNode

// SessionNames returns the session names in sorted order.
func (h Hierarchy) SessionNames() []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortedWindows returns the session's windows ordered by index.
func (s SessionNode) SortedWindows() []WindowNode {
	out := make([]WindowNode, 0, len(s.Windows))
	for _, w := range s.Windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// SortedPanes returns the window's panes ordered by index.
func (w WindowNode) SortedPanes() []Pane {
	out := make([]Pane, 0, len(w.Panes))
	for _, p := range w.Panes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Key returns the map key used for an index in Hierarchy.
func Key(index int) string {
	return strconv.Itoa(index)
}

// Output is a captured pane snapshot. It is also the wire shape of output
// frames on the streaming endpoint, which carry no "type" field.
type Output struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Target    string `json:"target"`
}

// Settings is the persisted relay settings document.
type Settings struct {
	// SessionName is the session clients use when they do not name a target.
	SessionName string `json:"session_name"`
	// AutoCreateSession creates a missing session before sending keys to it.
	AutoCreateSession bool `json:"auto_create_session"`
	// CaptureHistory makes one-shot output requests include scrollback by default.
	CaptureHistory bool `json:"capture_history"`
}

// DefaultSettings returns the settings used when none are stored.
func DefaultSettings() Settings {
	return Settings{
		SessionName:       "default",
		AutoCreateSession: true,
		CaptureHistory:    true,
	}
}
