package events

import (
	"fmt"
	"time"

	"github.com/timvw/pane-relay/internal/validate"
)

// Hint asks the relay to refresh a target now instead of at its next poll.
// Typically sent from a tmux hook, e.g.
//
//	set-hook -g after-send-keys 'run-shell "pane-relay hint #{session_name}:#{window_index}.#{pane_index}"'
type Hint struct {
	Target string    `json:"target"`
	Source string    `json:"source,omitempty"`
	TS     time.Time `json:"ts,omitempty"`
}

// Validate checks the hint's target.
func (h Hint) Validate() error {
	if err := validate.CheckTarget(h.Target); err != nil {
		return fmt.Errorf("hint: %w", err)
	}
	return nil
}

// Session returns the session the hint refers to.
func (h Hint) Session() string {
	return validate.SessionOf(h.Target)
}
