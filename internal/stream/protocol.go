package stream

import (
	"encoding/json"
	"time"

	"github.com/timvw/pane-relay/internal/model"
)

// Frame types on the streaming endpoint. Output frames have no type.
const (
	TypeHeartbeat      = "heartbeat"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeSetRefreshRate = "set_refresh_rate"
)

// ControlFrame is a server heartbeat or pong.
type ControlFrame struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// ClientFrame is a frame sent by a client.
type ClientFrame struct {
	Type string `json:"type"`
	// Interval is the requested poll interval in seconds (set_refresh_rate).
	Interval *float64 `json:"interval,omitempty"`
}

// ServerFrame decodes any server frame. Type is empty for output frames.
type ServerFrame struct {
	Type      string `json:"type,omitempty"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content,omitempty"`
	Target    string `json:"target,omitempty"`
}

// IsOutput reports whether f is an output frame.
func (f ServerFrame) IsOutput() bool {
	return f.Type == ""
}

// Output returns f as an output event.
func (f ServerFrame) Output() model.Output {
	return model.Output{Content: f.Content, Timestamp: f.Timestamp, Target: f.Target}
}

func controlFrame(typ string, now time.Time) string {
	data, _ := json.Marshal(ControlFrame{Type: typ, Timestamp: model.Timestamp(now)})
	return string(data)
}

// EncodeClientFrame renders a client frame.
func EncodeClientFrame(f ClientFrame) string {
	data, _ := json.Marshal(f)
	return string(data)
}

// SetRefreshRate builds a set_refresh_rate client frame.
func SetRefreshRate(d time.Duration) ClientFrame {
	sec := d.Seconds()
	return ClientFrame{Type: TypeSetRefreshRate, Interval: &sec}
}
