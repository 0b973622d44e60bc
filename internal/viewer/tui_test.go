package viewer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/stream"
)

type fakeStream struct {
	events     chan Event
	interval   time.Duration
	reconnects int
}

func (f *fakeStream) Events() <-chan Event    { return f.events }
func (f *fakeStream) Interval() time.Duration { return f.interval }
func (f *fakeStream) Reconnect()              { f.reconnects++ }
func (f *fakeStream) SetInterval(d time.Duration) time.Duration {
	f.interval = stream.ClampInterval(d)
	return f.interval
}

type fakeSender struct {
	target, command string
	err             error
}

func (f *fakeSender) Submit(_ context.Context, target, command string) error {
	f.target, f.command = target, command
	return f.err
}

func newTestModel() (*tuiModel, *fakeStream, *fakeSender) {
	fs := &fakeStream{events: make(chan Event, 8), interval: 2 * time.Second}
	sender := &fakeSender{}
	m := newTUIModel(context.Background(), "dev", fs, sender, DarkTheme())
	m.width, m.height = 100, 20
	return m, fs, sender
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEscape}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestEventsUpdateState(t *testing.T) {
	m, _, _ := newTestModel()

	m.Update(eventMsg(Event{Kind: EventConnected}))
	if m.state != stateConnected {
		t.Fatalf("state = %v, want connected", m.state)
	}

	m.Update(eventMsg(Event{Kind: EventOutput, Output: model.Output{
		Content: "line1\nline2\n", Timestamp: "2026-01-02T03:04:05Z", Target: "dev",
	}}))
	if m.content != "line1\nline2\n" || m.lastUpdate == "" {
		t.Fatalf("content not applied: %q %q", m.content, m.lastUpdate)
	}

	m.Update(eventMsg(Event{Kind: EventDisconnected, Err: errors.New("eof"), Retry: time.Second}))
	if m.state != stateRetrying || m.retry != time.Second {
		t.Fatalf("state = %v retry = %v", m.state, m.retry)
	}
	if !strings.Contains(m.View(), "retry in 1s") {
		t.Error("view does not show retry delay")
	}
}

func TestRefreshRateKeys(t *testing.T) {
	m, fs, _ := newTestModel()

	m.Update(key("+"))
	if fs.interval != time.Second {
		t.Fatalf("after + interval = %v, want 1s", fs.interval)
	}
	m.Update(key("-"))
	m.Update(key("-"))
	if fs.interval != 4*time.Second {
		t.Fatalf("after - - interval = %v, want 4s", fs.interval)
	}
	for range 10 {
		m.Update(key("-"))
	}
	if fs.interval != stream.MaxInterval {
		t.Fatalf("interval = %v, want clamp at %v", fs.interval, stream.MaxInterval)
	}
	if !strings.Contains(m.message, "Refresh every") {
		t.Errorf("message = %q", m.message)
	}
}

func TestReconnectKey(t *testing.T) {
	m, fs, _ := newTestModel()
	m.Update(key("r"))
	if fs.reconnects != 1 {
		t.Fatalf("reconnects = %d", fs.reconnects)
	}
}

func TestInputSubmitsCommand(t *testing.T) {
	m, _, sender := newTestModel()

	m.Update(key("i"))
	if m.mode != modeInput {
		t.Fatal("i did not enter input mode")
	}
	m.Update(key("ls -la"))
	_, cmd := m.Update(key("enter"))
	if m.mode != modeWatch {
		t.Fatal("enter did not leave input mode")
	}
	if cmd == nil {
		t.Fatal("enter returned no command")
	}
	msg := cmd()
	if sender.target != "dev" || sender.command != "ls -la" {
		t.Fatalf("submitted %q to %q", sender.command, sender.target)
	}
	m.Update(msg)
	if !strings.Contains(m.message, "Sent 'ls -la' to dev") {
		t.Errorf("message = %q", m.message)
	}
}

func TestInputFailureShown(t *testing.T) {
	m, _, sender := newTestModel()
	sender.err = errors.New("server returned 400: invalid target")

	m.Update(key("i"))
	m.Update(key("x"))
	_, cmd := m.Update(key("enter"))
	m.Update(cmd())
	if !strings.HasPrefix(m.message, "Send failed") {
		t.Errorf("message = %q", m.message)
	}
}

func TestInputEscapeAndEmpty(t *testing.T) {
	m, _, sender := newTestModel()

	m.Update(key("i"))
	m.Update(key("q"))
	m.Update(key("esc"))
	if m.mode != modeWatch {
		t.Fatal("esc did not leave input mode")
	}

	m.Update(key("i"))
	if _, cmd := m.Update(key("enter")); cmd != nil {
		t.Error("empty input should not send")
	}
	if sender.command != "" {
		t.Errorf("sent %q", sender.command)
	}
}

func TestStreamClosedQuits(t *testing.T) {
	m, _, _ := newTestModel()
	rejected := errors.New("target rejected")
	m.Update(eventMsg(Event{Kind: EventDisconnected, Err: rejected}))

	_, cmd := m.Update(streamClosedMsg{})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("stream close did not quit")
	}
	if !errors.Is(m.fatal, rejected) {
		t.Errorf("fatal = %v", m.fatal)
	}
}

func TestViewShowsContentTail(t *testing.T) {
	m, _, _ := newTestModel()
	m.height = 8 // leaves room for three content lines

	var lines []string
	for i := range 10 {
		lines = append(lines, "row"+string(rune('0'+i)))
	}
	m.Update(eventMsg(Event{Kind: EventOutput, Output: model.Output{Content: strings.Join(lines, "\n"), Target: "dev"}}))

	view := m.View()
	if strings.Contains(view, "row6") || !strings.Contains(view, "row7") || !strings.Contains(view, "row9") {
		t.Errorf("view does not show last three rows:\n%s", view)
	}
	if !strings.Contains(view, "refresh 2s") {
		t.Error("status line missing refresh rate")
	}
}

func TestTail(t *testing.T) {
	tests := []struct {
		content string
		n       int
		want    []string
	}{
		{"", 5, nil},
		{"a\nb\n\n", 5, []string{"a", "b"}},
		{"a\nb\nc", 2, []string{"b", "c"}},
	}
	for _, tt := range tests {
		got := tail(tt.content, tt.n)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("tail(%q, %d) = %v, want %v", tt.content, tt.n, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo world", 8); got != "héllo..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}
