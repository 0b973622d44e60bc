package viewer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/validate"
)

// streamControl is the part of a Watcher the UI drives.
type streamControl interface {
	Events() <-chan Event
	Interval() time.Duration
	SetInterval(d time.Duration) time.Duration
	Reconnect()
}

// submitter sends typed commands to a target.
type submitter interface {
	Submit(ctx context.Context, target, command string) error
}

type viewMode int

const (
	modeWatch viewMode = iota
	modeInput
)

type connState int

const (
	stateConnecting connState = iota
	stateConnected
	stateRetrying
)

// messages
type eventMsg Event

type streamClosedMsg struct{}

type sendResultMsg struct {
	command string
	err     error
}

// TUI watches one target in the terminal.
type TUI struct {
	Client    *Client
	Target    string
	Interval  time.Duration
	ThemeName string
}

type tuiModel struct {
	ctx    context.Context
	target string
	stream streamControl
	sender submitter
	st     styles

	content    string
	lastUpdate string
	state      connState
	lastErr    error
	retry      time.Duration
	heartbeats int
	fatal      error

	mode      viewMode
	textInput textinput.Model
	message   string

	width  int
	height int
}

func (t *TUI) Run(ctx context.Context) error {
	if err := validate.CheckTarget(t.Target); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := t.Client.Watch(ctx, t.Target, t.Interval)
	m := newTUIModel(ctx, t.Target, w, t.Client, ThemeByName(t.ThemeName))

	p := tea.NewProgram(m, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(*tuiModel); ok && fm.fatal != nil {
		return fm.fatal
	}
	return nil
}

func newTUIModel(ctx context.Context, target string, s streamControl, sender submitter, theme Theme) *tuiModel {
	ti := textinput.New()
	ti.Placeholder = "Type a command and press Enter..."
	ti.CharLimit = validate.MaxCommandLength
	ti.Width = 80

	return &tuiModel{
		ctx:       ctx,
		target:    target,
		stream:    s,
		sender:    sender,
		st:        newStyles(theme),
		textInput: ti,
	}
}

func (m *tuiModel) Init() tea.Cmd {
	return waitForEvent(m.stream.Events())
}

func waitForEvent(ch <-chan Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(e)
	}
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.mode == modeInput {
			return m.handleInputKey(msg)
		}
		return m.handleWatchKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case eventMsg:
		m.apply(Event(msg))
		return m, waitForEvent(m.stream.Events())

	case streamClosedMsg:
		if m.ctx.Err() == nil {
			m.fatal = m.lastErr
		}
		return m, tea.Quit

	case sendResultMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("Send failed: %v", msg.err)
		} else {
			m.message = fmt.Sprintf("Sent '%s' to %s", truncate(msg.command, 40), m.target)
		}
		return m, nil
	}
	return m, nil
}

func (m *tuiModel) apply(e Event) {
	switch e.Kind {
	case EventConnected:
		m.state = stateConnected
		m.lastErr = nil
		m.retry = 0
	case EventDisconnected:
		m.state = stateRetrying
		m.lastErr = e.Err
		m.retry = e.Retry
	case EventHeartbeat:
		m.heartbeats++
	case EventOutput:
		m.content = e.Output.Content
		m.lastUpdate = e.Output.Timestamp
	}
}

func (m *tuiModel) handleWatchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "+", "=":
		d := m.stream.SetInterval(m.stream.Interval() / 2)
		m.message = fmt.Sprintf("Refresh every %s", d)

	case "-", "_":
		d := m.stream.SetInterval(m.stream.Interval() * 2)
		m.message = fmt.Sprintf("Refresh every %s", d)

	case "r":
		m.stream.Reconnect()
		m.message = "Reconnecting..."

	case "i":
		m.mode = modeInput
		m.textInput.Reset()
		m.textInput.Focus()
		return m, textinput.Blink
	}
	return m, nil
}

func (m *tuiModel) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "esc":
		m.mode = modeWatch
		m.textInput.Blur()
		return m, nil

	case "enter":
		text := m.textInput.Value()
		m.mode = modeWatch
		m.textInput.Blur()
		if text == "" {
			return m, nil
		}
		m.message = "Sending..."
		return m, m.send(text)
	}

	// Forward all other keys to the text input component
	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *tuiModel) send(text string) tea.Cmd {
	ctx, sender, target := m.ctx, m.sender, m.target
	return func() tea.Msg {
		return sendResultMsg{command: text, err: sender.Submit(ctx, target, text)}
	}
}

func (m *tuiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(m.st.title.Render("  pane-relay"))
	b.WriteString("  ")
	b.WriteString(m.st.text.Render(m.target))
	b.WriteString("  ")
	b.WriteString(m.connLabel())
	b.WriteString("\n")
	b.WriteString(m.st.header.Render("  " + strings.Repeat("─", max(m.width-4, 10))))
	b.WriteString("\n")

	// title + separator + separator + status + hints (+ input)
	reserved := 5
	if m.mode == modeInput {
		reserved += 2
	}
	for _, line := range tail(m.content, max(m.height-reserved, 1)) {
		b.WriteString(line)
		b.WriteString("\x1b[0m\n")
	}

	b.WriteString(m.st.header.Render("  " + strings.Repeat("─", max(m.width-4, 10))))
	b.WriteString("\n")
	b.WriteString(m.st.status.Render("  " + m.statusLine()))
	b.WriteString("\n")

	if m.mode == modeInput {
		b.WriteString(m.st.prompt.Render("  send to "+m.target) + "\n")
		b.WriteString("  " + m.textInput.View() + "\n")
		b.WriteString(m.hints([][2]string{{"Enter", "send"}, {"Esc", "cancel"}}))
	} else {
		b.WriteString(m.hints([][2]string{{"q", "quit"}, {"+/-", "refresh rate"}, {"i", "input"}, {"r", "reconnect"}}))
	}
	return b.String()
}

func (m *tuiModel) connLabel() string {
	switch m.state {
	case stateConnected:
		return m.st.connected.Render("● connected")
	case stateRetrying:
		label := "○ disconnected"
		if m.retry > 0 {
			label += fmt.Sprintf(", retry in %s", m.retry)
		}
		return m.st.retrying.Render(label)
	default:
		return m.st.dim.Render("○ connecting")
	}
}

func (m *tuiModel) statusLine() string {
	parts := []string{fmt.Sprintf("refresh %s", m.stream.Interval())}
	if m.lastUpdate != "" {
		parts = append(parts, "updated "+formatTimestamp(m.lastUpdate))
	} else {
		parts = append(parts, "waiting for output")
	}
	if m.lastErr != nil && m.state != stateConnected {
		parts = append(parts, m.st.err.Render(truncate(m.lastErr.Error(), 60)))
	}
	if m.message != "" {
		parts = append(parts, m.message)
	}
	return strings.Join(parts, "  ·  ")
}

func (m *tuiModel) hints(pairs [][2]string) string {
	var parts []string
	for _, p := range pairs {
		parts = append(parts, m.st.hintKey.Render(p[0])+" "+m.st.hintDesc.Render(p[1]))
	}
	return "  " + strings.Join(parts, "  ")
}

// tail returns the last n lines of content, ignoring trailing blank lines.
func tail(content string, n int) []string {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(model.TimeFormat, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("15:04:05")
}

// truncate cuts a string to at most maxLen runes.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
