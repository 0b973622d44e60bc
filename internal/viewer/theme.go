package viewer

import "github.com/charmbracelet/lipgloss"

// Theme defines all colors used by the viewer.
// Use DarkTheme() or LightTheme() to get a pre-built theme,
// or construct a custom Theme.
type Theme struct {
	Primary    lipgloss.Color // title, target name
	Secondary  lipgloss.Color // input prompt
	Error      lipgloss.Color // disconnected, failed sends
	Warning    lipgloss.Color // reconnecting
	Success    lipgloss.Color // connected
	Text       lipgloss.Color // pane content
	TextMuted  lipgloss.Color // status line, hints
	Border     lipgloss.Color // separators
	Background lipgloss.Color // input box background
}

// DarkTheme returns the default dark theme.
func DarkTheme() Theme {
	return Theme{
		Primary:    lipgloss.Color("#fab283"),
		Secondary:  lipgloss.Color("#5c9cf5"),
		Error:      lipgloss.Color("#e06c75"),
		Warning:    lipgloss.Color("#f5a742"),
		Success:    lipgloss.Color("#7fd88f"),
		Text:       lipgloss.Color("#eeeeee"),
		TextMuted:  lipgloss.Color("#808080"),
		Border:     lipgloss.Color("#484848"),
		Background: lipgloss.Color("#1e1e1e"),
	}
}

// LightTheme returns a light theme for bright terminal backgrounds.
func LightTheme() Theme {
	return Theme{
		Primary:    lipgloss.Color("#b35c00"),
		Secondary:  lipgloss.Color("#0550ae"),
		Error:      lipgloss.Color("#cf222e"),
		Warning:    lipgloss.Color("#bf8700"),
		Success:    lipgloss.Color("#116329"),
		Text:       lipgloss.Color("#1f2328"),
		TextMuted:  lipgloss.Color("#656d76"),
		Border:     lipgloss.Color("#d0d7de"),
		Background: lipgloss.Color("#f6f8fa"),
	}
}

// ThemeByName returns a theme by name. Defaults to dark.
func ThemeByName(name string) Theme {
	switch name {
	case "light":
		return LightTheme()
	default:
		return DarkTheme()
	}
}

// styles holds all lipgloss styles derived from a Theme.
type styles struct {
	title     lipgloss.Style
	header    lipgloss.Style
	connected lipgloss.Style
	retrying  lipgloss.Style
	err       lipgloss.Style
	dim       lipgloss.Style
	text      lipgloss.Style
	status    lipgloss.Style
	prompt    lipgloss.Style

	// Hints
	hintKey  lipgloss.Style
	hintDesc lipgloss.Style
}

func newStyles(t Theme) styles {
	return styles{
		title:     lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		header:    lipgloss.NewStyle().Foreground(t.Border),
		connected: lipgloss.NewStyle().Foreground(t.Success),
		retrying:  lipgloss.NewStyle().Foreground(t.Warning),
		err:       lipgloss.NewStyle().Foreground(t.Error),
		dim:       lipgloss.NewStyle().Foreground(t.TextMuted),
		text:      lipgloss.NewStyle().Foreground(t.Text),
		status:    lipgloss.NewStyle().Foreground(t.TextMuted),
		prompt:    lipgloss.NewStyle().Bold(true).Foreground(t.Secondary).Background(t.Background),

		hintKey:  lipgloss.NewStyle().Foreground(t.Text),
		hintDesc: lipgloss.NewStyle().Foreground(t.TextMuted),
	}
}
