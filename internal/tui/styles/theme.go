package styles

import (
	"github.com/allbin/uart-mcp/internal/handle"
	"github.com/charmbracelet/lipgloss"
)

// Catppuccin Mocha
var (
	Base     = lipgloss.Color("#1e1e2e")
	Surface0 = lipgloss.Color("#313244")
	Surface1 = lipgloss.Color("#45475a")
	Surface2 = lipgloss.Color("#585b70")
	Overlay0 = lipgloss.Color("#6c7086")
	Subtext0 = lipgloss.Color("#a6adc8")
	Subtext1 = lipgloss.Color("#bac2de")
	Text     = lipgloss.Color("#cdd6f4")

	Blue   = lipgloss.Color("#89b4fa")
	Sky    = lipgloss.Color("#89dceb")
	Green  = lipgloss.Color("#a6e3a1")
	Yellow = lipgloss.Color("#f9e2af")
	Peach  = lipgloss.Color("#fab387")
	Red    = lipgloss.Color("#f38ba8")
	Mauve  = lipgloss.Color("#cba6f7")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Mauve).
			Background(Surface0).
			Padding(0, 1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Subtext0)

	ValueStyle = lipgloss.NewStyle().
			Foreground(Text)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Overlay0)

	ContentBorderStyle = lipgloss.NewStyle().
				BorderTop(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(Surface1)

	InputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Surface2).
			Padding(0, 1)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Red)

	OKStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Green)

	WarnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Yellow)
)

// StateColor is the indicator color for a port state.
func StateColor(s handle.State) lipgloss.Color {
	switch s {
	case handle.Open:
		return Green
	case handle.Opening, handle.Reconnecting:
		return Yellow
	case handle.Degraded:
		return Peach
	default:
		return Red
	}
}

// StateStyle renders a port state name in its indicator color.
func StateStyle(s handle.State) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(StateColor(s)).Bold(true)
}
