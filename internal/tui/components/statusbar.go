package components

import (
	"fmt"

	"github.com/allbin/uart-mcp/internal/handle"
	"github.com/allbin/uart-mcp/internal/tui/styles"
	"github.com/charmbracelet/lipgloss"
)

// PortStatus is what the status bar shows about the port under a session.
type PortStatus struct {
	State      handle.State
	Config     string
	LineEnding string
	Attempts   int
	Err        error
}

type StatusBar struct {
	port    string
	session string
	width   int
	status  PortStatus
}

func NewStatusBar(port, session string) *StatusBar {
	return &StatusBar{port: port, session: session, status: PortStatus{State: handle.Opening}}
}

func (sb *StatusBar) SetWidth(width int) {
	sb.width = width
}

func (sb *StatusBar) SetStatus(status PortStatus) {
	sb.status = status
}

func (sb *StatusBar) Status() PortStatus {
	return sb.status
}

// indicator is a one-character summary of the port state.
func (sb *StatusBar) indicator() string {
	symbol := "○"
	switch sb.status.State {
	case handle.Open:
		symbol = "●"
	case handle.Degraded, handle.Reconnecting:
		symbol = "◌"
	case handle.Closed:
		symbol = "✗"
	}
	return lipgloss.NewStyle().Foreground(styles.StateColor(sb.status.State)).Render(symbol)
}

// View renders the bar: mode, port, state, send mode on the left and
// line settings and clock on the right.
func (sb *StatusBar) View(insert bool, sendMode, clock string) string {
	width := sb.width
	if width <= 0 {
		width = 80
	}

	modeText, modeColor := "NORMAL", styles.Blue
	if insert {
		modeText, modeColor = "INSERT", styles.Green
	}
	mode := lipgloss.NewStyle().
		Foreground(styles.Base).
		Background(modeColor).
		Bold(true).
		Padding(0, 1).
		Render(modeText)

	port := lipgloss.NewStyle().Foreground(styles.Mauve).Bold(true).Padding(0, 1).Render(sb.port)

	stateText := sb.status.State.String()
	if sb.status.State == handle.Reconnecting && sb.status.Attempts > 0 {
		stateText = fmt.Sprintf("%s #%d", stateText, sb.status.Attempts)
	}
	state := styles.StateStyle(sb.status.State).Padding(0, 1).Render(stateText)

	divider := lipgloss.NewStyle().Foreground(styles.Surface2).Padding(0, 1).Render("│")

	left := []string{mode, port, sb.indicator(), state}
	if insert {
		left = append(left, lipgloss.NewStyle().
			Foreground(styles.Peach).
			Bold(true).
			Padding(0, 1).
			Render(fmt.Sprintf("[%s] Tab to toggle", sendMode)))
	}
	left = append(left, divider)
	leftSide := lipgloss.JoinHorizontal(lipgloss.Left, left...)

	details := fmt.Sprintf("⚡ %s %s %s", sb.status.Config, sb.status.LineEnding, sb.session)
	if sb.status.Err != nil {
		details = styles.ErrorStyle.Render(sb.status.Err.Error())
	}
	rightSide := lipgloss.JoinHorizontal(lipgloss.Left,
		lipgloss.NewStyle().Foreground(styles.Subtext0).Padding(0, 1).Render(details),
		divider,
		lipgloss.NewStyle().Foreground(styles.Subtext1).Padding(0, 1).Render(clock),
	)

	spacer := lipgloss.NewStyle().
		Width(max(width-lipgloss.Width(leftSide)-lipgloss.Width(rightSide), 1)).
		Render("")

	return lipgloss.NewStyle().
		Foreground(styles.Text).
		Background(styles.Surface0).
		Width(width).
		Render(lipgloss.JoinHorizontal(lipgloss.Left, leftSide, spacer, rightSide))
}
