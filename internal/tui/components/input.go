package components

import (
	"strings"

	"github.com/allbin/uart-mcp/internal/tui/styles"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SendMode selects how console input is turned into bytes.
type SendMode int

const (
	// SendText sends the line through the session, which appends its line
	// ending.
	SendText SendMode = iota
	// SendHex sends the decoded bytes to the port unchanged.
	SendHex
)

func (s SendMode) String() string {
	if s == SendHex {
		return "HEX"
	}
	return "TEXT"
}

const maxHistory = 100

type Input struct {
	textInput    textinput.Model
	mode         SendMode
	history      []string
	historyIndex int
	current      string
	width        int
}

func NewInput() *Input {
	ti := textinput.New()
	ti.Placeholder = "Type a command and press Enter..."
	ti.CharLimit = 1024
	ti.Prompt = ""

	return &Input{
		textInput:    ti,
		historyIndex: -1,
	}
}

func (i *Input) SetWidth(width int) {
	i.width = width
	// border(2) + padding(2) + prompt(1) + space(1)
	i.textInput.Width = max(width-6, 20)
}

func (i *Input) Focus() {
	i.textInput.Focus()
}

func (i *Input) Blur() {
	i.textInput.Blur()
}

func (i *Input) Value() string {
	return i.textInput.Value()
}

func (i *Input) SetValue(value string) {
	i.textInput.SetValue(value)
}

func (i *Input) Mode() SendMode {
	return i.mode
}

func (i *Input) ToggleMode() {
	if i.mode == SendText {
		i.mode = SendHex
		i.textInput.Placeholder = "Enter hex (e.g. 48656C6C6F or 48 65 6C 6C 6F)..."
		return
	}
	i.mode = SendText
	i.textInput.Placeholder = "Type a command and press Enter..."
}

func (i *Input) Update(msg tea.Msg) (*Input, tea.Cmd) {
	var cmd tea.Cmd
	i.textInput, cmd = i.textInput.Update(msg)
	return i, cmd
}

func (i *Input) View(insert bool) string {
	symbol, color := ">", styles.Green
	if i.mode == SendHex {
		symbol, color = "#", styles.Yellow
	}
	prompt := lipgloss.NewStyle().Foreground(color).Bold(true).Render(symbol)

	var body string
	if insert {
		body = i.textInput.View()
	} else {
		body = styles.MutedStyle.Render("Press 'i' to enter insert mode")
	}

	style := styles.InputStyle.
		Width(max(i.width-4, 10)).
		AlignHorizontal(lipgloss.Left)
	if insert {
		style = style.BorderForeground(styles.Green)
	}
	return style.Render(lipgloss.JoinHorizontal(lipgloss.Left, prompt, " ", body))
}

// AddToHistory records a command unless it is blank or repeats the last one.
func (i *Input) AddToHistory(command string) {
	command = strings.TrimSpace(command)
	if command == "" {
		return
	}
	if n := len(i.history); n > 0 && i.history[n-1] == command {
		return
	}

	i.history = append(i.history, command)
	if len(i.history) > maxHistory {
		i.history = i.history[1:]
	}
	i.historyIndex = -1
	i.current = ""
}

func (i *Input) HistoryUp() {
	if len(i.history) == 0 {
		return
	}
	if i.historyIndex == -1 {
		i.current = i.textInput.Value()
		i.historyIndex = len(i.history) - 1
	} else if i.historyIndex > 0 {
		i.historyIndex--
	}
	i.textInput.SetValue(i.history[i.historyIndex])
}

func (i *Input) HistoryDown() {
	if i.historyIndex == -1 {
		return
	}
	if i.historyIndex < len(i.history)-1 {
		i.historyIndex++
		i.textInput.SetValue(i.history[i.historyIndex])
		return
	}
	i.historyIndex = -1
	i.textInput.SetValue(i.current)
	i.current = ""
}
