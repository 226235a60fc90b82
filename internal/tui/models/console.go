// Package models holds the bubbletea models of the interactive console.
package models

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/allbin/uart-mcp/internal/apperr"
	"github.com/allbin/uart-mcp/internal/handle"
	"github.com/allbin/uart-mcp/internal/manager"
	"github.com/allbin/uart-mcp/internal/session"
	"github.com/allbin/uart-mcp/internal/tui/components"
	"github.com/allbin/uart-mcp/internal/tui/keys"
	"github.com/allbin/uart-mcp/internal/tui/styles"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	// PollInterval is how often the console drains its session.
	PollInterval = 100 * time.Millisecond
	sendTimeout  = 5 * time.Second
)

// Backend is the part of the serial manager the console drives.
type Backend interface {
	SendCommand(ctx context.Context, sessionID, text string) (int, error)
	SendData(ctx context.Context, port string, data []byte) (manager.WriteResult, error)
	ReadOutput(ctx context.Context, sessionID string, peek bool) (session.Output, error)
	ClearBuffer(sessionID string) error
	GetStatus(port string) (manager.Status, error)
}

// InputMode represents the current input mode (vim-like).
type InputMode int

const (
	InputModeNormal InputMode = iota
	InputModeInsert
)

func (m InputMode) String() string {
	if m == InputModeInsert {
		return "INSERT"
	}
	return "NORMAL"
}

type tickMsg time.Time

// OutputMsg carries one poll of the session and the port state.
type OutputMsg struct {
	Output session.Output
	Status components.PortStatus
	Err    error
}

// SentMsg reports a finished send.
type SentMsg struct {
	Entry components.Entry
	Err   error
}

// Console is a terminal session on one port.
type Console struct {
	backend    Backend
	port       string
	sessionID  string
	lineEnding string

	terminal  *components.Terminal
	statusBar *components.StatusBar
	input     *components.Input
	help      help.Model
	keys      keys.ConsoleKeys

	mode  InputMode
	ready bool
	ended bool
	err   error
	now   func() time.Time
}

// NewConsole builds a console for an existing session.
func NewConsole(backend Backend, info session.Info) *Console {
	return &Console{
		backend:    backend,
		port:       info.Port,
		sessionID:  info.ID,
		lineEnding: info.LineEnding.String(),
		terminal:   components.NewTerminal(0, 0),
		statusBar:  components.NewStatusBar(info.Port, info.ID),
		input:      components.NewInput(),
		help:       help.New(),
		keys:       keys.NewConsoleKeys(),
		now:        time.Now,
	}
}

// Mode returns the input mode.
func (c *Console) Mode() InputMode {
	return c.mode
}

// Entries returns the console scrollback.
func (c *Console) Entries() []components.Entry {
	return c.terminal.Entries()
}

// PortStatus returns the last observed port status.
func (c *Console) PortStatus() components.PortStatus {
	return c.statusBar.Status()
}

// Ended reports whether the session is gone.
func (c *Console) Ended() bool {
	return c.ended
}

func (c *Console) Init() tea.Cmd {
	return c.poll
}

func tick() tea.Cmd {
	return tea.Tick(PollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// poll drains the session and samples the port status.
func (c *Console) poll() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, err := c.backend.ReadOutput(ctx, c.sessionID, false)
	msg := OutputMsg{Output: out, Err: err, Status: components.PortStatus{
		State:      handle.Closed,
		LineEnding: c.lineEnding,
	}}

	st, serr := c.backend.GetStatus(c.port)
	if serr == nil {
		msg.Status.State = st.State
		msg.Status.Config = st.Config.String()
		msg.Status.Attempts = st.Attempts
		msg.Status.Err = st.LastError
	}
	return msg
}

func (c *Console) send(text string, mode components.SendMode) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		entry := components.Entry{Timestamp: c.now(), Direction: components.TX, Status: "WRITTEN"}
		if mode == components.SendText {
			entry.Data = []byte(text)
			if _, err := c.backend.SendCommand(ctx, c.sessionID, text); err != nil {
				return sentFailure(entry, err)
			}
			return SentMsg{Entry: entry}
		}

		data, err := parseHex(text)
		if err != nil {
			return SentMsg{Entry: note(c.now(), fmt.Sprintf("invalid hex input: %v", err))}
		}
		entry.Data = data
		res, err := c.backend.SendData(ctx, c.port, data)
		if err != nil {
			return sentFailure(entry, err)
		}
		if res.TimedOut {
			entry.Status = "TIMEOUT"
			entry.Data = data[:res.Written]
		}
		return SentMsg{Entry: entry}
	}
}

func sentFailure(entry components.Entry, err error) SentMsg {
	if apperr.KindOf(err) == apperr.KindTimeout {
		entry.Status = "TIMEOUT"
		return SentMsg{Entry: entry}
	}
	entry.Status = "ERROR"
	return SentMsg{Entry: entry, Err: err}
}

func note(ts time.Time, text string) components.Entry {
	return components.Entry{Timestamp: ts, Data: []byte(text), Direction: components.Note}
}

// parseHex accepts "48656C6C6F" as well as "48 65 6C 6C 6F".
func parseHex(s string) ([]byte, error) {
	clean := strings.Join(strings.Fields(s), "")
	if clean == "" {
		return nil, errors.New("empty input")
	}
	return hex.DecodeString(clean)
}

func (c *Console) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		// input (3 lines with border) + status bar
		c.terminal.SetSize(msg.Width, max(msg.Height-4, 1))
		c.input.SetWidth(msg.Width)
		c.statusBar.SetWidth(msg.Width)
		c.help.Width = msg.Width
		c.ready = true
		return c, nil

	case tickMsg:
		if c.ended {
			return c, nil
		}
		return c, c.poll

	case OutputMsg:
		c.statusBar.SetStatus(msg.Status)
		if msg.Err != nil {
			if apperr.KindOf(msg.Err) == apperr.KindSessionNotFound {
				c.ended = true
				c.err = msg.Err
				c.terminal.Add(note(c.now(), "session closed: "+msg.Err.Error()))
				return c, nil
			}
			c.err = msg.Err
		}
		if msg.Output.Truncated {
			c.terminal.Add(note(c.now(), fmt.Sprintf("buffer overflow, %d bytes dropped", msg.Output.Dropped)))
		}
		if len(msg.Output.Data) > 0 {
			c.terminal.Add(components.Entry{Timestamp: c.now(), Data: msg.Output.Data, Direction: components.RX})
		}
		return c, tick()

	case SentMsg:
		c.terminal.Add(msg.Entry)
		if msg.Err != nil {
			c.terminal.Add(note(c.now(), msg.Err.Error()))
		}
		return c, nil

	case tea.KeyMsg:
		if c.mode == InputModeInsert {
			return c.updateInsert(msg)
		}
		return c.updateNormal(msg)
	}
	return c, nil
}

func (c *Console) updateInsert(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, c.keys.Escape):
		c.mode = InputModeNormal
		c.input.Blur()
		return c, nil
	case key.Matches(msg, c.keys.Enter):
		text := c.input.Value()
		if text == "" || c.ended {
			return c, nil
		}
		c.input.AddToHistory(text)
		c.input.SetValue("")
		return c, c.send(text, c.input.Mode())
	case msg.Type == tea.KeyUp:
		c.input.HistoryUp()
		return c, nil
	case msg.Type == tea.KeyDown:
		c.input.HistoryDown()
		return c, nil
	case key.Matches(msg, c.keys.ToggleSend):
		c.input.ToggleMode()
		return c, nil
	}

	var cmd tea.Cmd
	c.input, cmd = c.input.Update(msg)
	return c, cmd
}

func (c *Console) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, c.keys.Quit):
		return c, tea.Quit
	case key.Matches(msg, c.keys.InsertMode):
		c.mode = InputModeInsert
		c.input.Focus()
	case key.Matches(msg, c.keys.Clear):
		c.terminal.Clear()
		if err := c.backend.ClearBuffer(c.sessionID); err != nil {
			c.terminal.Add(note(c.now(), err.Error()))
		}
	case key.Matches(msg, c.keys.Help):
		c.help.ShowAll = !c.help.ShowAll
	case key.Matches(msg, c.keys.ToggleHex):
		c.terminal.ToggleHex()
	case key.Matches(msg, c.keys.ToggleASCII):
		c.terminal.ToggleASCII()
	case key.Matches(msg, c.keys.ToggleSend):
		c.input.ToggleMode()
	case key.Matches(msg, c.keys.Up):
		c.terminal.ScrollUp()
	case key.Matches(msg, c.keys.Down):
		c.terminal.ScrollDown()
	case key.Matches(msg, c.keys.GotoTop):
		c.terminal.GotoTop()
	case key.Matches(msg, c.keys.GotoBottom):
		c.terminal.GotoBottom()
	}
	return c, nil
}

func (c *Console) View() string {
	content := "Initializing..."
	if c.ready {
		content = c.terminal.View()
	}

	insert := c.mode == InputModeInsert
	parts := []string{
		styles.ContentBorderStyle.Render(content),
		c.input.View(insert),
		c.statusBar.View(insert, c.input.Mode().String(), c.now().Format("15:04:05")),
	}
	if c.help.ShowAll {
		parts = append(parts, c.help.View(c.keys))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
