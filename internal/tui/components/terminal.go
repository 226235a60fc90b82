package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
)

// MaxEntries bounds the scrollback kept by a Terminal.
const MaxEntries = 2000

type Terminal struct {
	viewport  viewport.Model
	formatter *DataFormatter
	entries   []Entry
}

func NewTerminal(width, height int) *Terminal {
	return &Terminal{
		viewport:  viewport.New(width, height),
		formatter: NewDataFormatter(false, true),
	}
}

func (t *Terminal) SetSize(width, height int) {
	t.viewport.Width = width
	t.viewport.Height = height
}

func (t *Terminal) Width() int {
	return t.viewport.Width
}

func (t *Terminal) Entries() []Entry {
	return t.entries
}

func (t *Terminal) Add(e Entry) {
	t.entries = append(t.entries, e)
	if len(t.entries) > MaxEntries {
		t.entries = t.entries[len(t.entries)-MaxEntries:]
	}
	t.refresh()
}

func (t *Terminal) Clear() {
	t.entries = nil
	t.viewport.SetContent("")
}

func (t *Terminal) ToggleHex() {
	t.formatter.ToggleHex()
	t.refresh()
}

func (t *Terminal) ToggleASCII() {
	t.formatter.ToggleASCII()
	t.refresh()
}

func (t *Terminal) DisplayMode() DisplayMode {
	return t.formatter.DisplayMode()
}

func (t *Terminal) ScrollUp() {
	t.viewport.LineUp(1)
}

func (t *Terminal) ScrollDown() {
	t.viewport.LineDown(1)
}

func (t *Terminal) GotoTop() {
	t.viewport.GotoTop()
}

func (t *Terminal) GotoBottom() {
	t.viewport.GotoBottom()
}

func (t *Terminal) refresh() {
	t.viewport.SetContent(strings.Join(t.formatter.FormatAll(t.entries), "\n"))
	t.viewport.GotoBottom()
}

func (t *Terminal) View() string {
	return t.viewport.View()
}
