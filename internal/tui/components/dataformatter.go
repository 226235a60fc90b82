package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/allbin/uart-mcp/internal/tui/styles"
	"github.com/charmbracelet/lipgloss"
)

// Direction tells where a terminal entry came from.
type Direction int

const (
	RX Direction = iota
	TX
	Note
)

// Entry is one line of console traffic.
type Entry struct {
	Timestamp time.Time
	Data      []byte
	Direction Direction
	// Status is set for TX entries: "WRITTEN", "TIMEOUT" or "ERROR".
	Status string
}

type DisplayMode struct {
	ShowHex   bool
	ShowASCII bool
}

type DataFormatter struct {
	mode DisplayMode
}

func NewDataFormatter(showHex, showASCII bool) *DataFormatter {
	return &DataFormatter{mode: DisplayMode{ShowHex: showHex, ShowASCII: showASCII}}
}

func (df *DataFormatter) DisplayMode() DisplayMode {
	return df.mode
}

func (df *DataFormatter) ToggleHex() {
	df.mode.ShowHex = !df.mode.ShowHex
}

func (df *DataFormatter) ToggleASCII() {
	df.mode.ShowASCII = !df.mode.ShowASCII
}

func (df *DataFormatter) Format(e Entry) string {
	ts := lipgloss.NewStyle().
		Foreground(styles.Subtext0).
		Render(fmt.Sprintf("[%s]", e.Timestamp.Format("15:04:05.000")))

	if e.Direction == Note {
		return fmt.Sprintf("%s %s", ts, styles.WarnStyle.Render("!! "+string(e.Data)))
	}

	var parts []string
	if df.mode.ShowHex {
		parts = append(parts, fmt.Sprintf("HEX: % X", e.Data))
	}
	if df.mode.ShowASCII {
		parts = append(parts, "ASCII: "+printable(e.Data))
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("BYTES: %d", len(e.Data)))
	}

	return fmt.Sprintf("%s %s: %s", ts, indicator(e), strings.Join(parts, "  "))
}

func (df *DataFormatter) FormatAll(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = df.Format(e)
	}
	return out
}

func indicator(e Entry) string {
	if e.Direction == RX {
		return lipgloss.NewStyle().Foreground(styles.Sky).Bold(true).Render("↙ RX")
	}

	color, text := styles.Peach, "TX"
	switch e.Status {
	case "WRITTEN":
		color, text = styles.Green, "TX ✓"
	case "TIMEOUT":
		color, text = styles.Yellow, "TX …"
	case "ERROR":
		color, text = styles.Red, "TX ✗"
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true).Render("↗ " + text)
}

// printable keeps printable ASCII and replaces everything else with a dot so
// device output cannot inject terminal control sequences.
func printable(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		if c >= 32 && c <= 126 {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}
