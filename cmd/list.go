/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	serial "github.com/allbin/uart-mcp"
	"github.com/allbin/uart-mcp/internal/blacklist"
	"github.com/allbin/uart-mcp/internal/tui/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/evertras/bubble-table/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available serial ports",
	Long: `List the serial ports an assistant is allowed to open.

This command scans for communication-capable serial devices including:
- USB serial adapters (ttyUSB*)
- USB CDC/ACM devices (ttyACM*)
- Standard serial ports (ttyS*)
- ARM/Raspberry Pi ports (ttyAMA*)
- And other platform-specific serial devices

Blacklisted ports are hidden; --all shows them together with the rule that
blocks them.

Example usage:
  uart-mcp list
  uart-mcp list --all --filter usb
  uart-mcp list --format json`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		filter, _ := cmd.Flags().GetString("filter")
		format, _ := cmd.Flags().GetString("format")

		bl, err := loadBlacklist(zerolog.Nop())
		exitOnError(err)

		infos, err := serial.ListPortInfo()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing ports: %v\n", err)
			os.Exit(1)
		}

		entries := listEntries(infos, bl, all, filter)
		switch strings.ToLower(format) {
		case "json":
			err = renderJSON(os.Stdout, entries)
		case "plain":
			renderPlain(os.Stdout, entries)
		case "table":
			renderTable(os.Stdout, entries)
		default:
			err = fmt.Errorf("unknown format %q, want table, plain or json", format)
		}
		exitOnError(err)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolP("all", "a", false, "Include blacklisted ports")
	listCmd.Flags().StringP("filter", "f", "", "Filter by port type: usb, standard, arm, all")
	listCmd.Flags().String("format", "table", "Output format: table, plain, json")
}

// portEntry is one listed port.
type portEntry struct {
	serial.PortInfo
	Type        string `json:"type"`
	Blacklisted bool   `json:"blacklisted"`
	Rule        string `json:"rule,omitempty"`
}

func listEntries(infos []serial.PortInfo, bl *blacklist.Manager, all bool, filter string) []portEntry {
	entries := make([]portEntry, 0, len(infos))
	for _, info := range infos {
		if !matchesFilter(info.Name, filter) {
			continue
		}
		e := portEntry{PortInfo: info, Type: getPortType(info.Name)}
		if rule, blocked := bl.Match(info.Path); blocked {
			if !all {
				continue
			}
			e.Blacklisted = true
			e.Rule = rule.String()
		}
		entries = append(entries, e)
	}
	return entries
}

func matchesFilter(name, filter string) bool {
	name = strings.ToLower(name)
	switch strings.ToLower(filter) {
	case "", "all":
		return true
	case "usb":
		return strings.HasPrefix(name, "ttyusb") || strings.HasPrefix(name, "ttyacm")
	case "standard":
		return strings.HasPrefix(name, "ttys")
	case "arm":
		return strings.HasPrefix(name, "ttyama")
	}
	return false
}

const (
	colPath   = "path"
	colType   = "type"
	colDesc   = "description"
	colUSB    = "usb"
	colStatus = "status"
)

// renderTable renders the port list as a static bubble-table.
func renderTable(w io.Writer, entries []portEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No serial ports found")
		return
	}

	columns := []table.Column{
		table.NewColumn(colPath, "Port", 18),
		table.NewColumn(colType, "Type", 16),
		table.NewColumn(colDesc, "Description", 28),
		table.NewColumn(colUSB, "VID:PID", 11),
		table.NewColumn(colStatus, "Status", 24),
	}

	allowed := lipgloss.NewStyle().Foreground(styles.Green)
	blocked := lipgloss.NewStyle().Foreground(styles.Red)

	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		usb := ""
		if e.IsUSB {
			usb = e.VendorID + ":" + e.ProductID
		}
		status := table.NewStyledCell("available", allowed)
		if e.Blacklisted {
			status = table.NewStyledCell("blacklisted "+e.Rule, blocked)
		}
		rows = append(rows, table.NewRow(table.RowData{
			colPath:   e.Path,
			colType:   e.Type,
			colDesc:   e.Description,
			colUSB:    usb,
			colStatus: status,
		}))
	}

	t := table.New(columns).
		WithRows(rows).
		BorderRounded().
		HeaderStyle(lipgloss.NewStyle().Bold(true).Foreground(styles.Mauve)).
		WithBaseStyle(lipgloss.NewStyle().BorderForeground(styles.Surface2).Align(lipgloss.Left))

	fmt.Fprintf(w, "Found %d serial port(s):\n\n", len(entries))
	fmt.Fprintln(w, t.View())
}

// renderPlain prints one path per line; blacklisted ports are marked.
func renderPlain(w io.Writer, entries []portEntry) {
	for _, e := range entries {
		if e.Blacklisted {
			fmt.Fprintf(w, "%s (blacklisted)\n", e.Path)
			continue
		}
		fmt.Fprintln(w, e.Path)
	}
}

func renderJSON(w io.Writer, entries []portEntry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

// getPortType returns a more specific type classification for the port
func getPortType(name string) string {
	name = strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, "ttyusb"):
		return "USB Serial"
	case strings.HasPrefix(name, "ttyacm"):
		return "USB CDC/ACM"
	case strings.HasPrefix(name, "ttyama"):
		return "ARM Serial"
	case strings.HasPrefix(name, "ttymxc"):
		return "i.MX Serial"
	case strings.HasPrefix(name, "ttysac"):
		return "Samsung Serial"
	case strings.HasPrefix(name, "ttyths"):
		return "Tegra Serial"
	case strings.HasPrefix(name, "ttyo"):
		return "OMAP Serial"
	case strings.HasPrefix(name, "ttys"):
		return "Standard Serial"
	default:
		return "Serial Port"
	}
}
