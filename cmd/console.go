/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"io"

	"github.com/allbin/uart-mcp/internal/config"
	"github.com/allbin/uart-mcp/internal/session"
	"github.com/allbin/uart-mcp/internal/tui/models"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// consoleCmd represents the console command
var consoleCmd = &cobra.Command{
	Use:   "console <port>",
	Short: "Open an interactive terminal session on a serial port",
	Long: `Open an interactive terminal session on a serial port.

The console runs the same terminal session an assistant gets from
create_session: every command is sent with the session's line ending and
the device output is buffered between screen refreshes. The status bar
follows the port state, so unplugging the adapter shows Degraded and
Reconnecting until it comes back.

Keys follow vim: press 'i' to type, Enter to send, Esc to go back to
NORMAL mode, '?' for help and 'q' to quit.

Example usage:
  uart-mcp console /dev/ttyUSB0
  uart-mcp console /dev/ttyACM0 --line-ending LF --echo
  uart-mcp console /dev/ttyUSB0 --baud 9600`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		portPath := args[0]

		lineEnding, _ := cmd.Flags().GetString("line-ending")
		echo, _ := cmd.Flags().GetBool("echo")
		baudRate, _ := cmd.Flags().GetInt("baud")

		ending, err := session.ParseLineEnding(lineEnding)
		exitOnError(err)

		// the TUI owns the terminal
		a, err := newApp(io.Discard)
		exitOnError(err)
		defer a.manager.Shutdown()

		var delta config.Delta
		if cmd.Flags().Changed("baud") {
			delta.BaudRate = &baudRate
		}
		_, err = a.manager.OpenPort(portPath, delta)
		exitOnError(err)

		info, err := a.manager.CreateSession(portPath, session.Options{LineEnding: ending, LocalEcho: echo})
		exitOnError(err)

		p := tea.NewProgram(models.NewConsole(a.manager, info), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			a.manager.Shutdown()
			exitOnError(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)

	consoleCmd.Flags().StringP("line-ending", "l", "CRLF", "Line ending appended to commands: CR, LF, CRLF")
	consoleCmd.Flags().BoolP("echo", "e", false, "Echo sent commands into the output")
	consoleCmd.Flags().IntP("baud", "b", 115200, "Baud rate (default: from config)")
}
