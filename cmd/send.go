/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/allbin/uart-mcp/internal/config"
	"github.com/allbin/uart-mcp/internal/manager"
	"github.com/allbin/uart-mcp/internal/tui/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <port> [data]",
	Short: "Send data to a serial port and print the reply",
	Long: `Send data to a serial port and print whatever the device answers.

The port is opened with the configured defaults, subject to the blacklist,
exactly as the MCP open_port tool would open it. Data can be provided as:
- Command line argument: uart-mcp send /dev/ttyUSB0 "AT"
- From stdin (pipe): echo "AT" | uart-mcp send /dev/ttyUSB0
- Interactive mode: uart-mcp send /dev/ttyUSB0 (prompts for input)

Example usage:
  uart-mcp send /dev/ttyUSB0 "AT+GMR" --newline
  uart-mcp send /dev/ttyUSB0 "0206000300000099" --hex --baud 9600
  uart-mcp send /dev/ttyUSB0 "status" -n --timeout 2s`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		portPath := args[0]

		var data string
		if len(args) == 2 {
			data = args[1]
		} else {
			data = readInput()
		}

		baudRate, _ := cmd.Flags().GetInt("baud")
		addNewline, _ := cmd.Flags().GetBool("newline")
		hexMode, _ := cmd.Flags().GetBool("hex")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		payload, err := buildPayload(data, hexMode, addNewline)
		exitOnError(err)

		a, err := newApp(os.Stderr)
		exitOnError(err)
		defer a.manager.Shutdown()

		var delta config.Delta
		if cmd.Flags().Changed("baud") {
			delta.BaudRate = &baudRate
		}
		exitOnError(sendAndReceive(os.Stdout, a.manager, portPath, delta, payload, timeout))
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().IntP("baud", "b", 115200, "Baud rate (default: from config)")
	sendCmd.Flags().BoolP("newline", "n", false, "Add a CRLF line ending to the data")
	sendCmd.Flags().BoolP("hex", "x", false, "Interpret data as hexadecimal (e.g., '48656c6c6f' for 'Hello')")
	sendCmd.Flags().DurationP("timeout", "t", time.Second, "How long to wait for a reply")
}

// readInput takes the data from a pipe, or prompts for it on a terminal.
func readInput() string {
	stat, err := os.Stdin.Stat()
	if err == nil && stat.Mode()&os.ModeCharDevice == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading from stdin: %v\n", err)
			os.Exit(1)
		}
		return strings.TrimRight(string(data), "\r\n")
	}

	fmt.Print(lipgloss.NewStyle().Bold(true).Foreground(styles.Mauve).Render("Enter data to send: "))
	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		return scanner.Text()
	}
	return ""
}

func buildPayload(data string, hexMode, newline bool) ([]byte, error) {
	if hexMode {
		clean := strings.Join(strings.Fields(data), "")
		clean = strings.NewReplacer("0x", "", "0X", "").Replace(clean)
		payload, err := hex.DecodeString(clean)
		if err != nil {
			return nil, fmt.Errorf("invalid hex data: %w", err)
		}
		return payload, nil
	}
	if newline {
		data += "\r\n"
	}
	return []byte(data), nil
}

func sendAndReceive(w io.Writer, m *manager.Manager, portPath string, delta config.Delta, payload []byte, timeout time.Duration) error {
	st, err := m.OpenPort(portPath, delta)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s %s\n", styles.OKStyle.Render("●"), portPath, styles.MutedStyle.Render(st.Config.String()))

	ctx := context.Background()
	res, err := m.SendData(ctx, portPath, payload)
	if err != nil {
		return err
	}
	if res.TimedOut {
		fmt.Fprintf(w, "%s write timed out after %d of %d bytes\n", styles.WarnStyle.Render("!"), res.Written, len(payload))
	} else {
		fmt.Fprintf(w, "%s sent %d bytes\n", styles.OKStyle.Render("✓"), res.Written)
	}

	reply, err := m.ReadData(ctx, portPath, 0, timeout)
	if err != nil {
		return err
	}
	if len(reply.Data) == 0 {
		fmt.Fprintf(w, "%s no reply within %v\n", styles.MutedStyle.Render("·"), timeout)
		return nil
	}
	fmt.Fprintf(w, "%s received %d bytes\n", styles.OKStyle.Render("✓"), len(reply.Data))
	_, err = w.Write(reply.Data)
	return err
}
