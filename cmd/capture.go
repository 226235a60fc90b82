/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/allbin/uart-mcp/internal/apperr"
	"github.com/allbin/uart-mcp/internal/config"
	"github.com/allbin/uart-mcp/internal/manager"
	"github.com/spf13/cobra"
)

// captureRetry is the pause between reads while the device is away.
const captureRetry = 200 * time.Millisecond

// captureCmd represents the capture command
var captureCmd = &cobra.Command{
	Use:   "capture <port> <output-file>",
	Short: "Capture serial data to a file",
	Long: `Capture incoming serial data to a file for later parsing.

Reads raw data from the specified serial port and appends it to the output
file. The port is opened with auto-reconnect, so the capture pauses while
the adapter is unplugged and resumes when it returns. Runs until
interrupted (Ctrl+C) or until the port is closed for good.

Example usage:
  uart-mcp capture /dev/ttyUSB0 data.log
  uart-mcp capture /dev/ttyUSB0 output.txt --baud 9600
  uart-mcp capture /dev/ttyUSB0 capture.log --console`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		portPath := args[0]
		outputPath := args[1]

		baudRate, _ := cmd.Flags().GetInt("baud")
		showConsole, _ := cmd.Flags().GetBool("console")

		a, err := newApp(os.Stderr)
		exitOnError(err)
		defer a.manager.Shutdown()

		reconnect := true
		delta := config.Delta{AutoReconnect: &reconnect}
		if cmd.Flags().Changed("baud") {
			delta.BaudRate = &baudRate
		}

		file, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open output file: %v\n", err)
			os.Exit(1)
		}
		defer file.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		_, err = a.manager.OpenPort(portPath, delta)
		exitOnError(err)

		var out io.Writer = file
		if showConsole {
			out = io.MultiWriter(file, os.Stdout)
		}

		fmt.Fprintf(os.Stderr, "Capturing data from %s to %s\n", portPath, outputPath)
		fmt.Fprintf(os.Stderr, "Press Ctrl+C to stop\n\n")

		start := time.Now()
		n, err := capture(ctx, a.manager, portPath, out)
		fmt.Fprintf(os.Stderr, "\nCapture complete: %d bytes written in %v\n", n, time.Since(start).Round(time.Millisecond))
		if err != nil {
			a.manager.Shutdown()
			exitOnError(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().IntP("baud", "b", 115200, "Baud rate (default: from config)")
	captureCmd.Flags().BoolP("console", "c", false, "Display incoming data on console while capturing")
}

// capture copies port data to w until ctx is done or the port is closed.
// Reads that fail because the device is away are retried.
func capture(ctx context.Context, m *manager.Manager, portPath string, w io.Writer) (int64, error) {
	var total int64
	for ctx.Err() == nil {
		res, err := m.ReadData(ctx, portPath, 0, time.Second)
		if len(res.Data) > 0 {
			n, werr := w.Write(res.Data)
			total += int64(n)
			if werr != nil {
				return total, fmt.Errorf("write error: %w", werr)
			}
		}

		switch {
		case err == nil:
		case ctx.Err() != nil:
			return total, nil
		case apperr.KindOf(err) == apperr.KindDeviceDisconnected:
			select {
			case <-ctx.Done():
			case <-time.After(captureRetry):
			}
		default:
			return total, err
		}
	}
	return total, nil
}
