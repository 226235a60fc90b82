/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"io"
	"os"

	serial "github.com/allbin/uart-mcp"
	"github.com/allbin/uart-mcp/internal/blacklist"
	"github.com/allbin/uart-mcp/internal/tui/styles"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <port>",
	Short: "Display detailed information about a serial port",
	Long: `Display detailed information about a serial port including USB metadata
and whether the blacklist allows it to be opened.

Examples:
  uart-mcp info /dev/ttyUSB0
  uart-mcp info /dev/ttyACM0

For USB devices, this displays vendor/product IDs, serial numbers and the
product name reported by the adapter.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		bl, err := loadBlacklist(zerolog.Nop())
		exitOnError(err)

		info, err := serial.GetPortInfo(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting port info: %v\n", err)
			os.Exit(1)
		}
		renderInfo(os.Stdout, info, bl)
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func renderInfo(w io.Writer, info *serial.PortInfo, bl *blacklist.Manager) {
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "  %s %s\n", styles.LabelStyle.Render(fmt.Sprintf("%-13s", label+":")), value)
		}
	}

	fmt.Fprintf(w, "%s\n\n", styles.TitleStyle.Render("Port Information: "+info.Path))
	line("Name", info.Name)
	line("Type", getPortType(info.Name))
	line("Description", info.Description)

	if info.IsUSB {
		fmt.Fprintln(w, "\nUSB Device Information:")
		line("Vendor ID", info.VendorID)
		line("Product ID", info.ProductID)
		line("Serial", info.SerialNumber)
		line("Product", info.Product)
	}

	fmt.Fprintln(w, "\nAccess:")
	if rule, blocked := bl.Match(info.Path); blocked {
		line("Blacklist", styles.ErrorStyle.Render("blocked by "+rule.String()))
		return
	}
	line("Blacklist", styles.OKStyle.Render("allowed"))
}
