/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/allbin/uart-mcp/internal/blacklist"
	"github.com/allbin/uart-mcp/internal/config"
	"github.com/allbin/uart-mcp/internal/tui/styles"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and blacklist files",
	Long: `Load the configuration file and the blacklist the way the server does
and print the effective settings, or the coded error that would stop the
server from starting.

Example usage:
  uart-mcp check
  uart-mcp check --config ./config.toml --blacklist ./blacklist.conf`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		settings, err := config.Load(viper.GetString("config"))
		exitOnError(err)
		bl, err := loadBlacklist(zerolog.Nop())
		exitOnError(err)

		renderSettings(os.Stdout, viper.GetString("config"), settings, bl)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func renderSettings(w io.Writer, path string, s *config.Settings, bl *blacklist.Manager) {
	line := func(label string, value any) {
		fmt.Fprintf(w, "  %s %v\n", styles.LabelStyle.Render(fmt.Sprintf("%-16s", label+":")), value)
	}

	fmt.Fprintf(w, "%s %s\n\n", styles.OKStyle.Render("✓"), styles.TitleStyle.Render(path))
	line("Baud rate", s.Serial.BaudRate)
	line("Frame", fmt.Sprintf("%d%s%s", s.Serial.DataBits, s.Serial.Parity, s.Serial.StopBits))
	line("Flow control", s.Serial.FlowControl)
	line("Read timeout", s.Serial.ReadTimeout)
	line("Write timeout", s.Serial.WriteTimeout)
	if s.Reconnect.Enabled {
		line("Auto-reconnect", fmt.Sprintf("every %v", s.Reconnect.Interval))
	} else {
		line("Auto-reconnect", "disabled")
	}
	line("Log level", s.LogLevel)

	rules := bl.Rules()
	fmt.Fprintf(w, "\n%s %s (%d rules)\n", styles.OKStyle.Render("✓"), styles.TitleStyle.Render(bl.Path()), len(rules))
	for _, r := range rules {
		fmt.Fprintf(w, "  %s\n", r)
	}
}
