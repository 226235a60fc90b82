/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/allbin/uart-mcp/internal/apperr"
	"github.com/allbin/uart-mcp/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time.
var Version = "dev"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "uart-mcp",
	Short: "Serial port access for AI assistants over MCP",
	Long: `uart-mcp exposes the serial ports of this machine as MCP tools.

Ports are opened on request, reconfigured while open and reconnected
automatically when a USB adapter is unplugged and plugged back in. Ports
matching a rule in the blacklist file are never opened.

Configuration is read from ~/.uart-mcp/config.toml and the blacklist from
~/.uart-mcp/blacklist.conf. Both files must have mode 600 and are reloaded
when they change.

Example usage:
  uart-mcp serve
  uart-mcp list --all
  uart-mcp console /dev/ttyUSB0`,
	Version: Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", config.DefaultConfigPath(), "Configuration file")
	rootCmd.PersistentFlags().String("blacklist", config.DefaultBlacklistPath(), "Blacklist file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: DEBUG, INFO, WARNING, ERROR, CRITICAL (default: from config)")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format: console, json")

	for _, name := range []string{"config", "blacklist", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

// initConfig lets UART_MCP_CONFIG, UART_MCP_BLACKLIST and friends stand in
// for the persistent flags.
func initConfig() {
	viper.SetEnvPrefix("UART_MCP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// exitOnError prints err with its error code, if it has one, and exits.
func exitOnError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, formatError(err))
	os.Exit(1)
}

func formatError(err error) string {
	if e := apperr.From(err); e.Kind != apperr.KindInternal {
		return fmt.Sprintf("Error [%d %s]: %v", e.Code(), e.Kind, err)
	}
	return fmt.Sprintf("Error: %v", err)
}
