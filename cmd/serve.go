/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/allbin/uart-mcp/internal/metrics"
	"github.com/allbin/uart-mcp/internal/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdin/stdout",
	Long: `Run the uart-mcp tool server over the MCP stdio transport.

stdout carries the protocol stream, so all logging goes to stderr. The
configuration file and the blacklist are watched and reloaded on change;
ports already open keep the settings they were opened with, but a port
that becomes blacklisted is not reconnected after it is lost.

Example usage:
  uart-mcp serve
  uart-mcp serve --metrics-addr :9464 --log-format json`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		a, err := newApp(os.Stderr)
		exitOnError(err)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.watch(ctx); err != nil {
			a.log.Warn().Err(err).Msg("config watch disabled")
		}
		if metricsAddr != "" {
			go serveMetrics(ctx, metricsAddr, a.log)
		}

		server, err := tools.NewServer(a.manager, Version, a.log)
		exitOnError(err)

		a.log.Info().Str("config", a.store.Path()).Str("blacklist", a.blacklist.Path()).
			Int("rules", len(a.blacklist.Rules())).Msg("serving on stdio")
		err = server.Run(ctx, &mcp.StdioTransport{})

		a.manager.Shutdown()
		if err != nil && ctx.Err() == nil {
			exitOnError(err)
		}
		a.log.Info().Msg("server stopped")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
}

func serveMetrics(ctx context.Context, addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
	}
}
