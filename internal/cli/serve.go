package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/pagesplit/pagesplit/internal/engine"
	"github.com/pagesplit/pagesplit/internal/server"
	"github.com/pagesplit/pagesplit/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the pagesplit HTTP server.

The server provides:
  - Tracker endpoints for enrolling visitors and logging conversions
  - Admin API for managing experiments (token protected)
  - Prometheus metrics and a health check

Example:
  pagesplit serve --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().String("token", "", "admin API token (generated when empty)")
	bindFlag(v, "port", serveCmd.Flags().Lookup("port"))
	bindFlag(v, "token", serveCmd.Flags().Lookup("token"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return withEngineMetrics(reg, func(eng *engine.Engine, s *store.SQLiteStore) error {
		srv := server.New(eng, server.Options{
			Port:     cfg.Port,
			Token:    cfg.Token,
			DB:       s.DB(),
			Gatherer: reg,
			Logger:   logger,
		})

		// Write token to file for the token command
		if err := os.WriteFile(getTokenFilePath(), []byte(srv.Token()), 0600); err != nil {
			logger.Warn().Err(err).Msg("failed to write token file")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out)
		fmt.Fprintf(out, "pagesplit running on http://localhost:%d\n", cfg.Port)
		fmt.Fprintf(out, "Admin API: http://localhost:%d/api/admin/experiments?token=%s\n", cfg.Port, srv.Token())
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Press Ctrl+C to stop")

		return srv.Start(ctx)
	})
}
