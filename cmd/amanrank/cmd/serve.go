package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
	"github.com/Aman-CERP/amanrank/internal/mcp"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		transport     string
		storeOverride string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ranking pipeline over MCP",
		Long: `Start a Model Context Protocol server over the stored corpus.

The server exposes two tools:
  search           rank documents for a query
  pipeline_status  report the active stages and defaults

Nothing but protocol messages is written to stdout; logs go to stderr
or, with --debug, to ~/.amanrank/logs/.

Examples:
  amanrank serve
  amanrank serve --store /tmp/corpus.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := a.config()
			if transport != "stdio" {
				return amerrors.ValidationError(fmt.Sprintf("unknown transport: %s (supported: stdio)", transport), nil)
			}

			e, err := a.openEngine(ctx, cfg, storeOverride)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			srv, err := mcp.NewServer(e, cfg.PipelineConfig(), slog.Default())
			if err != nil {
				return err
			}
			return srv.Serve(ctx, transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport: stdio")
	cmd.Flags().StringVar(&storeOverride, "store", "", "Document store path (default: store.path from config)")

	return cmd
}
