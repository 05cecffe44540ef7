package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/quizrag/internal/mcp"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		Long: `Start the Model Context Protocol server on stdin/stdout.

Tools: search, index_stats, validate_index, queue_stats.
Logs go to ~/.quizrag/logs/server.log; stdout carries JSON-RPC only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	return withApp(ctx, func(a *app) error {
		if err := a.openRetrieval(); err != nil {
			return err
		}
		deps := mcp.Dependencies{
			Retriever: a.rag,
			Index:     a.manager,
		}
		if a.cfg.Cache.Preload {
			deps.Cache = a.cache
		}
		if err := a.openQueue(); err != nil {
			slog.Warn("queue_unavailable", slog.String("error", err.Error()))
		} else {
			deps.Queue = a.queue
		}

		srv, err := mcp.NewServer(deps)
		if err != nil {
			return err
		}
		return srv.Serve(ctx)
	})
}
