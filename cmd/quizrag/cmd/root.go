// Package cmd provides the CLI commands for quizrag.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/quizrag/internal/logging"
	"github.com/Aman-CERP/quizrag/pkg/version"
)

// Global flags
var (
	debugMode      bool
	projectDir     string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the quizrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quizrag",
		Short: "Hybrid retrieval over quiz content",
		Long: `quizrag keeps a searchable index of quiz content in blob storage and
answers retrieval queries with hybrid keyword and semantic search.

Content changes flow through a durable queue into the index. The index can
be rebuilt in full, backed up, validated and served to MCP clients.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("quizrag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr and ~/.quizrag/logs/")
	cmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "Directory holding .quizrag.yaml; relative paths resolve against it")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newEnqueueCmd())
	cmd.AddCommand(newProcessCmd())
	cmd.AddCommand(newQueueCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging installs the JSON file logger. The serve command never
// logs to stderr because stdout/stderr belong to the MCP client.
func startLogging(cmd *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	switch {
	case cmd.Name() == "serve":
		level := "info"
		if debugMode {
			level = "debug"
		}
		cfg = logging.MCPConfig(level)
	case debugMode:
		cfg = logging.DebugConfig()
	}

	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.Debug("command_started",
		slog.String("command", cmd.CommandPath()),
		slog.String("version", version.Version))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// withApp opens the application core for the current project directory
// and closes it after fn returns.
func withApp(ctx context.Context, fn func(a *app) error) (err error) {
	a, err := newApp(ctx, projectDir)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}
