package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/quizrag/internal/output"
	"github.com/Aman-CERP/quizrag/internal/ui"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, clean and restore index backups",
		Long: `Manage copies of the index document kept next to it in blob storage.

Manual backups are timestamped; daily backups keep at most one copy per UTC
day. Every save also copies the document it replaces.`,
	}

	cmd.AddCommand(newBackupCreateCmd())
	cmd.AddCommand(newBackupDailyCmd())
	cmd.AddCommand(newBackupListCmd())
	cmd.AddCommand(newBackupCleanCmd())
	cmd.AddCommand(newBackupRestoreCmd())

	return cmd
}

func newBackupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Copy the current index to a timestamped backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				p, err := a.store.CreateBackupVersion(cmd.Context())
				if err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Successf("Backup created: %s", p)
				return nil
			})
		},
	}
}

func newBackupDailyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Create today's backup unless it already exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				p, err := a.store.CreateDailyBackup(cmd.Context())
				if err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Successf("Daily backup: %s", p)
				return nil
			})
		},
	}
}

func newBackupListCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				backups, err := a.store.ListBackups(cmd.Context())
				if err != nil {
					return err
				}
				out := output.New(cmd.OutOrStdout())
				if jsonOut {
					return out.JSON(backups)
				}
				if len(backups) == 0 {
					out.Status("=", "No backups")
					return nil
				}
				for _, b := range backups {
					kind := "manual"
					if b.Daily {
						kind = "daily"
					}
					out.Statusf("-", "%s  %-6s %9s  %s",
						b.ModTime.Local().Format(time.DateTime), kind, ui.FormatBytes(b.Size), b.Path)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newBackupCleanCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete backups older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				n, err := a.store.CleanOldBackups(cmd.Context(), days)
				if err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Successf("Deleted %d backups older than %d days", n, days)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Keep backups from the last N days")
	return cmd
}

func newBackupRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-path>",
		Short: "Replace the current index with a backup",
		Long: `Replace the current index with the backup at the given path, as shown
by 'quizrag backup list'. The replaced index is itself backed up first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				idx, err := a.store.RestoreFromBackup(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				a.cache.Invalidate()
				output.New(cmd.OutOrStdout()).Successf("Restored version %d (%d chunks) from %s",
					idx.Version, idx.TotalChunks, args[0])
				return nil
			})
		},
	}
}
