package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/quizrag/internal/index"
	"github.com/Aman-CERP/quizrag/internal/output"
	"github.com/Aman-CERP/quizrag/internal/telemetry"
	"github.com/Aman-CERP/quizrag/internal/ui"
)

func newRebuildCmd() *cobra.Command {
	var (
		plain   bool
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the whole index from the content source",
		Long: `Re-derive every chunk and embedding from the content source and
replace the index in a single save.

The maintenance lock is held for the duration, so queue processing backs off
until the rebuild finishes. Interactive terminals get a progress view; pipes
and CI get one line per 10% of progress.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRebuild(ctx, cmd, plain, noColor)
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Plain text progress (no TUI)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colors")

	return cmd
}

func runRebuild(ctx context.Context, cmd *cobra.Command, plain, noColor bool) error {
	return withApp(ctx, func(a *app) error {
		renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
			ui.WithForcePlain(plain),
			ui.WithNoColor(noColor || ui.DetectNoColor()),
			ui.WithTarget(a.store.Path()),
		))
		if err := renderer.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = renderer.Stop() }()

		renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageListing, Message: a.source.Dir()})
		res, err := a.manager.RebuildFullIndex(ctx, func(done, total int, contentID string) {
			renderer.UpdateProgress(ui.ProgressEvent{
				Stage:     ui.StageEmbedding,
				Current:   done,
				Total:     total,
				ContentID: contentID,
			})
			if done == total {
				renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageSaving, Current: 1, Total: 1})
			}
		})
		if err != nil {
			renderer.AddError(ui.ErrorEvent{Err: err})
			slog.Error("rebuild_failed", slog.String("error", err.Error()))
			return err
		}
		if res.Dropped > 0 {
			renderer.AddError(ui.ErrorEvent{
				Err:    fmt.Errorf("%d chunks dropped after embedding failures", res.Dropped),
				IsWarn: true,
			})
		}

		provider, model, dims := a.embedderInfo()
		renderer.Complete(ui.CompletionStats{
			Items:    res.Items,
			Indexed:  res.Indexed,
			Chunks:   res.Chunks,
			Dropped:  res.Dropped,
			Version:  res.Version,
			Duration: res.Duration,
			Embedder: ui.EmbedderInfo{Provider: provider, Model: model, Dimensions: dims},
		})
		return nil
	})
}

func newValidateCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the index for structural problems",
		Long: `Load the index and report duplicate chunk ids, missing or mis-sized
embeddings and a stale chunk count. Nothing is repaired; run
'quizrag rebuild' to fix reported problems.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				res, err := a.manager.Validate(cmd.Context())
				if err != nil {
					return err
				}
				out := output.New(cmd.OutOrStdout())
				if jsonOut {
					if err := out.JSON(res); err != nil {
						return err
					}
				} else {
					printValidation(out, res)
				}
				if !res.Valid {
					return fmt.Errorf("index has %d problems", len(res.Issues))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func printValidation(out *output.Writer, res *index.ValidationResult) {
	if res.Valid {
		out.Successf("Index version %d is valid (%d chunks checked in %s)",
			res.Version, res.Checked, res.Duration.Round(time.Millisecond))
		return
	}
	out.Errorf("Index version %d has %d problems", res.Version, len(res.Issues))
	for _, is := range res.Issues {
		if is.ChunkID != "" {
			out.Statusf("  -", "%s [%s]: %s", is.Type, is.ChunkID, is.Details)
		} else {
			out.Statusf("  -", "%s: %s", is.Type, is.Details)
		}
	}
}

func newStatsCmd() *cobra.Command {
	var (
		jsonOut bool
		days    int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index, queue and retrieval statistics",
		Long: `Show the index version and size, task counts by status, and retrieval
telemetry (confidence bands, fast-path rate, latency, insufficient-data
queries) for the last N days.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, days, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Telemetry window in days")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, days int, jsonOut bool) error {
	return withApp(ctx, func(a *app) error {
		st, err := a.manager.Stats(ctx)
		if err != nil {
			return err
		}
		info := ui.StatusInfo{Index: st}

		if err := a.openQueue(); err != nil {
			slog.Warn("queue_unavailable", slog.String("error", err.Error()))
		} else if qs, err := a.queue.Stats(ctx); err == nil {
			info.Queue = &qs
		}

		if a.cfg.Telemetry.Enabled {
			if summary, err := telemetrySummary(a, days); err != nil {
				slog.Warn("telemetry_unavailable", slog.String("error", err.Error()))
			} else {
				info.Telemetry = summary
				info.TelemetryDays = days
			}
		}

		r := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
		if jsonOut {
			return r.RenderJSON(info)
		}
		return r.Render(info)
	})
}

func telemetrySummary(a *app, days int) (*telemetry.Summary, error) {
	if err := a.openTelemetry(); err != nil {
		return nil, err
	}
	if days < 1 {
		days = 1
	}
	now := time.Now()
	from := now.AddDate(0, 0, -(days - 1)).Format(time.DateOnly)
	return a.telStore.Summary(from, now.Format(time.DateOnly), 10)
}

