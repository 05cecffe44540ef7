package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/quizrag/internal/content"
	"github.com/Aman-CERP/quizrag/internal/output"
	"github.com/Aman-CERP/quizrag/internal/queue"
)

func newEnqueueCmd() *cobra.Command {
	var (
		forceDelete bool
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "enqueue <content-id>...",
		Short: "Queue index updates for content items",
		Long: `Queue index updates for content items read from the source directory.

Approved items whose indexed content is stale are queued for indexing.
Missing or unapproved items are queued for removal. Run 'quizrag process'
to apply queued tasks.`,
		Example: `  quizrag enqueue world-capitals
  quizrag enqueue old-quiz --delete`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd.Context(), cmd, args, forceDelete, force)
		},
	}

	cmd.Flags().BoolVar(&forceDelete, "delete", false, "Queue removal regardless of the item's state")
	cmd.Flags().BoolVar(&force, "force", false, "Queue indexing even when the index is up to date")

	return cmd
}

func runEnqueue(ctx context.Context, cmd *cobra.Command, ids []string, forceDelete, force bool) error {
	return withApp(ctx, func(a *app) error {
		if err := a.openQueue(); err != nil {
			return err
		}
		out := output.New(cmd.OutOrStdout())

		for _, id := range ids {
			p, err := payloadFor(ctx, a, id, forceDelete, force)
			if err != nil {
				return err
			}
			if p == nil {
				out.Statusf("=", "%s is up to date", id)
				continue
			}
			taskID, err := a.queue.Enqueue(ctx, id, p)
			if err != nil {
				return err
			}
			out.Successf("Queued %s for %s (task %s)", p.Type(), id, taskID)
		}
		return nil
	})
}

// payloadFor decides what to queue for id. A nil payload means the index
// already matches the item.
func payloadFor(ctx context.Context, a *app, id string, forceDelete, force bool) (queue.Payload, error) {
	item, err := a.source.Get(ctx, id)
	if err != nil && !errors.Is(err, content.ErrNotFound) {
		return nil, err
	}
	if forceDelete || !item.Publishable() {
		title := id
		if item != nil {
			title = item.Title
		}
		return queue.DeletePayload{Title: title}, nil
	}
	if !force {
		stale, err := a.manager.NeedsUpdate(ctx, id, item)
		if err != nil {
			return nil, err
		}
		if !stale {
			return nil, nil
		}
	}
	return queue.CreatePayload{New: item}, nil
}

func newProcessCmd() *cobra.Command {
	var (
		batchSize int
		drain     bool
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Apply queued index updates",
		Long: `Apply due tasks from the queue to the index, oldest first.

A failing task is retried with exponential backoff until the configured
attempt limit, then marked failed. Nothing runs while a full rebuild holds
the maintenance lock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProcess(cmd.Context(), cmd, batchSize, drain, jsonOut)
		},
	}

	cmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "Tasks per batch (default from config)")
	cmd.Flags().BoolVar(&drain, "drain", false, "Keep processing batches until no task is due")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}

func runProcess(ctx context.Context, cmd *cobra.Command, batchSize int, drain, jsonOut bool) error {
	return withApp(ctx, func(a *app) error {
		if err := a.openQueue(); err != nil {
			return err
		}
		if batchSize <= 0 {
			batchSize = a.cfg.Queue.BatchSize
		}

		proc := a.processor()
		var total queue.BatchResult
		for {
			res, err := proc.ProcessBatch(ctx, batchSize)
			total.Processed += res.Processed
			total.Succeeded += res.Succeeded
			total.Failed += res.Failed
			total.Retried += res.Retried
			if err != nil {
				return err
			}
			if !drain || res.Processed < batchSize {
				break
			}
		}

		out := output.New(cmd.OutOrStdout())
		if jsonOut {
			return out.JSON(total)
		}
		if total.Processed == 0 {
			out.Status("=", "No tasks due")
			return nil
		}
		out.Successf("Processed %d tasks: %d succeeded, %d failed (%d will retry)",
			total.Processed, total.Succeeded, total.Failed, total.Retried)
		return nil
	})
}

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and administer the task queue",
	}

	cmd.AddCommand(newQueueStatsCmd())
	cmd.AddCommand(newQueueCleanupCmd())
	cmd.AddCommand(newQueueRetryCmd())
	cmd.AddCommand(newQueueCancelCmd())
	cmd.AddCommand(newQueueEventsCmd())

	return cmd
}

// withQueue opens the app with its queue for a queue subcommand.
func withQueue(ctx context.Context, fn func(a *app) error) error {
	return withApp(ctx, func(a *app) error {
		if err := a.openQueue(); err != nil {
			return err
		}
		return fn(a)
	})
}

func newQueueStatsCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show task counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(cmd.Context(), func(a *app) error {
				st, err := a.queue.Stats(cmd.Context())
				if err != nil {
					return err
				}
				out := output.New(cmd.OutOrStdout())
				if jsonOut {
					return out.JSON(st)
				}
				out.Header("Queue")
				out.KeyValue("Pending", st.Pending)
				out.KeyValue("Processing", st.Processing)
				out.KeyValue("Completed", st.Completed)
				out.KeyValue("Failed", st.Failed)
				out.KeyValue("Total", st.Total())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newQueueCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete completed and failed tasks older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(cmd.Context(), func(a *app) error {
				if !cmd.Flags().Changed("days") {
					days = a.cfg.Queue.CleanupDays
				}
				n, err := a.queue.Cleanup(cmd.Context(), days)
				if err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Successf("Deleted %d tasks older than %d days", n, days)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Keep finished tasks from the last N days (default from config)")
	return cmd
}

func newQueueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Return failed tasks to pending with a fresh retry budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(cmd.Context(), func(a *app) error {
				n, err := a.queue.RetryFailedTasks(cmd.Context())
				if err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Successf("Reset %d failed tasks", n)
				return nil
			})
		},
	}
}

func newQueueCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(a *app) error {
				if err := a.queue.CancelTask(cmd.Context(), args[0]); err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Successf("Cancelled task %s", args[0])
				return nil
			})
		},
	}
}

func newQueueEventsCmd() *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent index events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueue(cmd.Context(), func(a *app) error {
				events, err := a.queue.Events(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := output.New(cmd.OutOrStdout())
				if jsonOut {
					return out.JSON(events)
				}
				if len(events) == 0 {
					out.Status("=", "No events recorded")
					return nil
				}
				for _, e := range events {
					out.Status(eventIcon(e), formatEvent(e))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of events")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func eventIcon(e queue.Event) string {
	if e.Success {
		return "✓"
	}
	return "✗"
}

func formatEvent(e queue.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-22s %s", e.Timestamp.Local().Format(time.DateTime), e.Type, e.ContentID)
	if e.Title != "" {
		fmt.Fprintf(&b, " (%s)", e.Title)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, ": %s", e.Error)
	}
	return b.String()
}
