package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/quizrag/internal/config"
	"github.com/Aman-CERP/quizrag/internal/output"
	"github.com/Aman-CERP/quizrag/internal/queue"
	"github.com/Aman-CERP/quizrag/internal/source"
)

func newWatchCmd() *cobra.Command {
	var (
		process  bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Queue index updates as content files change",
		Long: `Watch the content directory and queue a task for every change that
affects the index: newly approved items are indexed, edits to important
fields are re-indexed, and withdrawn or deleted items are removed.

The current directory contents are taken as the baseline; use 'quizrag
enqueue' or 'quizrag rebuild' to catch up on changes made while nothing was
watching. With --process, queued tasks are also applied on an interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, process, interval)
		},
	}

	cmd.Flags().BoolVar(&process, "process", false, "Also apply queued tasks")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "How often queued tasks are applied with --process")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, process bool, interval time.Duration) error {
	return withQueue(ctx, func(a *app) error {
		w := source.NewWatcher(a.source, a.queue, source.Options{
			DebounceWindow: config.Duration(a.cfg.Source.Debounce, source.DefaultOptions().DebounceWindow),
		})

		out := output.New(cmd.OutOrStdout())
		out.Statusf("👀", "Watching %s", a.source.Dir())

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return w.Run(gctx) })
		if process {
			proc := a.processor()
			batch := a.cfg.Queue.BatchSize
			g.Go(func() error { return processLoop(gctx, proc, batch, interval) })
		}

		err := g.Wait()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		out.Status("", "Stopped.")
		return err
	})
}

// processLoop applies due tasks every interval until ctx is done. A batch
// skipped for maintenance is retried on the next tick.
func processLoop(ctx context.Context, proc *queue.Processor, batchSize int, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, err := proc.ProcessBatch(ctx, batchSize)
			switch {
			case err == nil, errors.Is(err, queue.ErrMaintenanceActive):
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				slog.Warn("queue_batch_failed", slog.String("error", err.Error()))
			}
		}
	}
}
