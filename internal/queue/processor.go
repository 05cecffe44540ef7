package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/quizrag/internal/content"
	qerrors "github.com/Aman-CERP/quizrag/internal/errors"
	"github.com/Aman-CERP/quizrag/internal/index"
)

// Indexer applies task effects. *index.Manager implements it.
type Indexer interface {
	AddContent(ctx context.Context, contentID string, item *content.Item) (*index.Result, error)
	UpdateContent(ctx context.Context, contentID string, old, updated *content.Item) (*index.Result, error)
	RemoveContent(ctx context.Context, contentID string) (*index.Result, error)
}

// Gate reports whether exclusive maintenance is running.
// *maintenance.Lock implements it.
type Gate interface {
	Active() (bool, error)
}

// BatchResult summarizes one ProcessBatch call.
type BatchResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Retried counts failures that went back to pending.
	Retried int `json:"retried"`
}

// Processor drains due tasks into the index.
type Processor struct {
	queue   *Queue
	indexer Indexer
	gate    Gate
}

// NewProcessor creates a processor. gate may be nil.
func NewProcessor(q *Queue, indexer Indexer, gate Gate) *Processor {
	return &Processor{queue: q, indexer: indexer, gate: gate}
}

// ProcessBatch runs up to batchSize due tasks, oldest first, one at a
// time. A failing task never aborts the batch. Only context cancellation,
// maintenance, and task store failures are returned as errors.
//
// Task state is written with a context detached from cancellation, so a
// task never stays in processing because the caller gave up. A task
// interrupted by cancellation goes back to pending without spending an
// attempt.
func (p *Processor) ProcessBatch(ctx context.Context, batchSize int) (BatchResult, error) {
	var res BatchResult

	if p.gate != nil {
		active, err := p.gate.Active()
		if err != nil {
			return res, qerrors.InternalError("failed to check maintenance lock", err)
		}
		if active {
			slog.Info("queue_batch_skipped", slog.String("reason", "maintenance"))
			return res, ErrMaintenanceActive
		}
	}

	q := p.queue
	if _, err := q.RecoverStale(ctx); err != nil {
		return res, qerrors.StorageError("failed to recover stale tasks", err)
	}
	tasks, err := q.store.Due(ctx, q.now().UTC(), batchSize)
	if err != nil {
		return res, qerrors.StorageError("failed to fetch pending tasks", err)
	}

	persist := context.WithoutCancel(ctx)
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		t.Status = StatusProcessing
		t.ProcessedAt = q.now().UTC()
		if err := q.store.Update(ctx, t); err != nil {
			return res, qerrors.StorageError("failed to mark task processing", err)
		}

		ires, runErr := p.run(ctx, t)
		now := q.now().UTC()
		t.ProcessedAt = now

		if runErr != nil && ctx.Err() != nil {
			t.Status = StatusPending
			t.NextAttemptAt = now
			slog.Info("task_interrupted",
				slog.String("task_id", t.ID),
				slog.String("content_id", t.ContentID),
				slog.String("error", runErr.Error()))
			if err := q.store.Update(persist, t); err != nil {
				return res, qerrors.StorageError("failed to requeue interrupted task", err)
			}
			return res, ctx.Err()
		}

		res.Processed++
		if runErr == nil {
			t.Status = StatusCompleted
			t.Error = ""
			res.Succeeded++
			p.record(persist, t, successEvent(t, ires), true, "")
		} else {
			t.RetryCount++
			t.Error = runErr.Error()
			if t.RetryCount < q.maxRetries {
				t.Status = StatusPending
				t.NextAttemptAt = now.Add(qerrors.Backoff(q.backoff, t.RetryCount))
				res.Retried++
			} else {
				t.Status = StatusFailed
			}
			res.Failed++
			slog.Warn("task_failed",
				slog.String("task_id", t.ID),
				slog.String("content_id", t.ContentID),
				slog.Int("retry_count", t.RetryCount),
				slog.String("status", string(t.Status)),
				slog.String("error", t.Error))
			p.record(persist, t, EventContentIndexFailed, false, t.Error)
		}

		if err := q.store.Update(persist, t); err != nil {
			return res, qerrors.StorageError("failed to update task", err)
		}
	}

	if res.Processed > 0 {
		slog.Info("queue_batch_processed",
			slog.Int("processed", res.Processed),
			slog.Int("succeeded", res.Succeeded),
			slog.Int("failed", res.Failed))
	}
	return res, nil
}

func (p *Processor) run(ctx context.Context, t *Task) (res *index.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = qerrors.InternalError(fmt.Sprintf("task handler panicked: %v", r), nil)
		}
	}()

	switch v := t.Payload.(type) {
	case CreatePayload:
		return p.indexer.AddContent(ctx, t.ContentID, v.New)
	case UpdatePayload:
		return p.indexer.UpdateContent(ctx, t.ContentID, v.Old, v.New)
	case DeletePayload:
		return p.indexer.RemoveContent(ctx, t.ContentID)
	default:
		return nil, fmt.Errorf("unsupported payload %T", t.Payload)
	}
}

func successEvent(t *Task, res *index.Result) EventType {
	switch v := t.Payload.(type) {
	case CreatePayload:
		if v.Previous == nil {
			return EventNewContentIndexed
		}
		return EventContentIndexed
	case UpdatePayload:
		if res != nil && res.Action == index.ActionRemoved {
			return EventContentRemoved
		}
		return EventContentReindexed
	default:
		return EventContentRemoved
	}
}

// record logs the attempt. Event log failures never fail the task.
func (p *Processor) record(ctx context.Context, t *Task, typ EventType, success bool, msg string) {
	e := Event{
		Type:      typ,
		TaskID:    t.ID,
		ContentID: t.ContentID,
		Title:     t.Title(),
		Success:   success,
		Error:     msg,
		Timestamp: t.ProcessedAt,
	}
	if err := p.queue.store.AppendEvent(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("index_event_failed", slog.String("task_id", t.ID), slog.String("error", err.Error()))
	}
}
