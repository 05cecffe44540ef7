package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/quizrag/internal/config"
	qerrors "github.com/Aman-CERP/quizrag/internal/errors"
)

const (
	// DefaultMaxRetries is the number of attempts before a task is parked as failed.
	DefaultMaxRetries = 3
	// DefaultStaleAfter bounds how long a task may sit in processing.
	DefaultStaleAfter = 15 * time.Minute
)

var (
	// ErrInvalidState matches (by code) a cancel of a task that is no longer pending.
	ErrInvalidState = qerrors.New(qerrors.ErrCodeInvalidState, "task is not pending", nil)

	// ErrMaintenanceActive matches (by code) a batch refused during a rebuild.
	ErrMaintenanceActive = qerrors.New(qerrors.ErrCodeMaintenanceActive, "index maintenance in progress", nil)
)

// Options configures a Queue.
type Options struct {
	// MaxRetries is the total number of attempts per task. Default 3.
	MaxRetries int
	// Backoff schedules the next attempt after a failure.
	Backoff qerrors.RetryConfig
	// StaleAfter is how long a processing task may go without an update
	// before a later batch returns it to pending. Default 15m.
	StaleAfter time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
	// NewID defaults to random UUIDs.
	NewID func() string
}

// Queue is the task log plus its administrative operations.
type Queue struct {
	store      Store
	maxRetries int
	backoff    qerrors.RetryConfig
	staleAfter time.Duration
	now        func() time.Time
	newID      func() string
}

// New wraps a store.
func New(s Store, opts Options) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Backoff.InitialDelay <= 0 {
		opts.Backoff = qerrors.RetryConfig{
			InitialDelay: 30 * time.Second,
			MaxDelay:     10 * time.Minute,
			Multiplier:   2.0,
		}
	}
	if opts.Backoff.Multiplier <= 0 {
		opts.Backoff.Multiplier = 2.0
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Queue{
		store:      s,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		staleAfter: opts.StaleAfter,
		now:        opts.Clock,
		newID:      opts.NewID,
	}
}

// FromConfig builds a Queue over s with retry settings from cfg.
func FromConfig(s Store, cfg config.QueueConfig) *Queue {
	return New(s, Options{
		MaxRetries: cfg.MaxRetries,
		Backoff: qerrors.RetryConfig{
			InitialDelay: config.Duration(cfg.BackoffInitial, 30*time.Second),
			MaxDelay:     config.Duration(cfg.BackoffMax, 10*time.Minute),
			Multiplier:   2.0,
		},
		StaleAfter: config.Duration(cfg.StaleAfter, DefaultStaleAfter),
	})
}

// Store returns the underlying task store.
func (q *Queue) Store() Store { return q.store }

// MaxRetries returns the attempt bound.
func (q *Queue) MaxRetries() int { return q.maxRetries }

// Enqueue appends a pending task and returns its id.
func (q *Queue) Enqueue(ctx context.Context, contentID string, p Payload) (string, error) {
	if contentID == "" {
		return "", qerrors.ValidationError("content id is required", nil)
	}
	if err := validatePayload(p); err != nil {
		return "", err
	}

	now := q.now().UTC()
	t := &Task{
		ID:            q.newID(),
		ContentID:     contentID,
		Payload:       p,
		Status:        StatusPending,
		CreatedAt:     now,
		NextAttemptAt: now,
	}
	if err := q.store.Insert(ctx, t); err != nil {
		return "", qerrors.StorageError("failed to enqueue task", err)
	}
	slog.Debug("task_enqueued",
		slog.String("task_id", t.ID),
		slog.String("type", string(t.Type())),
		slog.String("content_id", contentID))
	return t.ID, nil
}

func validatePayload(p Payload) error {
	switch v := p.(type) {
	case CreatePayload:
		if v.New == nil {
			return qerrors.ValidationError("create task needs the new snapshot", nil)
		}
	case UpdatePayload:
		if v.New == nil {
			return qerrors.ValidationError("update task needs the new snapshot", nil)
		}
	case DeletePayload:
	case nil:
		return qerrors.ValidationError("task payload is required", nil)
	default:
		return qerrors.ValidationError(fmt.Sprintf("unsupported payload %T", p), nil)
	}
	return nil
}

// Get returns one task.
func (q *Queue) Get(ctx context.Context, id string) (*Task, error) {
	return q.store.Get(ctx, id)
}

// Stats counts tasks per status.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	return q.store.Counts(ctx)
}

// Cleanup deletes completed and failed tasks created more than keepDays ago.
func (q *Queue) Cleanup(ctx context.Context, keepDays int) (int, error) {
	if keepDays < 0 {
		return 0, qerrors.ValidationError("keep days must not be negative", nil)
	}
	cutoff := q.now().UTC().AddDate(0, 0, -keepDays)
	n, err := q.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	slog.Info("queue_cleanup", slog.Int("deleted", n), slog.Int("keep_days", keepDays))
	return n, nil
}

// RetryFailedTasks moves every failed task back to pending with a fresh
// retry budget.
func (q *Queue) RetryFailedTasks(ctx context.Context) (int, error) {
	n, err := q.store.ResetFailed(ctx, q.now().UTC())
	if err != nil {
		return 0, err
	}
	slog.Info("queue_retry_failed", slog.Int("reset", n))
	return n, nil
}

// RecoverStale returns tasks stuck in processing, left behind by an
// invocation that died mid-task, to pending.
func (q *Queue) RecoverStale(ctx context.Context) (int, error) {
	now := q.now().UTC()
	n, err := q.store.ResetStale(ctx, now.Add(-q.staleAfter), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Warn("queue_stale_tasks_recovered", slog.Int("count", n))
	}
	return n, nil
}

// CancelTask deletes a pending task. Any other state is ErrInvalidState.
func (q *Queue) CancelTask(ctx context.Context, id string) error {
	status, err := q.store.DeletePending(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return qerrors.New(qerrors.ErrCodeNotFound, fmt.Sprintf("task %s not found", id), err)
		}
		return err
	}
	if status != StatusPending {
		return qerrors.New(qerrors.ErrCodeInvalidState,
			fmt.Sprintf("task %s is %s", id, status), nil).
			WithDetail("status", string(status)).
			WithSuggestion("Only pending tasks can be cancelled")
	}
	slog.Info("task_cancelled", slog.String("task_id", id))
	return nil
}

// Events returns the newest index events.
func (q *Queue) Events(ctx context.Context, limit int) ([]Event, error) {
	return q.store.Events(ctx, limit)
}
