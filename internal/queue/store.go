package queue

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a task does not exist.
var ErrNotFound = errors.New("task not found")

// Store is durable task storage.
type Store interface {
	Insert(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Due returns up to limit pending tasks whose next attempt is at or
	// before now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*Task, error)
	// Update persists status, retry count, error and timestamps.
	Update(ctx context.Context, t *Task) error
	// DeletePending deletes id only if it is still pending. It returns
	// ErrNotFound, or the task's current status when it is not pending.
	DeletePending(ctx context.Context, id string) (Status, error)
	Counts(ctx context.Context) (Stats, error)
	// DeleteFinishedBefore removes completed and failed tasks created before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
	// ResetFailed moves every failed task back to pending with a clean
	// retry count and error.
	ResetFailed(ctx context.Context, now time.Time) (int, error)
	// ResetStale moves processing tasks whose attempt started before
	// startedBefore back to pending. Retry counts are kept.
	ResetStale(ctx context.Context, startedBefore, now time.Time) (int, error)

	AppendEvent(ctx context.Context, e Event) error
	// Events returns the most recent events, newest first.
	Events(ctx context.Context, limit int) ([]Event, error)

	Close() error
}
