package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/quizrag/internal/content"
	qerrors "github.com/Aman-CERP/quizrag/internal/errors"
	"github.com/Aman-CERP/quizrag/internal/index"
	"github.com/Aman-CERP/quizrag/internal/maintenance"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeIndexer records calls and fails content ids listed in fail. An id
// listed in interrupt cancels the batch context while its task runs.
type fakeIndexer struct {
	mu        sync.Mutex
	calls     []string
	fail      map[string]bool
	interrupt map[string]context.CancelFunc
}

func (f *fakeIndexer) do(op, id string, action index.Action) (*index.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+":"+id)
	if cancel, ok := f.interrupt[id]; ok {
		cancel()
		return nil, fmt.Errorf("embed %s: %w", id, context.Canceled)
	}
	if f.fail[id] {
		return nil, qerrors.NetworkError("embedding service unreachable", nil)
	}
	return &index.Result{ContentID: id, Action: action}, nil
}

func (f *fakeIndexer) AddContent(_ context.Context, id string, _ *content.Item) (*index.Result, error) {
	return f.do("add", id, index.ActionAdded)
}

func (f *fakeIndexer) UpdateContent(_ context.Context, id string, _, updated *content.Item) (*index.Result, error) {
	if !updated.Publishable() {
		return f.do("update", id, index.ActionRemoved)
	}
	return f.do("update", id, index.ActionReindexed)
}

func (f *fakeIndexer) RemoveContent(_ context.Context, id string) (*index.Result, error) {
	return f.do("remove", id, index.ActionRemoved)
}

func (f *fakeIndexer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func approved(title string) *content.Item {
	return &content.Item{Title: title, Status: content.StatusApproved, Visibility: content.VisibilityPublic}
}

type harness struct {
	store   Store
	queue   *Queue
	clock   *testClock
	indexer *fakeIndexer
	proc    *Processor
}

func storeKinds(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "queue.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func newHarness(s Store, gate Gate) *harness {
	h := &harness{store: s, clock: newTestClock(), indexer: &fakeIndexer{fail: map[string]bool{}, interrupt: map[string]context.CancelFunc{}}}
	n := 0
	h.queue = New(s, Options{
		Clock: h.clock.Now,
		NewID: func() string { n++; return fmt.Sprintf("task-%02d", n) },
	})
	h.proc = NewProcessor(h.queue, h.indexer, gate)
	return h
}

func TestProcessBatch_ProcessesInCreationOrder(t *testing.T) {
	for name, open := range storeKinds(t) {
		t.Run(name, func(t *testing.T) {
			// Given three tasks enqueued a second apart
			h := newHarness(open(), nil)
			ctx := context.Background()
			for _, id := range []string{"c3", "c1", "c2"} {
				_, err := h.queue.Enqueue(ctx, id, CreatePayload{New: approved(id)})
				require.NoError(t, err)
				h.clock.Advance(time.Second)
			}

			// When a batch runs
			res, err := h.proc.ProcessBatch(ctx, 10)

			// Then they are applied in enqueue order and completed
			require.NoError(t, err)
			assert.Equal(t, BatchResult{Processed: 3, Succeeded: 3}, res)
			assert.Equal(t, []string{"add:c3", "add:c1", "add:c2"}, h.indexer.Calls())

			stats, err := h.queue.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{Completed: 3}, stats)
		})
	}
}

func TestProcessBatch_RespectsBatchSize(t *testing.T) {
	// Given five pending tasks
	h := newHarness(NewMemoryStore(), nil)
	ctx := context.Background()
	for i := range 5 {
		_, err := h.queue.Enqueue(ctx, fmt.Sprintf("c%d", i), DeletePayload{})
		require.NoError(t, err)
		h.clock.Advance(time.Millisecond)
	}

	// When batches of two run
	first, err := h.proc.ProcessBatch(ctx, 2)
	require.NoError(t, err)
	second, err := h.proc.ProcessBatch(ctx, 2)
	require.NoError(t, err)

	// Then each touches two tasks and the oldest go first
	assert.Equal(t, 2, first.Processed)
	assert.Equal(t, 2, second.Processed)
	assert.Equal(t, []string{"remove:c0", "remove:c1", "remove:c2", "remove:c3"}, h.indexer.Calls())
}

func TestProcessBatch_RetryBound(t *testing.T) {
	for name, open := range storeKinds(t) {
		t.Run(name, func(t *testing.T) {
			// Given a task whose effect always fails
			h := newHarness(open(), nil)
			ctx := context.Background()
			h.indexer.fail["broken"] = true
			id, err := h.queue.Enqueue(ctx, "broken", CreatePayload{New: approved("Broken")})
			require.NoError(t, err)

			// When the processor runs repeatedly, far past every backoff
			for range 6 {
				_, err := h.proc.ProcessBatch(ctx, 10)
				require.NoError(t, err)
				h.clock.Advance(time.Hour)
			}

			// Then the effect ran exactly MaxRetries times and the task is parked
			assert.Len(t, h.indexer.Calls(), DefaultMaxRetries)
			task, err := h.queue.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, task.Status)
			assert.Equal(t, DefaultMaxRetries, task.RetryCount)
			assert.Contains(t, task.Error, "embedding service unreachable")
		})
	}
}

func TestProcessBatch_BackoffDelaysRetry(t *testing.T) {
	// Given a task that failed once
	h := newHarness(NewMemoryStore(), nil)
	ctx := context.Background()
	h.indexer.fail["c1"] = true
	id, err := h.queue.Enqueue(ctx, "c1", CreatePayload{New: approved("One")})
	require.NoError(t, err)

	res, err := h.proc.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Processed: 1, Failed: 1, Retried: 1}, res)

	task, err := h.queue.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, 1, task.RetryCount)
	assert.Equal(t, h.clock.Now().Add(30*time.Second), task.NextAttemptAt)

	// When the processor runs before the backoff elapsed
	res, err = h.proc.ProcessBatch(ctx, 10)
	require.NoError(t, err)

	// Then the task is not picked up
	assert.Zero(t, res.Processed)

	// And after the backoff it is retried and succeeds
	h.indexer.fail["c1"] = false
	h.clock.Advance(31 * time.Second)
	res, err = h.proc.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
}

func TestProcessBatch_FailureDoesNotAbortBatch(t *testing.T) {
	// Given a failing task between two good ones
	h := newHarness(NewMemoryStore(), nil)
	ctx := context.Background()
	h.indexer.fail["bad"] = true
	for _, id := range []string{"good1", "bad", "good2"} {
		_, err := h.queue.Enqueue(ctx, id, DeletePayload{Title: id})
		require.NoError(t, err)
		h.clock.Advance(time.Millisecond)
	}

	// When the batch runs
	res, err := h.proc.ProcessBatch(ctx, 10)

	// Then the later task still runs
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
}

func TestProcessBatch_MaintenanceBlocksBatch(t *testing.T) {
	// Given a held maintenance lock
	lock := maintenance.New(filepath.Join(t.TempDir(), "maintenance.lock"))
	require.NoError(t, lock.Acquire())
	defer func() { _ = lock.Release() }()

	h := newHarness(NewMemoryStore(), maintenance.New(lock.Path()))
	ctx := context.Background()
	_, err := h.queue.Enqueue(ctx, "c1", CreatePayload{New: approved("One")})
	require.NoError(t, err)

	// When a batch runs
	_, err = h.proc.ProcessBatch(ctx, 10)

	// Then it is refused and nothing is touched
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMaintenanceActive))
	assert.Empty(t, h.indexer.Calls())
	stats, err := h.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestProcessBatch_RecordsEvents(t *testing.T) {
	for name, open := range storeKinds(t) {
		t.Run(name, func(t *testing.T) {
			// Given one task of each kind plus a failing one
			h := newHarness(open(), nil)
			ctx := context.Background()
			h.indexer.fail["broken"] = true
			enqueue := func(id string, p Payload) {
				_, err := h.queue.Enqueue(ctx, id, p)
				require.NoError(t, err)
				h.clock.Advance(time.Millisecond)
			}
			enqueue("new", CreatePayload{New: approved("New quiz")})
			enqueue("approved", CreatePayload{New: approved("Approved quiz"), Previous: &content.Item{Title: "Approved quiz"}})
			enqueue("edited", UpdatePayload{Old: approved("Old"), New: approved("Edited quiz")})
			enqueue("hidden", UpdatePayload{Old: approved("Hidden"), New: &content.Item{Title: "Hidden", Status: content.StatusRejected}})
			enqueue("gone", DeletePayload{Title: "Gone quiz"})
			enqueue("broken", CreatePayload{New: approved("Broken quiz")})

			// When the batch runs
			_, err := h.proc.ProcessBatch(ctx, 10)
			require.NoError(t, err)

			// Then each outcome is in the event log, newest first
			events, err := h.queue.Events(ctx, 10)
			require.NoError(t, err)
			require.Len(t, events, 6)

			got := make(map[string]Event, len(events))
			for _, e := range events {
				got[e.ContentID] = e
			}
			assert.Equal(t, EventNewContentIndexed, got["new"].Type)
			assert.Equal(t, EventContentIndexed, got["approved"].Type)
			assert.Equal(t, EventContentReindexed, got["edited"].Type)
			assert.Equal(t, EventContentRemoved, got["hidden"].Type)
			assert.Equal(t, EventContentRemoved, got["gone"].Type)
			assert.Equal(t, "Gone quiz", got["gone"].Title)
			assert.Equal(t, EventContentIndexFailed, got["broken"].Type)
			assert.False(t, got["broken"].Success)
			assert.NotEmpty(t, got["broken"].Error)
			assert.Equal(t, "broken", events[0].ContentID)

			limited, err := h.queue.Events(ctx, 2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)
		})
	}
}

func TestProcessBatch_CancelledMidTaskRequeuesWithoutSpendingAttempt(t *testing.T) {
	for name, open := range storeKinds(t) {
		t.Run(name, func(t *testing.T) {
			// Given two tasks, the first interrupted by cancellation while it runs
			h := newHarness(open(), nil)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			first, err := h.queue.Enqueue(ctx, "c1", CreatePayload{New: approved("One")})
			require.NoError(t, err)
			h.clock.Advance(time.Second)
			_, err = h.queue.Enqueue(ctx, "c2", CreatePayload{New: approved("Two")})
			require.NoError(t, err)
			h.indexer.interrupt["c1"] = cancel

			// When the batch runs
			res, err := h.proc.ProcessBatch(ctx, 10)

			// Then it stops with the cancellation and nothing is counted
			require.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, BatchResult{}, res)

			// And the interrupted task is pending again with its attempts intact
			bg := context.Background()
			task, err := h.queue.Get(bg, first)
			require.NoError(t, err)
			assert.Equal(t, StatusPending, task.Status)
			assert.Equal(t, 0, task.RetryCount)

			// And it can still be cancelled
			require.NoError(t, h.queue.CancelTask(bg, first))

			// And the next invocation picks up the rest
			res, err = h.proc.ProcessBatch(bg, 10)
			require.NoError(t, err)
			assert.Equal(t, BatchResult{Processed: 1, Succeeded: 1}, res)
			assert.Equal(t, []string{"add:c1", "add:c2"}, h.indexer.Calls())
		})
	}
}

// failingFinish fails the next write of a finished state.
type failingFinish struct {
	Store
	armed bool
}

func (f *failingFinish) Update(ctx context.Context, t *Task) error {
	if f.armed && t.Status != StatusProcessing {
		f.armed = false
		return errors.New("disk I/O error")
	}
	return f.Store.Update(ctx, t)
}

func TestProcessBatch_StaleProcessingTaskIsRecovered(t *testing.T) {
	for name, open := range storeKinds(t) {
		t.Run(name, func(t *testing.T) {
			// Given a task whose final status write fails mid-batch
			flaky := &failingFinish{Store: open(), armed: true}
			h := newHarness(flaky, nil)
			ctx := context.Background()
			id, err := h.queue.Enqueue(ctx, "c1", CreatePayload{New: approved("One")})
			require.NoError(t, err)

			_, err = h.proc.ProcessBatch(ctx, 10)
			require.Error(t, err)
			task, err := h.queue.Get(ctx, id)
			require.NoError(t, err)
			require.Equal(t, StatusProcessing, task.Status)

			// When a batch runs before the task is stale
			res, err := h.proc.ProcessBatch(ctx, 10)

			// Then the task is left alone
			require.NoError(t, err)
			assert.Equal(t, 0, res.Processed)

			// When a batch runs after the stale window
			h.clock.Advance(DefaultStaleAfter + time.Second)
			res, err = h.proc.ProcessBatch(ctx, 10)

			// Then the task is recovered and completed
			require.NoError(t, err)
			assert.Equal(t, BatchResult{Processed: 1, Succeeded: 1}, res)
			task, err = h.queue.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, task.Status)
			assert.Equal(t, 0, task.RetryCount)
		})
	}
}

func TestCancelTask(t *testing.T) {
	for name, open := range storeKinds(t) {
		t.Run(name, func(t *testing.T) {
			h := newHarness(open(), nil)
			ctx := context.Background()

			// Given a pending and a completed task
			pending, err := h.queue.Enqueue(ctx, "p", DeletePayload{})
			require.NoError(t, err)
			h.clock.Advance(time.Millisecond)
			_, err = h.proc.ProcessBatch(ctx, 1)
			require.NoError(t, err)
			done := pending
			pending, err = h.queue.Enqueue(ctx, "q", DeletePayload{})
			require.NoError(t, err)

			// When cancelling the pending one
			require.NoError(t, h.queue.CancelTask(ctx, pending))

			// Then it is gone
			_, err = h.queue.Get(ctx, pending)
			assert.ErrorIs(t, err, ErrNotFound)

			// And cancelling the completed one is an invalid state
			err = h.queue.CancelTask(ctx, done)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidState)
			assert.Equal(t, qerrors.ErrCodeInvalidState, qerrors.GetCode(err))

			// And an unknown id is not found
			err = h.queue.CancelTask(ctx, "missing")
			assert.Equal(t, qerrors.ErrCodeNotFound, qerrors.GetCode(err))
		})
	}
}

func TestRetryFailedTasks(t *testing.T) {
	// Given a parked task
	h := newHarness(NewMemoryStore(), nil)
	ctx := context.Background()
	h.indexer.fail["c1"] = true
	id, err := h.queue.Enqueue(ctx, "c1", CreatePayload{New: approved("One")})
	require.NoError(t, err)
	for range DefaultMaxRetries {
		_, err := h.proc.ProcessBatch(ctx, 10)
		require.NoError(t, err)
		h.clock.Advance(time.Hour)
	}

	// When failed tasks are retried
	n, err := h.queue.RetryFailedTasks(ctx)

	// Then the task is pending again with a clean slate
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	task, err := h.queue.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)
	assert.Zero(t, task.RetryCount)
	assert.Empty(t, task.Error)
}

func TestCleanup(t *testing.T) {
	for name, open := range storeKinds(t) {
		t.Run(name, func(t *testing.T) {
			// Given an old completed task, an old task still retrying and a fresh completed task
			h := newHarness(open(), nil)
			ctx := context.Background()
			_, err := h.queue.Enqueue(ctx, "old", DeletePayload{})
			require.NoError(t, err)
			_, err = h.proc.ProcessBatch(ctx, 1)
			require.NoError(t, err)
			h.clock.Advance(time.Millisecond)
			_, err = h.queue.Enqueue(ctx, "stuck", DeletePayload{})
			require.NoError(t, err)
			h.indexer.fail["stuck"] = true

			h.clock.Advance(10 * 24 * time.Hour)
			_, err = h.queue.Enqueue(ctx, "fresh", DeletePayload{})
			require.NoError(t, err)
			_, err = h.proc.ProcessBatch(ctx, 10)
			require.NoError(t, err)

			// When cleaning up with a seven-day window
			n, err := h.queue.Cleanup(ctx, 7)

			// Then only the old completed task is removed
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			stats, err := h.queue.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{Pending: 1, Completed: 1}, stats)
		})
	}
}

func TestEnqueue_Validation(t *testing.T) {
	h := newHarness(NewMemoryStore(), nil)
	ctx := context.Background()

	_, err := h.queue.Enqueue(ctx, "", DeletePayload{})
	assert.Equal(t, qerrors.ErrCodeInvalidInput, qerrors.GetCode(err))

	_, err = h.queue.Enqueue(ctx, "c1", CreatePayload{})
	assert.Equal(t, qerrors.ErrCodeInvalidInput, qerrors.GetCode(err))

	_, err = h.queue.Enqueue(ctx, "c1", nil)
	assert.Equal(t, qerrors.ErrCodeInvalidInput, qerrors.GetCode(err))
}

func TestSQLiteStore_PayloadSurvivesReopen(t *testing.T) {
	// Given an update task written to disk
	path := filepath.Join(t.TempDir(), "queue.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	q := New(s, Options{})
	old := approved("Before")
	updated := approved("After")
	updated.SubItems = []content.SubItem{{ID: "q1", Question: "2+2?", Options: []string{"3", "4"}, CorrectAnswer: "4"}}
	id, err := q.Enqueue(context.Background(), "c1", UpdatePayload{Old: old, New: updated})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// When the database is reopened
	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	task, err := s.Get(context.Background(), id)

	// Then the payload variant and snapshots are intact
	require.NoError(t, err)
	require.Equal(t, TypeUpdate, task.Type())
	p := task.Payload.(UpdatePayload)
	assert.Equal(t, "Before", p.Old.Title)
	assert.Equal(t, "After", p.New.Title)
	require.Len(t, p.New.SubItems, 1)
	assert.Equal(t, "4", p.New.SubItems[0].CorrectAnswer)
	assert.Equal(t, "After", task.Title())
}
