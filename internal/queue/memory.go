package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a non-durable Store for tests and one-shot runs.
type MemoryStore struct {
	mu     sync.Mutex
	seq    int64
	tasks  map[string]*memTask
	events []Event
}

type memTask struct {
	seq  int64
	task Task
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*memTask)}
}

func (m *MemoryStore) Insert(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	m.seq++
	m.tasks[t.ID] = &memTask{seq: m.seq, task: *t}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	t := mt.task
	return &t, nil
}

func (m *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := make([]*memTask, 0)
	for _, mt := range m.tasks {
		if mt.task.Status == StatusPending && !mt.task.NextAttemptAt.After(now) {
			due = append(due, mt)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if !a.task.CreatedAt.Equal(b.task.CreatedAt) {
			return a.task.CreatedAt.Before(b.task.CreatedAt)
		}
		return a.seq < b.seq
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*Task, len(due))
	for i, mt := range due {
		t := mt.task
		out[i] = &t
	}
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.tasks[t.ID]
	if !ok {
		return fmt.Errorf("%s: %w", t.ID, ErrNotFound)
	}
	mt.task.Status = t.Status
	mt.task.RetryCount = t.RetryCount
	mt.task.Error = t.Error
	mt.task.ProcessedAt = t.ProcessedAt
	mt.task.NextAttemptAt = t.NextAttemptAt
	return nil
}

func (m *MemoryStore) DeletePending(_ context.Context, id string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.tasks[id]
	if !ok {
		return "", fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if mt.task.Status != StatusPending {
		return mt.task.Status, nil
	}
	delete(m.tasks, id)
	return StatusPending, nil
}

func (m *MemoryStore) Counts(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s Stats
	for _, mt := range m.tasks {
		switch mt.task.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s, nil
}

func (m *MemoryStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, mt := range m.tasks {
		if mt.task.Status.Terminal() && mt.task.CreatedAt.Before(cutoff) {
			delete(m.tasks, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ResetFailed(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, mt := range m.tasks {
		if mt.task.Status == StatusFailed {
			mt.task.Status = StatusPending
			mt.task.RetryCount = 0
			mt.task.Error = ""
			mt.task.NextAttemptAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ResetStale(_ context.Context, startedBefore, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, mt := range m.tasks {
		if mt.task.Status == StatusProcessing && mt.task.ProcessedAt.Before(startedBefore) {
			mt.task.Status = StatusPending
			mt.task.NextAttemptAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.events) + 1)
	m.events = append(m.events, e)
	return nil
}

func (m *MemoryStore) Events(_ context.Context, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, 0, len(m.events))
	for i := len(m.events) - 1; i >= 0; i-- {
		out = append(out, m.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
