// Package queue is the durable change queue between content events and
// index mutations.
//
// Tasks are processed strictly in creation order, one at a time, by a
// single ProcessBatch call. That serialization, together with the index
// store's version check and the maintenance lock, is what keeps concurrent
// writers from losing each other's updates.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Aman-CERP/quizrag/internal/content"
)

// TaskType is derived from the payload variant.
type TaskType string

const (
	TypeCreate TaskType = "create"
	TypeUpdate TaskType = "update"
	TypeDelete TaskType = "delete"
)

// Status is a task's lifecycle state.
//
//	pending -> processing -> completed
//	                      -> pending (retry, retryCount+1)
//	                      -> failed  (retryCount == max retries)
//
// completed and failed are terminal. Only pending tasks can be cancelled.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Payload is the variant part of a task.
type Payload interface {
	Type() TaskType
	title() string
}

// CreatePayload indexes an item that became publishable. Previous is set
// when an existing item was approved, and nil for brand-new items.
type CreatePayload struct {
	New      *content.Item `json:"new"`
	Previous *content.Item `json:"previous,omitempty"`
}

// UpdatePayload re-indexes an edited item.
type UpdatePayload struct {
	Old *content.Item `json:"old"`
	New *content.Item `json:"new"`
}

// DeletePayload removes an item's chunks. Title is kept for the event log.
type DeletePayload struct {
	Title string `json:"title,omitempty"`
}

func (CreatePayload) Type() TaskType { return TypeCreate }
func (UpdatePayload) Type() TaskType { return TypeUpdate }
func (DeletePayload) Type() TaskType { return TypeDelete }

func (p CreatePayload) title() string { return itemTitle(p.New) }
func (p UpdatePayload) title() string { return itemTitle(p.New) }
func (p DeletePayload) title() string { return p.Title }

func itemTitle(it *content.Item) string {
	if it == nil {
		return ""
	}
	return it.Title
}

// Task is one queued index mutation.
type Task struct {
	ID            string
	ContentID     string
	Payload       Payload
	Status        Status
	CreatedAt     time.Time
	ProcessedAt   time.Time
	NextAttemptAt time.Time
	RetryCount    int
	Error         string
}

// Type returns the payload's task type.
func (t *Task) Type() TaskType {
	if t.Payload == nil {
		return ""
	}
	return t.Payload.Type()
}

// Title returns the content title carried by the payload.
func (t *Task) Title() string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload.title()
}

func encodePayload(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", p.Type(), err)
	}
	return string(data), nil
}

func decodePayload(t TaskType, data string) (Payload, error) {
	switch t {
	case TypeCreate:
		var p CreatePayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("decode create payload: %w", err)
		}
		return p, nil
	case TypeUpdate:
		var p UpdatePayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("decode update payload: %w", err)
		}
		return p, nil
	case TypeDelete:
		var p DeletePayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("decode delete payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown task type %q", t)
	}
}

// EventType names an entry in the index event log.
type EventType string

const (
	EventNewContentIndexed  EventType = "new_content_indexed"
	EventContentIndexed     EventType = "content_indexed"
	EventContentReindexed   EventType = "content_reindexed"
	EventContentRemoved     EventType = "content_removed"
	EventContentIndexFailed EventType = "content_index_failed"
)

// Event records the outcome of one task attempt.
type Event struct {
	ID        int64     `json:"id"`
	Type      EventType `json:"type"`
	TaskID    string    `json:"taskId"`
	ContentID string    `json:"contentId"`
	Title     string    `json:"title"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats counts tasks per status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Total returns the number of tasks in all states.
func (s Stats) Total() int {
	return s.Pending + s.Processing + s.Completed + s.Failed
}
