// Package content defines quiz items as seen by the indexing pipeline and
// the sources they are read from.
package content

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Source when an item does not exist.
var ErrNotFound = errors.New("content not found")

// Status is the moderation state of an item.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Visibility controls who may see an item's sub-items.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityPassword Visibility = "password"
)

// Item is a snapshot of one quiz.
type Item struct {
	ID          string     `json:"id" yaml:"id" toml:"id"`
	Status      Status     `json:"status" yaml:"status" toml:"status"`
	Visibility  Visibility `json:"visibility" yaml:"visibility" toml:"visibility"`
	Title       string     `json:"title" yaml:"title" toml:"title"`
	Description string     `json:"description" yaml:"description" toml:"description"`
	Category    string     `json:"category" yaml:"category" toml:"category"`
	Difficulty  string     `json:"difficulty,omitempty" yaml:"difficulty,omitempty" toml:"difficulty,omitempty"`
	Tags        []string   `json:"tags,omitempty" yaml:"tags,omitempty" toml:"tags,omitempty"`
	SubItems    []SubItem  `json:"subItems,omitempty" yaml:"sub_items,omitempty" toml:"sub_items,omitempty"`
	CreatedAt   time.Time  `json:"createdAt,omitempty" yaml:"created_at,omitempty" toml:"created_at,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt,omitempty" yaml:"updated_at,omitempty" toml:"updated_at,omitempty"`
}

// SubItem is one question of a quiz.
type SubItem struct {
	ID            string   `json:"id" yaml:"id" toml:"id"`
	Question      string   `json:"question" yaml:"question" toml:"question"`
	Options       []string `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
	CorrectAnswer string   `json:"correctAnswer,omitempty" yaml:"correct_answer,omitempty" toml:"correct_answer,omitempty"`
	Explanation   string   `json:"explanation,omitempty" yaml:"explanation,omitempty" toml:"explanation,omitempty"`
}

// Publishable reports whether the item may appear in the index at all.
func (it *Item) Publishable() bool {
	return it != nil && it.Status == StatusApproved
}

// Public reports whether sub-item detail may be indexed.
func (it *Item) Public() bool {
	return it != nil && it.Visibility == VisibilityPublic
}

// Source is the content database the index is derived from.
type Source interface {
	Get(ctx context.Context, id string) (*Item, error)
	// List returns every item, publishable or not.
	List(ctx context.Context) ([]*Item, error)
}
