// Package index maintains the retrieval index: incremental add, update and
// remove of one content item's chunks, integrity validation, statistics and
// full rebuilds.
//
// Every mutation is a read-modify-write cycle on the whole index document.
// The store rejects a save whose base version is stale, and the manager
// retries the cycle on that conflict.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/quizrag/internal/chunk"
	"github.com/Aman-CERP/quizrag/internal/content"
	"github.com/Aman-CERP/quizrag/internal/embed"
	qerrors "github.com/Aman-CERP/quizrag/internal/errors"
	"github.com/Aman-CERP/quizrag/internal/maintenance"
	"github.com/Aman-CERP/quizrag/internal/store"
)

// DefaultConflictRetries bounds read-modify-write attempts on version conflicts.
const DefaultConflictRetries = 3

// Action describes what a mutation did.
type Action string

const (
	ActionAdded     Action = "added"
	ActionReindexed Action = "reindexed"
	ActionRemoved   Action = "removed"
	ActionSkipped   Action = "skipped"
)

// Result reports the outcome of a mutation.
type Result struct {
	ContentID string
	Action    Action
	Added     int
	Removed   int
	// Dropped counts chunks whose embedding failed.
	Dropped int
	Version int64
	Reason  string
}

// Invalidator is notified after every successful index mutation.
type Invalidator interface {
	Invalidate()
}

// Dependencies are the collaborators of a Manager.
type Dependencies struct {
	// Store persists the index (required).
	Store *store.IndexStore
	// Pipeline embeds extracted chunks (required).
	Pipeline *embed.Pipeline
	// Source lists content for full rebuilds.
	Source content.Source
	// Lock is held for the duration of a full rebuild.
	Lock *maintenance.Lock
	// Cache is invalidated after each mutation.
	Cache Invalidator
}

// Manager performs index mutations.
type Manager struct {
	store           *store.IndexStore
	pipeline        *embed.Pipeline
	source          content.Source
	lock            *maintenance.Lock
	cache           Invalidator
	conflictRetries int
	now             func() time.Time
}

// NewManager creates a Manager.
func NewManager(deps Dependencies) (*Manager, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("index store is required")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("embedding pipeline is required")
	}
	return &Manager{
		store:           deps.Store,
		pipeline:        deps.Pipeline,
		source:          deps.Source,
		lock:            deps.Lock,
		cache:           deps.Cache,
		conflictRetries: DefaultConflictRetries,
		now:             time.Now,
	}, nil
}

// Store returns the underlying index store.
func (m *Manager) Store() *store.IndexStore { return m.store }

// AddContent replaces every chunk owned by contentID with freshly extracted
// and embedded chunks from item. Applying it twice with the same item
// yields the same chunk set.
func (m *Manager) AddContent(ctx context.Context, contentID string, item *content.Item) (*Result, error) {
	if contentID == "" {
		return nil, qerrors.ValidationError("content id is required", nil)
	}

	chunks := chunk.Extract(contentID, item)
	indexed, err := m.pipeline.EmbedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}
	dropped := len(chunks) - len(indexed)
	if len(chunks) > 0 && len(indexed) == 0 {
		// Every call failed: the service is down, not the content.
		return nil, qerrors.New(qerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("all %d chunks failed to embed", len(chunks)), nil).
			WithDetail("content_id", contentID)
	}

	res := &Result{ContentID: contentID, Added: len(indexed), Dropped: dropped}
	err = m.mutate(ctx, len(indexed) > 0, func(idx *store.Index) (bool, error) {
		if err := m.checkDimensions(idx); err != nil {
			return false, err
		}
		res.Removed = idx.RemoveOwned(contentID)
		if res.Removed == 0 && len(indexed) == 0 {
			return false, nil
		}
		idx.Chunks = append(idx.Chunks, indexed...)
		return true, nil
	}, res)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	switch {
	case res.Version == 0:
		res.Action = ActionSkipped
		res.Reason = "nothing to index"
	case res.Removed > 0:
		res.Action = ActionReindexed
	default:
		res.Action = ActionAdded
	}
	slog.Info("content_indexed",
		slog.String("content_id", contentID),
		slog.String("action", string(res.Action)),
		slog.Int("added", res.Added),
		slog.Int("removed", res.Removed),
		slog.Int("dropped", res.Dropped))
	return res, nil
}

// UpdateContent applies a content edit. Edits that touch no important
// field, or leave the content hash and visibility unchanged, are skipped
// without re-embedding. Items that are no longer publishable are removed.
func (m *Manager) UpdateContent(ctx context.Context, contentID string, old, updated *content.Item) (*Result, error) {
	if !ImportantFieldsChanged(old, updated) {
		return &Result{ContentID: contentID, Action: ActionSkipped, Reason: "no important field changed"}, nil
	}
	if !updated.Publishable() {
		return m.RemoveContent(ctx, contentID)
	}

	idx, err := m.store.Load(ctx, "")
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if idx != nil {
		if owned := idx.Owned(contentID); len(owned) > 0 {
			meta := owned[0]
			for _, c := range owned {
				if c.IsMeta() {
					meta = c
					break
				}
			}
			if meta.ContentHash == chunk.ContentHash(updated) && meta.Visibility == string(visibilityOf(updated)) {
				return &Result{ContentID: contentID, Action: ActionSkipped, Reason: "content hash unchanged"}, nil
			}
		}
	}
	return m.AddContent(ctx, contentID, updated)
}

// RemoveContent drops every chunk owned by contentID. A missing index or
// an item with no chunks is a no-op.
func (m *Manager) RemoveContent(ctx context.Context, contentID string) (*Result, error) {
	res := &Result{ContentID: contentID}
	err := m.mutate(ctx, false, func(idx *store.Index) (bool, error) {
		res.Removed = idx.RemoveOwned(contentID)
		return res.Removed > 0, nil
	}, res)
	if errors.Is(err, store.ErrNotFound) {
		return &Result{ContentID: contentID, Action: ActionSkipped, Reason: "no index"}, nil
	}
	if err != nil {
		return nil, err
	}
	if res.Removed == 0 {
		res.Action = ActionSkipped
		res.Reason = "no chunks for content"
		return res, nil
	}
	res.Action = ActionRemoved
	slog.Info("content_removed", slog.String("content_id", contentID), slog.Int("removed", res.Removed))
	return res, nil
}

// NeedsUpdate reports whether the index is missing item's content or holds
// a stale content hash for it.
func (m *Manager) NeedsUpdate(ctx context.Context, contentID string, item *content.Item) (bool, error) {
	idx, err := m.store.Load(ctx, "")
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	owned := idx.Owned(contentID)
	if len(owned) == 0 {
		return true, nil
	}
	return owned[0].ContentHash != chunk.ContentHash(item), nil
}

// mutate runs one read-modify-write cycle, retrying on version conflicts.
// apply returns false when nothing changed and the save can be skipped.
// A missing index is synthesized as an empty shell when create is set and
// reported as store.ErrNotFound otherwise.
func (m *Manager) mutate(ctx context.Context, create bool, apply func(*store.Index) (bool, error), res *Result) error {
	var lastErr error
	for attempt := 1; attempt <= m.conflictRetries; attempt++ {
		idx, err := m.store.Load(ctx, "")
		switch {
		case errors.Is(err, store.ErrNotFound):
			if !create {
				return err
			}
			idx = store.NewIndex(m.now().UTC())
		case err != nil:
			return err
		}
		if idx.Model == "" {
			idx.Model = m.pipeline.Embedder().ModelName()
			idx.Dimensions = m.pipeline.Embedder().Dimensions()
		}

		changed, err := apply(idx)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		err = m.store.Save(ctx, idx, store.SaveOptions{})
		if err == nil {
			res.Version = idx.Version
			m.invalidate()
			return nil
		}
		if !errors.Is(err, store.ErrConcurrentModification) {
			return err
		}
		lastErr = err
		slog.Warn("index_save_conflict", slog.Int("attempt", attempt), slog.String("content_id", res.ContentID))
	}
	return qerrors.New(qerrors.ErrCodeConcurrentModification,
		fmt.Sprintf("index changed concurrently %d times", m.conflictRetries), lastErr)
}

func (m *Manager) checkDimensions(idx *store.Index) error {
	want := m.pipeline.Embedder().Dimensions()
	if idx.Dimensions != 0 && idx.Dimensions != want {
		return qerrors.New(qerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index has %d dimensions, embedder produces %d", idx.Dimensions, want), nil).
			WithSuggestion("Run 'quizrag rebuild' after changing the embedding model")
	}
	return nil
}

func (m *Manager) invalidate() {
	if m.cache != nil {
		m.cache.Invalidate()
	}
}

// ImportantFieldsChanged reports whether an edit touched a field that
// affects the index: title, description, category, status or visibility.
func ImportantFieldsChanged(old, updated *content.Item) bool {
	if old == nil || updated == nil {
		return old != updated
	}
	return old.Title != updated.Title ||
		old.Description != updated.Description ||
		old.Category != updated.Category ||
		old.Status != updated.Status ||
		old.Visibility != updated.Visibility
}

func visibilityOf(item *content.Item) content.Visibility {
	if item.Visibility == "" {
		return content.VisibilityPublic
	}
	return item.Visibility
}
