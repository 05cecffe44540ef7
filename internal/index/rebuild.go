package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/quizrag/internal/chunk"
	qerrors "github.com/Aman-CERP/quizrag/internal/errors"
	"github.com/Aman-CERP/quizrag/internal/maintenance"
	"github.com/Aman-CERP/quizrag/internal/store"
)

// RebuildProgress is called after each content item is processed.
type RebuildProgress func(done, total int, contentID string)

// RebuildResult reports a full rebuild.
type RebuildResult struct {
	Items    int           `json:"items"`
	Indexed  int           `json:"indexed"`
	Chunks   int           `json:"chunks"`
	Dropped  int           `json:"dropped"`
	Version  int64         `json:"version"`
	Duration time.Duration `json:"duration"`
}

// RebuildFullIndex re-derives the whole index from the content source and
// replaces it in one save. It holds the maintenance lock throughout, so
// queue batches started meanwhile back off instead of racing it.
func (m *Manager) RebuildFullIndex(ctx context.Context, progress RebuildProgress) (*RebuildResult, error) {
	if m.source == nil {
		return nil, qerrors.ConfigError("rebuild requires a content source", nil)
	}
	if m.lock != nil {
		if err := m.lock.Acquire(); err != nil {
			if errors.Is(err, maintenance.ErrHeld) {
				return nil, qerrors.New(qerrors.ErrCodeMaintenanceActive, "another rebuild is running", err)
			}
			return nil, err
		}
		defer func() {
			if err := m.lock.Release(); err != nil {
				slog.Warn("maintenance_lock_release_failed", slog.String("error", err.Error()))
			}
		}()
	}

	start := time.Now()
	items, err := m.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}

	idx := store.NewIndex(m.now().UTC())
	idx.Model = m.pipeline.Embedder().ModelName()
	idx.Dimensions = m.pipeline.Embedder().Dimensions()

	res := &RebuildResult{Items: len(items)}
	for i, item := range items {
		chunks := chunk.Extract(item.ID, item)
		if len(chunks) > 0 {
			indexed, err := m.pipeline.EmbedChunks(ctx, chunks)
			if err != nil {
				return nil, err
			}
			res.Dropped += len(chunks) - len(indexed)
			if len(indexed) > 0 {
				res.Indexed++
				idx.Chunks = append(idx.Chunks, indexed...)
			}
		}
		if progress != nil {
			progress(i+1, len(items), item.ID)
		}
	}

	if err := m.store.Save(ctx, idx, store.SaveOptions{Force: true}); err != nil {
		return nil, err
	}
	m.invalidate()

	res.Chunks = idx.TotalChunks
	res.Version = idx.Version
	res.Duration = time.Since(start)
	slog.Info("index_rebuilt",
		slog.Int("items", res.Items),
		slog.Int("indexed", res.Indexed),
		slog.Int("chunks", res.Chunks),
		slog.Int("dropped", res.Dropped),
		slog.Duration("duration", res.Duration))
	return res, nil
}
