package index

import (
	"context"
	"errors"
	"time"

	"github.com/Aman-CERP/quizrag/internal/store"
)

// Stats summarizes the persisted index.
type Stats struct {
	Exists      bool                     `json:"exists"`
	Version     int64                    `json:"version"`
	TotalChunks int                      `json:"totalChunks"`
	Contents    int                      `json:"contents"`
	Sources     map[store.SourceType]int `json:"sources"`
	Model       string                   `json:"model,omitempty"`
	Dimensions  int                      `json:"dimensions,omitempty"`
	SizeBytes   int64                    `json:"sizeBytes"`
	CreatedAt   time.Time                `json:"createdAt,omitzero"`
	UpdatedAt   time.Time                `json:"updatedAt,omitzero"`
}

// Stats loads the index and summarizes it.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	idx, err := m.store.Load(ctx, "")
	if errors.Is(err, store.ErrNotFound) {
		return &Stats{Sources: map[store.SourceType]int{}}, nil
	}
	if err != nil {
		return nil, err
	}

	st := StatsOf(idx)
	if meta, err := m.store.Metadata(ctx); err == nil {
		st.SizeBytes = meta.Size
	}
	return st, nil
}

// StatsOf summarizes an in-memory index.
func StatsOf(idx *store.Index) *Stats {
	sources := make(map[store.SourceType]int, len(idx.Sources))
	for i := range idx.Chunks {
		sources[idx.Chunks[i].SourceType]++
	}
	return &Stats{
		Exists:      true,
		Version:     idx.Version,
		TotalChunks: idx.TotalChunks,
		Contents:    len(idx.ContentIDs()),
		Sources:     sources,
		Model:       idx.Model,
		Dimensions:  idx.Dimensions,
		CreatedAt:   idx.CreatedAt,
		UpdatedAt:   idx.UpdatedAt,
	}
}
