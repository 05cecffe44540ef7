package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/quizrag/internal/store"
)

// IssueType categorizes an integrity problem.
type IssueType string

const (
	IssueMissingIndex      IssueType = "missing_index"
	IssueDuplicateChunkID  IssueType = "duplicate_chunk_id"
	IssueMissingEmbedding  IssueType = "missing_embedding"
	IssueDimensionMismatch IssueType = "dimension_mismatch"
	IssueCountMismatch     IssueType = "total_chunks_mismatch"
)

// Issue is one detected integrity problem.
type Issue struct {
	Type    IssueType `json:"type"`
	ChunkID string    `json:"chunkId,omitempty"`
	Details string    `json:"details"`
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Valid    bool          `json:"valid"`
	Issues   []Issue       `json:"issues"`
	Checked  int           `json:"checked"`
	Version  int64         `json:"version"`
	Duration time.Duration `json:"duration"`
}

// Validate loads the index and checks it for duplicate chunk ids, missing
// or mis-sized embeddings and a stale chunk count. Nothing is repaired.
func (m *Manager) Validate(ctx context.Context) (*ValidationResult, error) {
	start := time.Now()
	idx, err := m.store.Load(ctx, "")
	if errors.Is(err, store.ErrNotFound) {
		return &ValidationResult{
			Issues:   []Issue{{Type: IssueMissingIndex, Details: "no index found; run a full rebuild"}},
			Duration: time.Since(start),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	res := ValidateIndex(idx)
	res.Duration = time.Since(start)
	if !res.Valid {
		slog.Warn("index_validation_failed", slog.Int("issues", len(res.Issues)))
	}
	return res, nil
}

// ValidateIndex checks an in-memory index.
func ValidateIndex(idx *store.Index) *ValidationResult {
	res := &ValidationResult{Issues: []Issue{}, Checked: len(idx.Chunks), Version: idx.Version}

	seen := make(map[string]int, len(idx.Chunks))
	for i := range idx.Chunks {
		c := &idx.Chunks[i]
		seen[c.ID]++
		if seen[c.ID] == 2 {
			res.Issues = append(res.Issues, Issue{
				Type:    IssueDuplicateChunkID,
				ChunkID: c.ID,
				Details: "chunk id appears more than once",
			})
		}

		switch {
		case len(c.Embedding) == 0:
			res.Issues = append(res.Issues, Issue{
				Type:    IssueMissingEmbedding,
				ChunkID: c.ID,
				Details: "chunk has no embedding",
			})
		case idx.Dimensions > 0 && len(c.Embedding) != idx.Dimensions:
			res.Issues = append(res.Issues, Issue{
				Type:    IssueDimensionMismatch,
				ChunkID: c.ID,
				Details: fmt.Sprintf("embedding has %d dimensions, index declares %d", len(c.Embedding), idx.Dimensions),
			})
		}
	}

	if idx.TotalChunks != len(idx.Chunks) {
		res.Issues = append(res.Issues, Issue{
			Type:    IssueCountMismatch,
			Details: fmt.Sprintf("totalChunks is %d but index holds %d chunks", idx.TotalChunks, len(idx.Chunks)),
		})
	}

	res.Valid = len(res.Issues) == 0
	return res
}
