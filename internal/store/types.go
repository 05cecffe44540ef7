// Package store persists the retrieval index as a single versioned document
// in blob storage, with pre-write backups and backup management.
package store

import (
	"strings"
	"time"
)

// SourceType identifies what a chunk was derived from.
type SourceType string

const (
	SourceQuizMeta     SourceType = "quiz_meta"
	SourceQuizQuestion SourceType = "quiz_question"
)

// Chunk is a retrievable unit of text derived from one content item.
type Chunk struct {
	ID          string     `json:"chunkId"`
	Text        string     `json:"text"`
	Title       string     `json:"title"`
	SourceType  SourceType `json:"sourceType"`
	Visibility  string     `json:"visibility"`
	OwnerID     string     `json:"ownerContentId,omitempty"`
	Category    string     `json:"category,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ContentHash string     `json:"contentHash"`
}

// OwnedBy reports whether the chunk belongs to contentID. Chunks written
// without an owner fall back to the id prefix convention.
func (c *Chunk) OwnedBy(contentID string) bool {
	if contentID == "" {
		return false
	}
	if c.OwnerID != "" {
		return c.OwnerID == contentID
	}
	return strings.HasPrefix(c.ID, contentID+"_")
}

// IsMeta reports whether the chunk is a content metadata chunk.
func (c *Chunk) IsMeta() bool {
	return c.SourceType == SourceQuizMeta || strings.HasSuffix(c.ID, "_meta")
}

// IndexedChunk is a chunk with its embedding.
type IndexedChunk struct {
	Chunk
	Embedding []float32 `json:"embedding"`
}

// Index is the whole retrieval index document.
// Invariants: TotalChunks == len(Chunks) and chunk ids are unique.
type Index struct {
	Version     int64              `json:"version"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
	Model       string             `json:"model,omitempty"`
	Dimensions  int                `json:"dimensions,omitempty"`
	TotalChunks int                `json:"totalChunks"`
	Sources     map[SourceType]int `json:"sources"`
	Chunks      []IndexedChunk     `json:"chunks"`
}

// NewIndex returns an empty index shell.
func NewIndex(now time.Time) *Index {
	return &Index{
		CreatedAt: now,
		UpdatedAt: now,
		Sources:   make(map[SourceType]int),
		Chunks:    []IndexedChunk{},
	}
}

// Recount recomputes TotalChunks and Sources from Chunks.
func (idx *Index) Recount() {
	idx.TotalChunks = len(idx.Chunks)
	idx.Sources = make(map[SourceType]int)
	for i := range idx.Chunks {
		idx.Sources[idx.Chunks[i].SourceType]++
	}
}

// Owned returns the chunks owned by contentID.
func (idx *Index) Owned(contentID string) []IndexedChunk {
	var out []IndexedChunk
	for i := range idx.Chunks {
		if idx.Chunks[i].OwnedBy(contentID) {
			out = append(out, idx.Chunks[i])
		}
	}
	return out
}

// RemoveOwned drops every chunk owned by contentID and returns how many
// were removed. Counts are not recomputed.
func (idx *Index) RemoveOwned(contentID string) int {
	kept := idx.Chunks[:0]
	removed := 0
	for _, c := range idx.Chunks {
		if c.OwnedBy(contentID) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	// Clear the tail so dropped embeddings can be collected.
	for i := len(kept); i < len(idx.Chunks); i++ {
		idx.Chunks[i] = IndexedChunk{}
	}
	idx.Chunks = kept
	return removed
}

// ContentIDs returns the distinct owner ids in the index.
func (idx *Index) ContentIDs() map[string]struct{} {
	out := make(map[string]struct{})
	for i := range idx.Chunks {
		c := &idx.Chunks[i].Chunk
		id := c.OwnerID
		if id == "" {
			if j := strings.LastIndex(c.ID, "_"); j > 0 {
				id = c.ID[:j]
			}
		}
		if id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}

// Clone copies the chunk slice and source counts. Embeddings are shared and
// must not be mutated in place.
func (idx *Index) Clone() *Index {
	cp := *idx
	cp.Chunks = append([]IndexedChunk(nil), idx.Chunks...)
	cp.Sources = make(map[SourceType]int, len(idx.Sources))
	for k, v := range idx.Sources {
		cp.Sources[k] = v
	}
	return &cp
}

// Metadata describes the persisted index without its body.
type Metadata struct {
	Exists      bool      `json:"exists"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Version     int64     `json:"version"`
	TotalChunks int       `json:"totalChunks"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// BackupInfo describes one stored backup.
type BackupInfo struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
	Daily   bool      `json:"daily"`
}
