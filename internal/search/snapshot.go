package search

import (
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Aman-CERP/quizrag/internal/content"
	"github.com/Aman-CERP/quizrag/internal/store"
)

// Principal is who a search runs for.
type Principal struct {
	// Unlocked holds content ids whose gated sub-items the caller may see.
	Unlocked map[string]bool
	Admin    bool
}

// CanSee applies the visibility rule to one chunk: public chunks and
// every content's meta chunk are visible to all, sub-item chunks of
// gated content only once unlocked.
func (p Principal) CanSee(c store.Chunk) bool {
	if p.Admin || c.IsMeta() || c.Visibility == string(content.VisibilityPublic) || c.Visibility == "" {
		return true
	}
	return p.Unlocked[c.OwnerID]
}

// Snapshot is the searchable form of one index document. It is built once
// per loaded index and shared by every query until the index changes.
type Snapshot struct {
	index   *store.Index
	chunks  []store.IndexedChunk
	keyword *KeywordIndex
	vector  *VectorIndex

	// open is everything any principal may see: public and meta chunks.
	open *roaring.Bitmap
	// gated maps a content id to its non-public sub-item chunks.
	gated map[string]*roaring.Bitmap

	refs atomic.Int32
}

// NewSnapshot builds the keyword index, vector index and visibility
// bitmaps for idx.
func NewSnapshot(idx *store.Index, annThreshold int) (*Snapshot, error) {
	kw, err := NewKeywordIndex(idx.Chunks)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{
		index:   idx,
		chunks:  idx.Chunks,
		keyword: kw,
		vector:  NewVectorIndex(idx.Chunks, idx.Dimensions, annThreshold),
		open:    roaring.New(),
		gated:   make(map[string]*roaring.Bitmap),
	}
	everyone := Principal{}
	for i, c := range idx.Chunks {
		if everyone.CanSee(c.Chunk) {
			s.open.Add(uint32(i))
			continue
		}
		owner := c.OwnerID
		b, ok := s.gated[owner]
		if !ok {
			b = roaring.New()
			s.gated[owner] = b
		}
		b.Add(uint32(i))
	}
	s.refs.Store(1)
	return s, nil
}

// Index returns the document the snapshot was built from.
func (s *Snapshot) Index() *store.Index { return s.index }

// Len returns the number of chunks.
func (s *Snapshot) Len() int { return len(s.chunks) }

// Chunk returns the chunk at pos.
func (s *Snapshot) Chunk(pos int) store.IndexedChunk { return s.chunks[pos] }

// Allowed returns the positions p may see, or nil when p sees everything.
func (s *Snapshot) Allowed(p Principal) *roaring.Bitmap {
	if p.Admin || len(s.gated) == 0 {
		return nil
	}
	b := s.open.Clone()
	for id := range p.Unlocked {
		if g, ok := s.gated[id]; ok {
			b.Or(g)
		}
	}
	return b
}

func (s *Snapshot) retain() { s.refs.Add(1) }

// release drops one reference and closes the keyword index with the last.
func (s *Snapshot) release() {
	if s.refs.Add(-1) == 0 {
		_ = s.keyword.Close()
	}
}
