package search

import (
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// FusedResult is one chunk after rank fusion.
type FusedResult struct {
	Pos          int     // Snapshot position
	ChunkID      string  // Chunk identifier
	RRFScore     float64 // Sum of 1/(k+rank) over the lists containing the chunk
	KeywordScore float64 // Raw keyword score (0 if absent)
	KeywordRank  int     // 1-indexed, 0 if absent
	VecScore     float64 // Raw cosine similarity (0 if absent)
	VecRank      int     // 1-indexed, 0 if absent
	InBothLists  bool
}

// RRFFusion combines keyword and vector rankings with Reciprocal Rank
// Fusion:
//
//	score(d) = Σ 1 / (k + rank_i(d))
//
// summed over every list in which d appears. A chunk missing from a list
// gets nothing from it.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a fusion with the given k. If k <= 0, defaults to 60.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse merges the two ranked lists. id resolves a position to its chunk id
// for the final tie-break.
//
// Results are sorted by: RRFScore (desc) → VecScore (desc) → ChunkID (asc)
func (f *RRFFusion) Fuse(keyword, vec []Hit, id func(pos int) string) []*FusedResult {
	if len(keyword) == 0 && len(vec) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[int]*FusedResult, len(keyword)+len(vec))

	for rank, h := range keyword {
		r := f.getOrCreate(scores, h.Pos, id)
		r.KeywordScore = h.Score
		r.KeywordRank = rank + 1
		r.RRFScore += 1.0 / float64(f.K+rank+1)
	}

	for rank, h := range vec {
		r := f.getOrCreate(scores, h.Pos, id)
		r.VecScore = h.Score
		r.VecRank = rank + 1
		r.RRFScore += 1.0 / float64(f.K+rank+1)
		if r.KeywordRank > 0 {
			r.InBothLists = true
		}
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})
	return results
}

func (f *RRFFusion) getOrCreate(m map[int]*FusedResult, pos int, id func(int) string) *FusedResult {
	if r, ok := m[pos]; ok {
		return r
	}
	r := &FusedResult{Pos: pos, ChunkID: id(pos)}
	m[pos] = r
	return r
}

// compare returns true if a should rank before b.
func (f *RRFFusion) compare(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.VecScore != b.VecScore {
		return a.VecScore > b.VecScore
	}
	return a.ChunkID < b.ChunkID
}
