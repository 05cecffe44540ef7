package search

import (
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/coder/hnsw"

	"github.com/Aman-CERP/quizrag/internal/store"
)

// DefaultANNThreshold is the chunk count at which VectorIndex builds an
// HNSW graph instead of scanning every vector.
const DefaultANNThreshold = 2000

// annOversample widens the HNSW candidate set so that filtering still
// leaves enough hits.
const annOversample = 4

// VectorIndex answers cosine-similarity queries over one snapshot.
type VectorIndex struct {
	vectors [][]float32 // unit length; nil for chunks without a usable embedding
	dims    int
	graph   *hnsw.Graph[uint32]
}

// NewVectorIndex normalizes every embedding of the expected width and
// builds an HNSW graph when there are at least annThreshold of them.
// annThreshold <= 0 disables the graph.
func NewVectorIndex(chunks []store.IndexedChunk, dims, annThreshold int) *VectorIndex {
	v := &VectorIndex{vectors: make([][]float32, len(chunks)), dims: dims}
	usable := 0
	for i, c := range chunks {
		if len(c.Embedding) == 0 || (dims > 0 && len(c.Embedding) != dims) {
			continue
		}
		if v.dims == 0 {
			v.dims = len(c.Embedding)
		} else if len(c.Embedding) != v.dims {
			continue
		}
		v.vectors[i] = normalized(c.Embedding)
		usable++
	}

	if annThreshold > 0 && usable >= annThreshold {
		g := hnsw.NewGraph[uint32]()
		g.Distance = hnsw.CosineDistance
		g.M = 16
		g.EfSearch = 64
		g.Ml = 0.25
		nodes := make([]hnsw.Node[uint32], 0, usable)
		for i, vec := range v.vectors {
			if vec != nil {
				nodes = append(nodes, hnsw.MakeNode(uint32(i), vec))
			}
		}
		g.Add(nodes...)
		v.graph = g
	}
	return v
}

// Approximate reports whether searches go through the HNSW graph.
func (v *VectorIndex) Approximate() bool { return v.graph != nil }

// Search returns up to topK chunk positions with cosine similarity of at
// least minScore, best first. allowed restricts the candidates; nil
// allows everything.
func (v *VectorIndex) Search(query []float32, topK int, minScore float64, allowed *roaring.Bitmap) []Hit {
	if topK <= 0 || len(query) != v.dims || v.dims == 0 {
		return []Hit{}
	}
	q := normalized(query)

	if v.graph != nil {
		hits := v.searchGraph(q, topK, minScore, allowed)
		if len(hits) >= topK || allowed == nil {
			return hits
		}
		// Heavy filtering starved the graph candidates.
	}
	return v.scan(q, topK, minScore, allowed)
}

func (v *VectorIndex) searchGraph(q []float32, topK int, minScore float64, allowed *roaring.Bitmap) []Hit {
	k := topK
	if allowed != nil {
		k = topK * annOversample
	}
	if k > v.graph.Len() {
		k = v.graph.Len()
	}
	nodes := v.graph.Search(q, k)
	hits := make([]Hit, 0, len(nodes))
	for _, n := range nodes {
		if allowed != nil && !allowed.Contains(n.Key) {
			continue
		}
		score := float64(dot(q, v.vectors[n.Key]))
		if score < minScore {
			continue
		}
		hits = append(hits, Hit{Pos: int(n.Key), Score: score})
	}
	sortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func (v *VectorIndex) scan(q []float32, topK int, minScore float64, allowed *roaring.Bitmap) []Hit {
	hits := make([]Hit, 0, topK)
	consider := func(i int) {
		vec := v.vectors[i]
		if vec == nil {
			return
		}
		score := float64(dot(q, vec))
		if score >= minScore {
			hits = append(hits, Hit{Pos: i, Score: score})
		}
	}
	if allowed != nil {
		it := allowed.Iterator()
		for it.HasNext() {
			i := int(it.Next())
			if i < len(v.vectors) {
				consider(i)
			}
		}
	} else {
		for i := range v.vectors {
			consider(i)
		}
	}
	sortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// sortHits orders by score descending, then position for determinism.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Pos < hits[j].Pos
	})
}

func normalized(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
