package embed

import (
	"context"
	"errors"
	"math"
	"sync"
)

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// scriptedEmbedder fails for texts in failOn and returns short vectors for
// texts in shortOn.
type scriptedEmbedder struct {
	dims    int
	failOn  map[string]bool
	shortOn map[string]bool

	mu    sync.Mutex
	calls int
}

func (s *scriptedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.failOn[text] {
		return nil, errors.New("embedding service unavailable")
	}
	n := s.dims
	if s.shortOn[text] {
		n = s.dims - 1
	}
	v := make([]float32, n)
	v[0] = float32(len(text))
	return v, nil
}

func (s *scriptedEmbedder) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedEmbedder) Dimensions() int                  { return s.dims }
func (s *scriptedEmbedder) ModelName() string                { return "scripted" }
func (s *scriptedEmbedder) Available(_ context.Context) bool { return true }
func (s *scriptedEmbedder) Close() error                     { return nil }
