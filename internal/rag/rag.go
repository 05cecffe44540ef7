// Package rag is the retrieval entry point for answer generation. It wraps
// the hybrid search engine with permission filtering, citations and
// insufficient-data handling, and reports each retrieval to telemetry.
package rag

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/Aman-CERP/quizrag/internal/search"
	"github.com/Aman-CERP/quizrag/internal/store"
	"github.com/Aman-CERP/quizrag/internal/telemetry"
)

// LowConfidenceWarning is attached to responses in the low band.
const LowConfidenceWarning = "Results may not be fully accurate. Try rephrasing your question."

// DefaultTimeout bounds one retrieval.
const DefaultTimeout = 60 * time.Second

// Searcher runs hybrid searches. Implemented by *search.Engine.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) (*search.Response, error)
}

// Recorder receives one event per retrieval. Implemented by
// *telemetry.Recorder.
type Recorder interface {
	RecordSearch(e telemetry.SearchEvent)
}

// Request is one retrieval request.
type Request struct {
	Query     string
	TopK      int
	History   []search.Turn
	Principal search.Principal
}

// Chunk is a retrieved chunk as handed to answer generation.
type Chunk struct {
	ID         string  `json:"chunkId"`
	ContentID  string  `json:"contentId"`
	Title      string  `json:"title"`
	Text       string  `json:"text"`
	SourceType string  `json:"sourceType"`
	Score      float64 `json:"score"`
}

// Citation names one content item the chunks came from.
type Citation struct {
	Title     string `json:"title"`
	ContentID string `json:"contentId"`
}

// Metrics describe how the response was produced.
type Metrics struct {
	FastPathUsed   bool          `json:"fastPathUsed"`
	TopScore       float64       `json:"topScore"`
	AvgScore       float64       `json:"avgScore"`
	ProcessingTime time.Duration `json:"processingTime"`
	OriginalQuery  string        `json:"originalQuery"`
	Reranked       bool          `json:"reranked"`
	IndexVersion   int64         `json:"indexVersion"`
}

// Response is the outcome of Retrieve.
type Response struct {
	Chunks         []Chunk     `json:"chunks"`
	Confidence     search.Band `json:"confidence"`
	QueryRewritten bool        `json:"queryRewritten"`
	UsedChunks     int         `json:"usedChunks"`
	Citations      []Citation  `json:"citations"`
	Insufficient   bool        `json:"insufficient"`
	Warning        string      `json:"warning,omitempty"`
	Metrics        Metrics     `json:"metrics"`
}

// Service orchestrates retrieval.
type Service struct {
	searcher Searcher
	recorder Recorder
	timeout  time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder reports every retrieval to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithTimeout bounds each retrieval. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService creates a retrieval service.
func NewService(searcher Searcher, opts ...Option) *Service {
	s := &Service{searcher: searcher, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retrieve searches for req.Query and shapes the results for answer
// generation. Errors come from the search engine unchanged.
func (s *Service) Retrieve(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sr, err := s.searcher.Search(ctx, req.Query, search.Options{
		TopK:      req.TopK,
		History:   req.History,
		Principal: req.Principal,
	})
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Confidence:     sr.Band,
		QueryRewritten: sr.Rewritten,
		Chunks:         []Chunk{},
		Citations:      []Citation{},
		Metrics: Metrics{
			FastPathUsed:  sr.FastPath,
			OriginalQuery: sr.OriginalQuery,
			Reranked:      sr.Reranked,
			IndexVersion:  sr.IndexVersion,
		},
	}

	// The engine already filters by visibility; this is the last gate
	// before chunk text leaves the service.
	var scores []float64
	for i := range sr.Results {
		r := &sr.Results[i]
		if !req.Principal.CanSee(r.Chunk) {
			continue
		}
		resp.Chunks = append(resp.Chunks, Chunk{
			ID:         r.Chunk.ID,
			ContentID:  contentID(&r.Chunk),
			Title:      r.Chunk.Title,
			Text:       r.Chunk.Text,
			SourceType: string(r.Chunk.SourceType),
			Score:      r.Score,
		})
		scores = append(scores, r.Score)
	}

	if sr.Band == search.BandNone || len(resp.Chunks) == 0 {
		resp.Insufficient = true
		resp.Chunks = []Chunk{}
	} else {
		resp.UsedChunks = len(resp.Chunks)
		resp.Citations = citations(resp.Chunks)
		resp.Metrics.TopScore, resp.Metrics.AvgScore = topAndAvg(scores)
		if sr.Band == search.BandLow {
			resp.Warning = LowConfidenceWarning
		}
	}
	resp.Metrics.ProcessingTime = time.Since(start)

	if s.recorder != nil {
		s.recorder.RecordSearch(telemetry.SearchEvent{
			Query:        sr.OriginalQuery,
			Band:         string(sr.Band),
			Insufficient: resp.Insufficient,
			FastPath:     sr.FastPath,
			Rewritten:    sr.Rewritten,
			Reranked:     sr.Reranked,
			ResultCount:  resp.UsedChunks,
			Latency:      resp.Metrics.ProcessingTime,
			Timestamp:    start,
		})
	}

	slog.Info("rag_retrieved",
		slog.String("confidence", string(resp.Confidence)),
		slog.Int("used_chunks", resp.UsedChunks),
		slog.Bool("insufficient", resp.Insufficient),
		slog.Bool("query_rewritten", resp.QueryRewritten),
		slog.Duration("duration", resp.Metrics.ProcessingTime))
	return resp, nil
}

var questionSuffix = regexp.MustCompile(`\s+-\s+Question\s+\d+$`)

// citations lists each content item once, in result order, by its own
// title rather than a question chunk's derived title.
func citations(chunks []Chunk) []Citation {
	seen := make(map[string]bool, len(chunks))
	out := make([]Citation, 0, len(chunks))
	for _, c := range chunks {
		if seen[c.ContentID] {
			continue
		}
		seen[c.ContentID] = true
		out = append(out, Citation{
			Title:     questionSuffix.ReplaceAllString(c.Title, ""),
			ContentID: c.ContentID,
		})
	}
	return out
}

// contentID is the owning content id. Chunks written without an owner
// carry it as the id prefix.
func contentID(c *store.Chunk) string {
	if c.OwnerID != "" {
		return c.OwnerID
	}
	if i := strings.LastIndexByte(c.ID, '_'); i > 0 {
		return c.ID[:i]
	}
	return c.ID
}

func topAndAvg(scores []float64) (top, avg float64) {
	if len(scores) == 0 {
		return 0, 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
		if s > top {
			top = s
		}
	}
	return top, sum / float64(len(scores))
}
