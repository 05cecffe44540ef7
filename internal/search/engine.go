// Package search is the hybrid retrieval engine: keyword and vector search
// over a cached index snapshot, fused with Reciprocal Rank Fusion,
// optionally rewritten and re-ranked by a generation model, and banded by
// confidence.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/quizrag/internal/config"
	qerrors "github.com/Aman-CERP/quizrag/internal/errors"
	"github.com/Aman-CERP/quizrag/internal/llm"
	"github.com/Aman-CERP/quizrag/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// IndexLoader supplies the current index. *cache.IndexCache implements it.
type IndexLoader interface {
	Load(ctx context.Context) (*store.Index, error)
}

// QueryEmbedder embeds query text. *embed.Pipeline implements it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Config tunes retrieval.
type Config struct {
	VectorTopK   int
	KeywordTopK  int
	FinalTopK    int
	MinRelevance float64
	RRFConstant  int
	// FastPathBand is the lowest raw-query band that skips rewriting.
	FastPathBand    Band
	HistoryTurns    int
	RerankEnabled   bool
	RerankWindow    int
	RerankSkipScore float64
	ANNThreshold    int
	Thresholds      Thresholds
}

// DefaultConfig mirrors the configuration defaults.
func DefaultConfig() Config {
	return Config{
		VectorTopK:      10,
		KeywordTopK:     10,
		FinalTopK:       5,
		MinRelevance:    0.40,
		RRFConstant:     DefaultRRFConstant,
		FastPathBand:    BandHigh,
		HistoryTurns:    DefaultHistoryTurns,
		RerankEnabled:   true,
		RerankWindow:    DefaultRerankWindow,
		RerankSkipScore: 0.85,
		ANNThreshold:    DefaultANNThreshold,
		Thresholds:      DefaultThresholds(),
	}
}

// ConfigFrom converts the search and confidence configuration sections.
func ConfigFrom(sc config.SearchConfig, cc config.ConfidenceConfig) (Config, error) {
	band, err := ParseBand(sc.FastPathBand)
	if err != nil {
		return Config{}, qerrors.ConfigError("invalid search.fast_path_band", err)
	}
	return Config{
		VectorTopK:      sc.VectorTopK,
		KeywordTopK:     sc.KeywordTopK,
		FinalTopK:       sc.FinalTopK,
		MinRelevance:    sc.MinRelevance,
		RRFConstant:     sc.RRFConstant,
		FastPathBand:    band,
		HistoryTurns:    sc.HistoryTurns,
		RerankEnabled:   sc.RerankEnabled,
		RerankWindow:    sc.RerankWindow,
		RerankSkipScore: sc.RerankSkipScore,
		ANNThreshold:    sc.ANNThreshold,
		Thresholds:      Thresholds{High: cc.High, Medium: cc.Medium, Low: cc.Low},
	}, nil
}

// Options are per-query inputs.
type Options struct {
	// TopK overrides Config.FinalTopK when positive.
	TopK      int
	History   []Turn
	Principal Principal
}

// Result is one retrieved chunk.
type Result struct {
	Chunk store.Chunk
	// Score is the chunk's confidence score.
	Score        float64
	RRFScore     float64
	VecScore     float64
	KeywordScore float64
}

// Response is the outcome of one search.
type Response struct {
	OriginalQuery string
	// Query is the text the returned results were retrieved with.
	Query        string
	Results      []Result
	Band         Band
	TopScore     float64
	AvgScore     float64
	FastPath     bool
	Rewritten    bool
	Reranked     bool
	IndexVersion int64
	Duration     time.Duration
	// Approximate is set when vector search used the HNSW graph.
	Approximate bool
}

// Engine runs hybrid searches. It is safe for concurrent use.
type Engine struct {
	loader   IndexLoader
	embedder QueryEmbedder
	config   Config
	fusion   *RRFFusion
	rewriter *Rewriter
	reranker *Reranker

	mu   sync.Mutex
	snap *Snapshot
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithGenerator enables query rewriting, and re-ranking when the
// configuration allows it. A nil generator leaves both off.
func WithGenerator(gen llm.Generator) EngineOption {
	return func(e *Engine) {
		if gen == nil {
			return
		}
		e.rewriter = NewRewriter(gen, e.config.HistoryTurns)
		if e.config.RerankEnabled {
			e.reranker = NewReranker(gen, e.config.RerankWindow)
		}
	}
}

// NewEngine creates an engine. Zero-valued config fields take defaults.
func NewEngine(loader IndexLoader, embedder QueryEmbedder, cfg Config, opts ...EngineOption) (*Engine, error) {
	if loader == nil {
		return nil, fmt.Errorf("%w: index loader is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: query embedder is required", ErrNilDependency)
	}
	def := DefaultConfig()
	if cfg.VectorTopK <= 0 {
		cfg.VectorTopK = def.VectorTopK
	}
	if cfg.KeywordTopK <= 0 {
		cfg.KeywordTopK = def.KeywordTopK
	}
	if cfg.FinalTopK <= 0 {
		cfg.FinalTopK = def.FinalTopK
	}
	if cfg.FastPathBand == "" {
		cfg.FastPathBand = def.FastPathBand
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.RerankSkipScore <= 0 {
		cfg.RerankSkipScore = def.RerankSkipScore
	}

	e := &Engine{
		loader:   loader,
		embedder: embedder,
		config:   cfg,
		fusion:   NewRRFFusion(cfg.RRFConstant),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.config }

// Search retrieves the chunks most relevant to query.
//
// The raw query runs first. Only when its band is below the fast-path band
// is the query rewritten from history and searched again; the better of
// the two result sets wins. The winner may then be re-ranked.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, qerrors.New(qerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = e.config.FinalTopK
	}

	resp := &Response{OriginalQuery: query, Query: query, Band: BandNone, Results: []Result{}}

	idx, err := e.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	resp.IndexVersion = idx.Version
	if len(idx.Chunks) == 0 {
		resp.FastPath = true
		resp.Duration = time.Since(start)
		return resp, nil
	}

	snap, err := e.acquire(idx)
	if err != nil {
		return nil, err
	}
	defer snap.release()
	allowed := snap.Allowed(opts.Principal)
	resp.Approximate = snap.vector.Approximate()

	raw, err := e.retrieve(ctx, snap, query, allowed)
	if err != nil {
		return nil, err
	}
	best := raw

	if raw.band.AtLeast(e.config.FastPathBand) || e.rewriter == nil {
		resp.FastPath = true
	} else if rewritten, ok := e.rewriter.Rewrite(ctx, query, opts.History); ok {
		rw, err := e.retrieve(ctx, snap, rewritten, allowed)
		if err != nil {
			return nil, err
		}
		if rw.better(raw) {
			best = rw
			resp.Query = rewritten
			resp.Rewritten = true
		}
	}

	results := best.results
	if e.reranker != nil && best.band != BandHigh && best.top < e.config.RerankSkipScore {
		results, resp.Reranked = e.reranker.Rerank(ctx, resp.Query, results)
	}
	if len(results) > topK {
		results = results[:topK]
	}

	resp.Results = results
	resp.Band = best.band
	resp.TopScore, resp.AvgScore = topAndAvg(results)
	resp.Duration = time.Since(start)

	slog.Debug("search_completed",
		slog.String("band", string(resp.Band)),
		slog.Int("results", len(results)),
		slog.Bool("fast_path", resp.FastPath),
		slog.Bool("rewritten", resp.Rewritten),
		slog.Bool("reranked", resp.Reranked),
		slog.Duration("duration", resp.Duration))
	return resp, nil
}

// retrieval is one fused, banded result set.
type retrieval struct {
	results []Result
	band    Band
	top     float64
}

// better compares by band, then top confidence score.
func (r retrieval) better(other retrieval) bool {
	if r.band != other.band {
		return r.band.AtLeast(other.band)
	}
	return r.top > other.top
}

// retrieve runs vector and keyword search in parallel, fuses them, and
// applies the confidence band. Results below the low threshold are
// dropped; a band of none yields no results.
func (e *Engine) retrieve(ctx context.Context, snap *Snapshot, query string, allowed *roaring.Bitmap) (retrieval, error) {
	var vecHits, kwHits []Hit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		emb, err := e.embedder.EmbedQuery(gctx, query)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			// Keyword results still answer the query.
			slog.Warn("query_embedding_failed", slog.String("error", err.Error()))
			return nil
		}
		vecHits = snap.vector.Search(emb, e.config.VectorTopK, e.config.MinRelevance, allowed)
		return nil
	})
	g.Go(func() error {
		size := e.config.KeywordTopK
		if allowed != nil {
			size = 0
		}
		hits, err := snap.keyword.Search(gctx, query, size)
		if err != nil {
			return err
		}
		if allowed != nil {
			hits = filterHits(hits, allowed, e.config.KeywordTopK)
		}
		kwHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return retrieval{}, err
	}

	fused := e.fusion.Fuse(kwHits, vecHits, func(pos int) string { return snap.Chunk(pos).ID })
	scores := make([]float64, len(fused))
	for i, f := range fused {
		scores[i] = ConfidenceScore(f)
	}
	band := Categorize(scores, e.config.Thresholds)

	out := retrieval{band: band, results: []Result{}}
	if band == BandNone {
		return out, nil
	}
	for i, f := range fused {
		if scores[i] < e.config.Thresholds.Low {
			continue
		}
		out.results = append(out.results, Result{
			Chunk:        snap.Chunk(f.Pos).Chunk,
			Score:        scores[i],
			RRFScore:     f.RRFScore,
			VecScore:     f.VecScore,
			KeywordScore: f.KeywordScore,
		})
		out.top = max(out.top, scores[i])
	}
	return out, nil
}

func filterHits(hits []Hit, allowed *roaring.Bitmap, limit int) []Hit {
	out := make([]Hit, 0, limit)
	for _, h := range hits {
		if !allowed.Contains(uint32(h.Pos)) {
			continue
		}
		out = append(out, h)
		if len(out) == limit {
			break
		}
	}
	return out
}

func topAndAvg(results []Result) (top, avg float64) {
	if len(results) == 0 {
		return 0, 0
	}
	var sum float64
	for _, r := range results {
		top = max(top, r.Score)
		sum += r.Score
	}
	return top, sum / float64(len(results))
}

// acquire returns a retained snapshot for idx, building it when the cache
// has handed out a different index since the last search.
func (e *Engine) acquire(idx *store.Index) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.snap != nil && e.snap.Index() == idx {
		e.snap.retain()
		return e.snap, nil
	}

	buildStart := time.Now()
	snap, err := NewSnapshot(idx, e.config.ANNThreshold)
	if err != nil {
		return nil, qerrors.InternalError("failed to build search snapshot", err)
	}
	slog.Info("search_snapshot_built",
		slog.Int64("version", idx.Version),
		slog.Int("chunks", snap.Len()),
		slog.Bool("ann", snap.vector.Approximate()),
		slog.Duration("duration", time.Since(buildStart)))

	if e.snap != nil {
		e.snap.release()
	}
	e.snap = snap
	snap.retain()
	return snap, nil
}

// Close releases the current snapshot.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap != nil {
		e.snap.release()
		e.snap = nil
	}
	return nil
}
