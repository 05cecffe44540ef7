package embed

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Aman-CERP/quizrag/internal/store"
)

// Pipeline embeds chunks one at a time under a token-bucket rate limit.
//
// A chunk whose embedding fails, or comes back with the wrong dimension, is
// dropped with a warning. The result may be a strict subset of the input.
type Pipeline struct {
	embedder Embedder
	limiter  *rate.Limiter
}

// NewPipeline creates a pipeline. rps <= 0 disables throttling.
func NewPipeline(embedder Embedder, rps float64) *Pipeline {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Pipeline{
		embedder: embedder,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Embedder returns the underlying embedder.
func (p *Pipeline) Embedder() Embedder { return p.embedder }

// EmbedChunks embeds chunks sequentially. Only context cancellation is
// returned as an error.
func (p *Pipeline) EmbedChunks(ctx context.Context, chunks []store.Chunk) ([]store.IndexedChunk, error) {
	start := time.Now()
	dims := p.embedder.Dimensions()
	out := make([]store.IndexedChunk, 0, len(chunks))

	for _, c := range chunks {
		if err := p.limiter.Wait(ctx); err != nil {
			return out, err
		}

		vec, err := p.embedder.Embed(ctx, c.Text)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			slog.Warn("chunk_embedding_failed",
				slog.String("chunk_id", c.ID),
				slog.String("error", err.Error()))
			continue
		}
		if len(vec) != dims {
			slog.Warn("chunk_embedding_dimension_mismatch",
				slog.String("chunk_id", c.ID),
				slog.Int("got", len(vec)),
				slog.Int("want", dims))
			continue
		}
		out = append(out, store.IndexedChunk{Chunk: c, Embedding: vec})
	}

	slog.Debug("chunks_embedded",
		slog.Int("requested", len(chunks)),
		slog.Int("embedded", len(out)),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

// EmbedQuery embeds a search query under the same limiter.
func (p *Pipeline) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.embedder.Embed(ctx, query)
}
