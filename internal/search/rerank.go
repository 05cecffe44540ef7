package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	qerrors "github.com/Aman-CERP/quizrag/internal/errors"
	"github.com/Aman-CERP/quizrag/internal/llm"
)

const (
	// DefaultRerankWindow is how many top candidates are shown to the model.
	DefaultRerankWindow = 10
	// rerankSnippetChars truncates each candidate to bound prompt size.
	rerankSnippetChars = 150
)

const rerankPrompt = `You rank search results for a quiz assistant.
Question: %s

Candidates:
%s
Return only a JSON array of candidate numbers, most relevant first, e.g. [2, 0, 1].`

// Reranker reorders the head of a result list with a generation model.
type Reranker struct {
	gen    llm.Generator
	window int
}

// NewReranker creates a reranker over gen. window <= 0 uses the default.
func NewReranker(gen llm.Generator, window int) *Reranker {
	if window <= 0 {
		window = DefaultRerankWindow
	}
	return &Reranker{gen: gen, window: window}
}

// Rerank returns results with the first window entries reordered by the
// model. On any failure or unparseable output it returns results unchanged
// and false.
func (r *Reranker) Rerank(ctx context.Context, query string, results []Result) ([]Result, bool) {
	if len(results) < 2 {
		return results, false
	}
	n := min(r.window, len(results))

	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "[%d] %s\n", i, snippet(results[i].Chunk.Text, rerankSnippetChars))
	}

	out, err := r.gen.Generate(ctx, fmt.Sprintf(rerankPrompt, query, b.String()))
	if err != nil {
		if !errors.Is(err, qerrors.ErrCircuitOpen) {
			slog.Warn("rerank_failed", slog.String("error", err.Error()))
		}
		return results, false
	}
	order, ok := parseOrder(out, n)
	if !ok {
		slog.Warn("rerank_unparseable", slog.String("output", snippet(out, 200)))
		return results, false
	}

	reordered := make([]Result, 0, len(results))
	for _, i := range order {
		reordered = append(reordered, results[i])
	}
	reordered = append(reordered, results[n:]...)
	return reordered, true
}

// parseOrder extracts the first JSON array of integers from s and turns it
// into a permutation of [0, n). Out-of-range and repeated indices are
// ignored; indices the model left out keep their relative order at the end.
func parseOrder(s string, n int) ([]int, bool) {
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end <= start {
		return nil, false
	}
	var raw []int
	if err := json.Unmarshal([]byte(s[start:end+1]), &raw); err != nil {
		return nil, false
	}

	seen := make([]bool, n)
	order := make([]int, 0, n)
	for _, i := range raw {
		if i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		order = append(order, i)
	}
	if len(order) == 0 {
		return nil, false
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			order = append(order, i)
		}
	}
	return order, true
}

func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
