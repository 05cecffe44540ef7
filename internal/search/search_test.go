package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/Aman-CERP/quizrag/internal/errors"
	"github.com/Aman-CERP/quizrag/internal/store"
)

type staticLoader struct {
	mu  sync.Mutex
	idx *store.Index
	err error
}

func (l *staticLoader) Load(context.Context) (*store.Index, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.idx, l.err
}

func (l *staticLoader) Set(idx *store.Index) {
	l.mu.Lock()
	l.idx = idx
	l.mu.Unlock()
}

// mapEmbedder embeds known queries to fixed vectors.
type mapEmbedder map[string][]float32

func (m mapEmbedder) EmbedQuery(_ context.Context, q string) ([]float32, error) {
	if v, ok := m[q]; ok {
		return v, nil
	}
	return nil, errors.New("unknown query")
}

// scriptedGenerator returns replies in order and records prompts.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r, nil
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func chunkAt(id, owner, text string, vis string, emb ...float32) store.IndexedChunk {
	st := store.SourceQuizQuestion
	if id == owner+"_meta" {
		st = store.SourceQuizMeta
	}
	return store.IndexedChunk{
		Chunk: store.Chunk{
			ID:         id,
			OwnerID:    owner,
			Text:       text,
			Title:      text,
			SourceType: st,
			Visibility: vis,
		},
		Embedding: emb,
	}
}

func testIndex() *store.Index {
	idx := store.NewIndex(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	idx.Version = 7
	idx.Dimensions = 4
	idx.Chunks = []store.IndexedChunk{
		chunkAt("c1_meta", "c1", "Photosynthesis basics", "public", 1, 0, 0, 0),
		chunkAt("c1_q1", "c1", "Quang hợp diễn ra ở đâu? Lá cây", "public", 0.9, 0.1, 0, 0),
		chunkAt("c2_meta", "c2", "World history: French revolution", "public", 0, 1, 0, 0),
		chunkAt("c3_meta", "c3", "Secret chemistry quiz", "private", 0, 0, 1, 0),
		chunkAt("c3_q1", "c3", "Which gas do plants absorb in chemistry class", "private", 0, 0, 0.95, 0.05),
	}
	idx.Recount()
	return idx
}

var testQueries = mapEmbedder{
	"photosynthesis":           {1, 0, 0, 0},
	"Photosynthesis in leaves": {1, 0.05, 0, 0},
	"what about it?":           {0, 0, 0, 1},
	"chemistry":                {0, 0, 1, 0},
	"reagents":                 {0, 0, 0.6, 0.8},
	"quang hop":                {0, 0, 0, 1},
}

func newTestEngine(t *testing.T, cfg Config, opts ...EngineOption) (*Engine, *staticLoader) {
	t.Helper()
	loader := &staticLoader{idx: testIndex()}
	e, err := NewEngine(loader, testQueries, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, loader
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ID
	}
	return out
}

func TestFold(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hà Nội", "ha noi"},
		{"Đường Trường Sơn", "duong truong son"},
		{"Quang hợp", "quang hop"},
		{"Photosynthesis", "photosynthesis"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Fold(tt.in), tt.in)
	}
	assert.Equal(t, []string{"la", "cay", "xanh", "2"}, Tokenize("Lá cây-xanh (2)"))
}

func TestRRFFusion_BothListsOutrankSingle(t *testing.T) {
	// Given A only in the keyword list, C only in the vector list, B in both
	names := []string{"A", "B", "C"}
	keyword := []Hit{{Pos: 0, Score: 9}, {Pos: 1, Score: 5}}
	vector := []Hit{{Pos: 1, Score: 0.8}, {Pos: 2, Score: 0.7}}

	// When fused
	fused := NewRRFFusion(60).Fuse(keyword, vector, func(p int) string { return names[p] })

	// Then B wins, and A (rank 1) beats C (rank 2)
	require.Len(t, fused, 3)
	assert.Equal(t, "B", fused[0].ChunkID)
	assert.True(t, fused[0].InBothLists)
	assert.InDelta(t, 1.0/62+1.0/61, fused[0].RRFScore, 1e-12)
	assert.Equal(t, "A", fused[1].ChunkID)
	assert.Equal(t, "C", fused[2].ChunkID)
}

func TestRRFFusion_TieBrokenByVectorScore(t *testing.T) {
	names := []string{"kw", "vec"}
	fused := NewRRFFusion(0).Fuse(
		[]Hit{{Pos: 0, Score: 3}},
		[]Hit{{Pos: 1, Score: 0.5}},
		func(p int) string { return names[p] })

	require.Len(t, fused, 2)
	assert.Equal(t, fused[0].RRFScore, fused[1].RRFScore)
	assert.Equal(t, "vec", fused[0].ChunkID)
}

func TestRRFFusion_Empty(t *testing.T) {
	assert.Empty(t, NewRRFFusion(60).Fuse(nil, nil, nil))
}

func TestConfidenceScore(t *testing.T) {
	assert.Equal(t, 0.91, ConfidenceScore(&FusedResult{VecRank: 2, VecScore: 0.91, RRFScore: 0.03}))
	assert.InDelta(t, 30.0/61, ConfidenceScore(&FusedResult{KeywordRank: 1, RRFScore: 1.0 / 61}), 1e-12)
	assert.Equal(t, 0.8, ConfidenceScore(&FusedResult{KeywordRank: 1, RRFScore: 0.05}))
}

func TestCategorize(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name   string
		scores []float64
		want   Band
	}{
		{"empty", nil, BandNone},
		{"two high", []float64{0.75, 0.71, 0.1}, BandHigh},
		{"single high with strong average", []float64{0.9, 0.6}, BandHigh},
		{"single high with weak average", []float64{0.9, 0.1, 0.1}, BandMedium},
		{"two medium", []float64{0.56, 0.58}, BandMedium},
		{"top medium", []float64{0.6, 0.2}, BandMedium},
		{"top low", []float64{0.45, 0.3}, BandLow},
		{"nothing", []float64{0.39, 0.2}, BandNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.scores, th))
		})
	}
}

func TestParseBand(t *testing.T) {
	b, err := ParseBand(" Medium ")
	require.NoError(t, err)
	assert.Equal(t, BandMedium, b)
	assert.True(t, BandHigh.AtLeast(BandMedium))
	assert.False(t, BandLow.AtLeast(BandMedium))

	_, err = ParseBand("certain")
	assert.Error(t, err)
}

func TestParseOrder(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []int
		ok     bool
	}{
		{"plain", "[2, 0, 1]", []int{2, 0, 1}, true},
		{"wrapped in prose", "Sure! The order is [1,2,0].", []int{1, 2, 0}, true},
		{"partial", "[2]", []int{2, 0, 1}, true},
		{"duplicates and out of range", "[1, 1, 9, -1, 0]", []int{1, 0, 2}, true},
		{"no array", "candidate 2 is best", nil, false},
		{"not numbers", `["a", "b"]`, nil, false},
		{"empty", "[]", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseOrder(tt.output, 3)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReranker(t *testing.T) {
	results := []Result{
		{Chunk: store.Chunk{ID: "a", Text: "first"}},
		{Chunk: store.Chunk{ID: "b", Text: "second"}},
		{Chunk: store.Chunk{ID: "c", Text: "third"}},
	}

	t.Run("reorders inside the window", func(t *testing.T) {
		gen := &scriptedGenerator{replies: []string{"[1, 0]"}}
		got, ok := NewReranker(gen, 2).Rerank(context.Background(), "q", results)
		assert.True(t, ok)
		assert.Equal(t, []string{"b", "a", "c"}, ids(got))
		assert.NotContains(t, gen.prompts[0], "third")
	})

	t.Run("unparseable output keeps order", func(t *testing.T) {
		gen := &scriptedGenerator{replies: []string{"I think b"}}
		got, ok := NewReranker(gen, 10).Rerank(context.Background(), "q", results)
		assert.False(t, ok)
		assert.Equal(t, []string{"a", "b", "c"}, ids(got))
	})

	t.Run("generator failure keeps order", func(t *testing.T) {
		gen := &scriptedGenerator{err: qerrors.ErrCircuitOpen}
		got, ok := NewReranker(gen, 10).Rerank(context.Background(), "q", results)
		assert.False(t, ok)
		assert.Equal(t, []string{"a", "b", "c"}, ids(got))
	})

	t.Run("long candidates are truncated", func(t *testing.T) {
		long := strings.Repeat("x", 400)
		gen := &scriptedGenerator{replies: []string{"[0]"}}
		_, _ = NewReranker(gen, 10).Rerank(context.Background(), "q", []Result{
			{Chunk: store.Chunk{Text: long}}, {Chunk: store.Chunk{Text: "y"}},
		})
		assert.NotContains(t, gen.prompts[0], long[:151])
	})
}

func TestRewriter(t *testing.T) {
	history := []Turn{
		{Role: "user", Content: "Tell me about photosynthesis"},
		{Role: "assistant", Content: "It happens in leaves."},
	}

	tests := []struct {
		name    string
		reply   string
		history []Turn
		want    string
		ok      bool
	}{
		{"accepted", "\"Where does photosynthesis happen?\"\n", history, "Where does photosynthesis happen?", true},
		{"no history", "anything", nil, "where?", false},
		{"too short", "ok", history, "where?", false},
		{"unchanged", "Where?", history, "where?", false},
		{"too long", strings.Repeat("a", 301), history, "where?", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &scriptedGenerator{replies: []string{tt.reply}}
			got, ok := NewRewriter(gen, 5).Rewrite(context.Background(), "where?", tt.history)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRewriter_UsesRecentTurnsOnly(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"full question"}}
	history := []Turn{
		{Content: "oldest turn"},
		{Content: "middle turn"},
		{Content: "newest turn"},
	}

	_, ok := NewRewriter(gen, 2).Rewrite(context.Background(), "and?", history)

	assert.True(t, ok)
	assert.NotContains(t, gen.prompts[0], "oldest turn")
	assert.Contains(t, gen.prompts[0], "newest turn")
}

func TestEngine_FastPath(t *testing.T) {
	// Given an engine with a generator
	gen := &scriptedGenerator{}
	e, _ := newTestEngine(t, Config{}, WithGenerator(gen))

	// When an unambiguous query runs
	resp, err := e.Search(context.Background(), "photosynthesis", Options{})

	// Then the raw results are confident enough and no model call is made
	require.NoError(t, err)
	assert.Equal(t, BandHigh, resp.Band)
	assert.True(t, resp.FastPath)
	assert.False(t, resp.Rewritten)
	assert.Zero(t, gen.Calls())
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "c1_meta", resp.Results[0].Chunk.ID)
	assert.InDelta(t, 1.0, resp.TopScore, 1e-6)
	assert.NotContains(t, ids(resp.Results), "c2_meta")
	assert.Equal(t, int64(7), resp.IndexVersion)
}

func TestEngine_KeywordMatchesFoldedText(t *testing.T) {
	// Given a query without diacritics whose embedding matches nothing
	e, _ := newTestEngine(t, Config{})

	// When searching
	resp, err := e.Search(context.Background(), "quang hop", Options{})

	// Then the Vietnamese sub-item is found through keyword search
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "c1_q1", resp.Results[0].Chunk.ID)
	assert.Zero(t, resp.Results[0].VecScore)
	assert.LessOrEqual(t, resp.Results[0].Score, 0.8)
}

func TestEngine_VisibilityFilter(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name      string
		principal Principal
		wantQ1    bool
	}{
		{"anonymous", Principal{}, false},
		{"unlocked other content", Principal{Unlocked: map[string]bool{"c1": true}}, false},
		{"unlocked", Principal{Unlocked: map[string]bool{"c3": true}}, true},
		{"admin", Principal{Admin: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := e.Search(ctx, "chemistry", Options{Principal: tt.principal})
			require.NoError(t, err)
			got := ids(resp.Results)
			assert.Contains(t, got, "c3_meta", "meta chunks are always visible")
			if tt.wantQ1 {
				assert.Contains(t, got, "c3_q1")
			} else {
				assert.NotContains(t, got, "c3_q1")
			}
		})
	}
}

func TestEngine_RewriteWhenRawQueryIsWeak(t *testing.T) {
	// Given a follow-up question that matches nothing on its own
	gen := &scriptedGenerator{replies: []string{"Photosynthesis in leaves"}}
	e, _ := newTestEngine(t, Config{}, WithGenerator(gen))
	history := []Turn{{Role: "user", Content: "Explain photosynthesis"}}

	// When it is searched with history
	resp, err := e.Search(context.Background(), "what about it?", Options{History: history})

	// Then the rewritten query wins
	require.NoError(t, err)
	assert.False(t, resp.FastPath)
	assert.True(t, resp.Rewritten)
	assert.Equal(t, "Photosynthesis in leaves", resp.Query)
	assert.Equal(t, "what about it?", resp.OriginalQuery)
	assert.Equal(t, BandHigh, resp.Band)
	assert.Equal(t, 1, gen.Calls(), "high band skips rerank")
}

func TestEngine_RerankMediumBand(t *testing.T) {
	// Given a query whose best match is only medium confidence
	gen := &scriptedGenerator{replies: []string{"[1, 0]"}}
	e, _ := newTestEngine(t, Config{}, WithGenerator(gen))

	// When an admin searches
	resp, err := e.Search(context.Background(), "reagents", Options{Principal: Principal{Admin: true}})

	// Then the model's order is applied
	require.NoError(t, err)
	assert.Equal(t, BandMedium, resp.Band)
	assert.True(t, resp.Reranked)
	assert.Equal(t, []string{"c3_meta", "c3_q1"}, ids(resp.Results))
}

func TestEngine_TopK(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	resp, err := e.Search(context.Background(), "photosynthesis", Options{TopK: 1})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestEngine_EmptyQuery(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	_, err := e.Search(context.Background(), "   ", Options{})
	assert.Equal(t, qerrors.ErrCodeQueryEmpty, qerrors.GetCode(err))
}

func TestEngine_EmptyIndex(t *testing.T) {
	e, loader := newTestEngine(t, Config{})
	loader.Set(store.NewIndex(time.Now()))

	resp, err := e.Search(context.Background(), "photosynthesis", Options{})

	require.NoError(t, err)
	assert.Equal(t, BandNone, resp.Band)
	assert.Empty(t, resp.Results)
}

func TestEngine_LoadErrorPropagates(t *testing.T) {
	e, loader := newTestEngine(t, Config{})
	loader.mu.Lock()
	loader.err = qerrors.StorageError("bucket unreachable", nil)
	loader.mu.Unlock()

	_, err := e.Search(context.Background(), "photosynthesis", Options{})

	assert.Equal(t, qerrors.ErrCodeStorageIO, qerrors.GetCode(err))
}

func TestEngine_SnapshotReusedUntilIndexChanges(t *testing.T) {
	e, loader := newTestEngine(t, Config{})
	ctx := context.Background()

	_, err := e.Search(ctx, "photosynthesis", Options{})
	require.NoError(t, err)
	first := e.snap
	_, err = e.Search(ctx, "chemistry", Options{})
	require.NoError(t, err)
	assert.Same(t, first, e.snap)

	loader.Set(testIndex())
	_, err = e.Search(ctx, "photosynthesis", Options{})
	require.NoError(t, err)
	assert.NotSame(t, first, e.snap)
	assert.Zero(t, first.refs.Load(), "retired snapshot is released")
}

func TestEngine_ApproximateVectorSearch(t *testing.T) {
	// Given an ANN threshold below the chunk count
	e, _ := newTestEngine(t, Config{ANNThreshold: 2})

	// When searching
	resp, err := e.Search(context.Background(), "photosynthesis", Options{})

	// Then the graph is used and the best hit is unchanged
	require.NoError(t, err)
	assert.True(t, resp.Approximate)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "c1_meta", resp.Results[0].Chunk.ID)
}

func TestEngine_ConcurrentSearches(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := e.Search(context.Background(), "photosynthesis", Options{})
			assert.NoError(t, err)
			assert.NotEmpty(t, resp.Results)
		}()
	}
	wg.Wait()
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	_, err := NewEngine(nil, testQueries, Config{})
	assert.ErrorIs(t, err, ErrNilDependency)
	_, err = NewEngine(&staticLoader{}, nil, Config{})
	assert.ErrorIs(t, err, ErrNilDependency)
}
