package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/ngram"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"

	"github.com/Aman-CERP/quizrag/internal/store"
)

const (
	// FoldTokenizerName splits on non-alphanumerics and folds diacritics.
	FoldTokenizerName = "quiz_fold"

	// StopFilterName drops common English and Vietnamese function words.
	StopFilterName = "quiz_stop"

	textAnalyzerName  = "quiz_text"
	gramAnalyzerName  = "quiz_grams"
	trigramFilterName = "quiz_trigram"

	// gramBoost weights partial-word matches below whole-word matches.
	gramBoost = 0.3
)

func init() {
	_ = registry.RegisterTokenizer(FoldTokenizerName, foldTokenizerConstructor)
	_ = registry.RegisterTokenFilter(StopFilterName, stopFilterConstructor)
}

// DefaultStopWords are matched after folding.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "is", "of", "or", "the", "to", "in", "on", "for", "what", "which", "how",
	"la", "cua", "va", "cac", "nhung", "mot", "nao", "gi", "thi", "co", "khong", "duoc", "trong", "cho",
}

// keywordDoc is the document shape indexed by bleve. Both fields carry the
// chunk text and differ only in their analyzer.
type keywordDoc struct {
	Text  string `json:"text"`
	Grams string `json:"grams"`
}

// KeywordIndex is an in-memory bleve index over one snapshot's chunks.
// Document ids are chunk positions so hits map straight back to the
// snapshot's bitmaps.
type KeywordIndex struct {
	index bleve.Index
	size  int
}

// Hit is one scored chunk position from a single retriever.
type Hit struct {
	Pos   int
	Score float64
}

// NewKeywordIndex indexes every chunk's text.
func NewKeywordIndex(chunks []store.IndexedChunk) (*KeywordIndex, error) {
	m, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}
	idx, err := bleve.NewMemOnly(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}

	batch := idx.NewBatch()
	for i, c := range chunks {
		doc := keywordDoc{Text: c.Text, Grams: c.Text}
		if err := batch.Index(posID(i), doc); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to execute batch: %w", err)
	}
	return &KeywordIndex{index: idx, size: len(chunks)}, nil
}

func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()

	if err := m.AddCustomTokenFilter(trigramFilterName, map[string]interface{}{
		"type": ngram.Name,
		"min":  3.0,
		"max":  3.0,
	}); err != nil {
		return nil, err
	}
	if err := m.AddCustomAnalyzer(textAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     FoldTokenizerName,
		"token_filters": []string{StopFilterName},
	}); err != nil {
		return nil, err
	}
	if err := m.AddCustomAnalyzer(gramAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     FoldTokenizerName,
		"token_filters": []string{StopFilterName, trigramFilterName},
	}); err != nil {
		return nil, err
	}

	text := bleve.NewTextFieldMapping()
	text.Analyzer = textAnalyzerName
	text.Store = false
	text.IncludeTermVectors = false

	grams := bleve.NewTextFieldMapping()
	grams.Analyzer = gramAnalyzerName
	grams.Store = false
	grams.IncludeTermVectors = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("text", text)
	doc.AddFieldMappingsAt("grams", grams)

	m.DefaultMapping = doc
	m.DefaultAnalyzer = textAnalyzerName
	return m, nil
}

// Search scores chunks against query. size bounds the number of hits;
// size <= 0 returns every match.
func (k *KeywordIndex) Search(ctx context.Context, query string, size int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" || k.size == 0 {
		return []Hit{}, nil
	}
	if size <= 0 || size > k.size {
		size = k.size
	}

	whole := bleve.NewMatchQuery(query)
	whole.SetField("text")
	partial := bleve.NewMatchQuery(query)
	partial.SetField("grams")
	partial.SetBoost(gramBoost)

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(whole, partial), size, 0, false)
	res, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		pos, ok := parsePosID(h.ID)
		if !ok {
			continue
		}
		hits = append(hits, Hit{Pos: pos, Score: h.Score})
	}
	return hits, nil
}

// Close releases the bleve index.
func (k *KeywordIndex) Close() error {
	return k.index.Close()
}

func posID(i int) string {
	return strconv.Itoa(i)
}

func parsePosID(id string) (int, bool) {
	n, err := strconv.Atoi(id)
	return n, err == nil
}

func foldTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &foldTokenizer{}, nil
}

// foldTokenizer emits folded alphanumeric runs with offsets into the
// original input.
type foldTokenizer struct{}

func (t *foldTokenizer) Tokenize(input []byte) analysis.TokenStream {
	stream := make(analysis.TokenStream, 0, 16)
	pos := 1
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		term := Fold(string(input[start:end]))
		stream = append(stream, &analysis.Token{
			Term:     []byte(term),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		start = -1
	}

	for i := 0; i < len(input); {
		r, w := utf8.DecodeRune(input[i:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) {
			if start < 0 {
				start = i
			}
		} else {
			flush(i)
		}
		i += w
	}
	flush(len(input))
	return stream
}

func stopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	stop := make(map[string]struct{}, len(DefaultStopWords))
	for _, w := range DefaultStopWords {
		stop[w] = struct{}{}
	}
	return &stopFilter{stopWords: stop}, nil
}

type stopFilter struct {
	stopWords map[string]struct{}
}

func (f *stopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[string(token.Term)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
