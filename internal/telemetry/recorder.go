// Package telemetry records retrieval quality signals locally: confidence
// bands, insufficient-data queries, fast-path versus rewrite usage and
// latency. Nothing is reported externally.
package telemetry

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/quizrag/internal/search"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// Path names how a search reached its results.
type Path string

const (
	PathFastPath  Path = "fast_path"
	PathRewrite   Path = "rewrite_attempted"
	PathRewritten Path = "rewritten"
	PathReranked  Path = "reranked"
)

// SearchEvent is one completed retrieval.
type SearchEvent struct {
	Query        string
	Band         string
	Insufficient bool
	FastPath     bool
	Rewritten    bool
	Reranked     bool
	ResultCount  int
	Latency      time.Duration
	Timestamp    time.Time
}

// QueryCount is a query and how often it was seen.
type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Summary aggregates search telemetry.
type Summary struct {
	TotalSearches       int64                   `json:"total_searches"`
	Bands               map[string]int64        `json:"bands"`
	Paths               map[Path]int64          `json:"paths"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	InsufficientQueries []QueryCount            `json:"insufficient_queries"`
	TopTerms            []TermCount             `json:"top_terms"`
	Since               time.Time               `json:"since,omitzero"`
}

// InsufficientCount sums the insufficient query counts.
func (s *Summary) InsufficientCount() int64 {
	var n int64
	for _, q := range s.InsufficientQueries {
		n += q.Count
	}
	return n
}

// FastPathRate is the share of searches answered without rewriting.
func (s *Summary) FastPathRate() float64 {
	if s.TotalSearches == 0 {
		return 0
	}
	return float64(s.Paths[PathFastPath]) / float64(s.TotalSearches)
}

// Store persists telemetry deltas.
type Store interface {
	SaveBandCounts(date string, counts map[string]int64) error
	SavePathCounts(date string, counts map[Path]int64) error
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	UpsertTermCounts(terms map[string]int64) error
	AddInsufficientQueries(queries map[string]int64, seen time.Time) error

	// Summary aggregates the dates in [from, to] and the top limit
	// insufficient queries and terms.
	Summary(from, to string, limit int) (*Summary, error)

	Close() error
}

// Config configures a Recorder.
type Config struct {
	TopTermsCapacity int           // Max terms to track (default: 100)
	QueriesCapacity  int           // Max distinct insufficient queries (default: 100)
	FlushInterval    time.Duration // 0 disables auto-flush
	Clock            func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity: 100,
		QueriesCapacity:  100,
		FlushInterval:    30 * time.Second,
	}
}

// counts is one set of aggregates.
type counts struct {
	total        int64
	bands        map[string]int64
	paths        map[Path]int64
	latencies    map[LatencyBucket]int64
	insufficient map[string]int64
	terms        map[string]int64
}

func newCounts() counts {
	return counts{
		bands:        make(map[string]int64),
		paths:        make(map[Path]int64),
		latencies:    make(map[LatencyBucket]int64),
		insufficient: make(map[string]int64),
		terms:        make(map[string]int64),
	}
}

func (c *counts) empty() bool { return c.total == 0 }

// Recorder collects search telemetry in memory and flushes the increments
// since the last flush to a Store. Thread-safe for concurrent access.
type Recorder struct {
	mu sync.Mutex

	// Totals since start, for in-process reporting.
	bands     map[string]int64
	paths     map[Path]int64
	latencies map[LatencyBucket]int64
	total     int64
	topTerms  *lru.Cache[string, int64]
	queries   *lru.Cache[string, int64]
	startTime time.Time

	// pending holds increments not yet flushed.
	pending counts

	store  Store
	config Config
	ticker *time.Ticker
	stopCh chan struct{}
	closed bool
}

// NewRecorder creates a recorder. If store is nil, metrics are only kept
// in memory.
func NewRecorder(store Store, cfg Config) *Recorder {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.QueriesCapacity <= 0 {
		cfg.QueriesCapacity = 100
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	queries, _ := lru.New[string, int64](cfg.QueriesCapacity)

	r := &Recorder{
		bands:     make(map[string]int64),
		paths:     make(map[Path]int64),
		latencies: make(map[LatencyBucket]int64),
		topTerms:  topTerms,
		queries:   queries,
		startTime: cfg.Clock(),
		pending:   newCounts(),
		store:     store,
		config:    cfg,
		stopCh:    make(chan struct{}),
	}
	if cfg.FlushInterval > 0 && store != nil {
		r.ticker = time.NewTicker(cfg.FlushInterval)
		go r.flushLoop()
	}
	return r
}

func (r *Recorder) flushLoop() {
	for {
		select {
		case <-r.ticker.C:
			if err := r.Flush(); err != nil {
				slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-r.stopCh:
			return
		}
	}
}

// RecordSearch captures one search. It never blocks on I/O.
func (r *Recorder) RecordSearch(e SearchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.total++
	r.pending.total++

	r.bands[e.Band]++
	r.pending.bands[e.Band]++

	bucket := LatencyToBucket(e.Latency)
	r.latencies[bucket]++
	r.pending.latencies[bucket]++

	for _, p := range pathsOf(e) {
		r.paths[p]++
		r.pending.paths[p]++
	}

	for _, term := range ExtractTerms(e.Query) {
		n, _ := r.topTerms.Get(term)
		r.topTerms.Add(term, n+1)
		r.pending.terms[term]++
	}

	if e.Insufficient {
		q := normalizeQuery(e.Query)
		n, _ := r.queries.Get(q)
		r.queries.Add(q, n+1)
		r.pending.insufficient[q]++
	}
}

func pathsOf(e SearchEvent) []Path {
	var out []Path
	if e.FastPath {
		out = append(out, PathFastPath)
	} else {
		out = append(out, PathRewrite)
	}
	if e.Rewritten {
		out = append(out, PathRewritten)
	}
	if e.Reranked {
		out = append(out, PathReranked)
	}
	return out
}

// ExtractTerms extracts searchable terms from a query string. Terms are
// folded the way the keyword index folds them and filtered to minimum
// length 3, so "Toán học" and "toan hoc" count as the same terms.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range search.Tokenize(query) {
		if utf8.RuneCountInString(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Snapshot returns in-process totals since the recorder started.
func (r *Recorder) Snapshot() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Summary{
		TotalSearches:       r.total,
		Bands:               make(map[string]int64, len(r.bands)),
		Paths:               make(map[Path]int64, len(r.paths)),
		LatencyDistribution: make(map[LatencyBucket]int64, len(r.latencies)),
		Since:               r.startTime,
	}
	for k, v := range r.bands {
		s.Bands[k] = v
	}
	for k, v := range r.paths {
		s.Paths[k] = v
	}
	for k, v := range r.latencies {
		s.LatencyDistribution[k] = v
	}
	for _, q := range r.queries.Keys() {
		if n, ok := r.queries.Peek(q); ok {
			s.InsufficientQueries = append(s.InsufficientQueries, QueryCount{Query: q, Count: n})
		}
	}
	for _, t := range r.topTerms.Keys() {
		if n, ok := r.topTerms.Peek(t); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: t, Count: n})
		}
	}
	sort.Slice(s.InsufficientQueries, func(i, j int) bool {
		a, b := s.InsufficientQueries[i], s.InsufficientQueries[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Query < b.Query
	})
	sort.Slice(s.TopTerms, func(i, j int) bool {
		a, b := s.TopTerms[i], s.TopTerms[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Term < b.Term
	})
	return s
}

// Flush persists the increments recorded since the previous flush.
// Safe to call even if no store is configured. On failure the increments
// are kept for the next flush.
func (r *Recorder) Flush() error {
	if r.store == nil {
		return nil
	}

	r.mu.Lock()
	batch := r.pending
	r.pending = newCounts()
	r.mu.Unlock()

	if batch.empty() {
		return nil
	}
	if err := r.write(batch); err != nil {
		r.mu.Lock()
		r.pending.merge(batch)
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Recorder) write(c counts) error {
	now := r.config.Clock()
	today := now.Format("2006-01-02")
	if err := r.store.SaveBandCounts(today, c.bands); err != nil {
		return err
	}
	if err := r.store.SavePathCounts(today, c.paths); err != nil {
		return err
	}
	if err := r.store.SaveLatencyCounts(today, c.latencies); err != nil {
		return err
	}
	if err := r.store.UpsertTermCounts(c.terms); err != nil {
		return err
	}
	return r.store.AddInsufficientQueries(c.insufficient, now)
}

// merge adds other into c. A partially written batch may be counted
// twice on retry; telemetry tolerates that.
func (c *counts) merge(other counts) {
	c.total += other.total
	for k, v := range other.bands {
		c.bands[k] += v
	}
	for k, v := range other.paths {
		c.paths[k] += v
	}
	for k, v := range other.latencies {
		c.latencies[k] += v
	}
	for k, v := range other.insufficient {
		c.insufficient[k] += v
	}
	for k, v := range other.terms {
		c.terms[k] += v
	}
}

// Close flushes and stops the auto-flush loop.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.ticker != nil {
		r.ticker.Stop()
		close(r.stopCh)
	}
	return r.Flush()
}
