package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a telemetry database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS daily_counts (
			date TEXT NOT NULL,
			metric TEXT NOT NULL,
			key TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (date, metric, key)
		);

		CREATE TABLE IF NOT EXISTS query_terms (
			term TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0,
			last_seen TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS insufficient_queries (
			query TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0,
			last_seen TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);
		CREATE INDEX IF NOT EXISTS idx_insufficient_count ON insufficient_queries(count DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create telemetry schema: %w", err)
	}
	return nil
}

const (
	metricBand    = "band"
	metricPath    = "path"
	metricLatency = "latency"
)

func (s *SQLiteStore) saveDaily(date, metric string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO daily_counts (date, metric, key, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date, metric, key) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for key, count := range counts {
		if _, err := stmt.Exec(date, metric, key, count); err != nil {
			return fmt.Errorf("failed to save %s count: %w", metric, err)
		}
	}
	return tx.Commit()
}

// SaveBandCounts adds per-band search counts for a date.
func (s *SQLiteStore) SaveBandCounts(date string, counts map[string]int64) error {
	return s.saveDaily(date, metricBand, counts)
}

// SavePathCounts adds search path counts for a date.
func (s *SQLiteStore) SavePathCounts(date string, counts map[Path]int64) error {
	m := make(map[string]int64, len(counts))
	for k, v := range counts {
		m[string(k)] = v
	}
	return s.saveDaily(date, metricPath, m)
}

// SaveLatencyCounts adds latency bucket counts for a date.
func (s *SQLiteStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	m := make(map[string]int64, len(counts))
	for k, v := range counts {
		m[string(k)] = v
	}
	return s.saveDaily(date, metricLatency, m)
}

func (s *SQLiteStore) upsertCounted(table, column string, counts map[string]int64, seen time.Time) error {
	if len(counts) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(fmt.Sprintf(`
		INSERT INTO %s (%s, count, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(%s) DO UPDATE SET
			count = count + excluded.count,
			last_seen = excluded.last_seen
	`, table, column, column))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	ts := seen.UTC().Format(time.RFC3339)
	for key, count := range counts {
		if _, err := stmt.Exec(key, count, ts); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", column, err)
		}
	}
	return tx.Commit()
}

// UpsertTermCounts adds to the cumulative term counts.
func (s *SQLiteStore) UpsertTermCounts(terms map[string]int64) error {
	return s.upsertCounted("query_terms", "term", terms, time.Now())
}

// AddInsufficientQueries adds to the cumulative insufficient query counts.
func (s *SQLiteStore) AddInsufficientQueries(queries map[string]int64, seen time.Time) error {
	return s.upsertCounted("insufficient_queries", "query", queries, seen)
}

// Summary aggregates the dates in [from, to] (YYYY-MM-DD, inclusive).
func (s *SQLiteStore) Summary(from, to string, limit int) (*Summary, error) {
	sum := &Summary{
		Bands:               make(map[string]int64),
		Paths:               make(map[Path]int64),
		LatencyDistribution: make(map[LatencyBucket]int64),
	}

	rows, err := s.db.Query(`
		SELECT metric, key, SUM(count) FROM daily_counts
		WHERE date >= ? AND date <= ?
		GROUP BY metric, key
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var metric, key string
		var count int64
		if err := rows.Scan(&metric, &key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan daily count: %w", err)
		}
		switch metric {
		case metricBand:
			sum.Bands[key] = count
			sum.TotalSearches += count
		case metricPath:
			sum.Paths[Path(key)] = count
		case metricLatency:
			sum.LatencyDistribution[LatencyBucket(key)] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 10
	}
	sum.InsufficientQueries, err = s.topQueries(limit)
	if err != nil {
		return nil, err
	}
	sum.TopTerms, err = s.topTerms(limit)
	if err != nil {
		return nil, err
	}
	return sum, nil
}

func (s *SQLiteStore) topQueries(limit int) ([]QueryCount, error) {
	rows, err := s.db.Query(`
		SELECT query, count FROM insufficient_queries
		ORDER BY count DESC, query ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query insufficient queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []QueryCount
	for rows.Next() {
		var q QueryCount
		if err := rows.Scan(&q.Query, &q.Count); err != nil {
			return nil, fmt.Errorf("failed to scan query: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) topTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`
		SELECT term, count FROM query_terms
		ORDER BY count DESC, term ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query terms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TermCount
	for rows.Next() {
		var t TermCount
		if err := rows.Scan(&t.Term, &t.Count); err != nil {
			return nil, fmt.Errorf("failed to scan term: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
