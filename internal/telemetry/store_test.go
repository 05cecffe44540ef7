package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_SummaryByDateRange(t *testing.T) {
	// Given: counts saved on two days
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.SaveBandCounts("2026-01-01", map[string]int64{"high": 2}))
	require.NoError(t, s.SaveBandCounts("2026-01-02", map[string]int64{"high": 1, "none": 3}))
	require.NoError(t, s.SavePathCounts("2026-01-02", map[Path]int64{PathFastPath: 1}))
	require.NoError(t, s.SaveLatencyCounts("2026-01-02", map[LatencyBucket]int64{BucketP50: 4}))

	// When: summarizing only the second day
	sum, err := s.Summary("2026-01-02", "2026-01-02", 5)
	require.NoError(t, err)

	// Then: the first day is excluded
	assert.Equal(t, int64(4), sum.TotalSearches)
	assert.Equal(t, int64(1), sum.Bands["high"])
	assert.Equal(t, int64(3), sum.Bands["none"])
	assert.Equal(t, int64(1), sum.Paths[PathFastPath])
	assert.Equal(t, int64(4), sum.LatencyDistribution[BucketP50])
}

func TestSQLiteStore_InsufficientQueriesAccumulate(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "t.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	seen := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.AddInsufficientQueries(map[string]int64{"a": 1, "b": 2}, seen))
	require.NoError(t, s.AddInsufficientQueries(map[string]int64{"a": 5}, seen))

	sum, err := s.Summary("2026-05-01", "2026-05-01", 1)
	require.NoError(t, err)
	require.Len(t, sum.InsufficientQueries, 1)
	assert.Equal(t, QueryCount{Query: "a", Count: 6}, sum.InsufficientQueries[0])
}

func TestSQLiteStore_EmptyWritesAreNoops(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.SaveBandCounts("2026-01-01", nil))
	require.NoError(t, s.UpsertTermCounts(map[string]int64{}))

	sum, err := s.Summary("2000-01-01", "2100-01-01", 10)
	require.NoError(t, err)
	assert.Zero(t, sum.TotalSearches)
	assert.Empty(t, sum.TopTerms)
}
