package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/quizrag/internal/store"
)

// slowLoader blocks each load on release and counts loads.
type slowLoader struct {
	loads   atomic.Int32
	release chan struct{}
	err     error
	version atomic.Int64
}

func (l *slowLoader) Load(_ context.Context, _ string) (*store.Index, error) {
	l.loads.Add(1)
	if l.release != nil {
		<-l.release
	}
	if l.err != nil {
		return nil, l.err
	}
	idx := store.NewIndex(time.Now())
	idx.Version = l.version.Add(1)
	idx.TotalChunks = 4
	return idx, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestGet_SingleFlight(t *testing.T) {
	// Given a cold cache whose load blocks
	loader := &slowLoader{release: make(chan struct{})}
	c := New(loader)

	// When N goroutines miss at once
	const n = 32
	results := make([]*store.Index, n)
	var started, done sync.WaitGroup
	started.Add(n)
	done.Add(n)
	for i := range n {
		go func() {
			defer done.Done()
			started.Done()
			results[i] = c.Get(context.Background())
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(loader.release)
	done.Wait()

	// Then exactly one load ran and everyone got the same index
	assert.Equal(t, int32(1), loader.loads.Load())
	for _, idx := range results {
		require.NotNil(t, idx)
		assert.Same(t, results[0], idx)
	}
}

func TestGet_TTL(t *testing.T) {
	// Given a warm cache with a one-minute TTL
	clock := &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	loader := &slowLoader{}
	c := New(loader, WithTTL(time.Minute), WithClock(clock.Now))
	first := c.Get(context.Background())
	require.NotNil(t, first)

	// When read again before expiry
	clock.Advance(59 * time.Second)
	assert.Same(t, first, c.Get(context.Background()))
	assert.Equal(t, int32(1), loader.loads.Load())

	// Then after expiry it reloads
	clock.Advance(2 * time.Second)
	second := c.Get(context.Background())
	require.NotNil(t, second)
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, int32(2), loader.loads.Load())
}

func TestGet_FailureIsNotCached(t *testing.T) {
	// Given a loader that fails
	loader := &slowLoader{err: errors.New("bucket unreachable")}
	c := New(loader)

	// When loading fails
	assert.Nil(t, c.Get(context.Background()))
	_, err := c.Load(context.Background())
	require.Error(t, err)

	// Then the next call tries again and can succeed
	loader.err = nil
	assert.NotNil(t, c.Get(context.Background()))
	assert.Equal(t, int32(3), loader.loads.Load())
}

func TestInvalidate(t *testing.T) {
	// Given a warm cache
	loader := &slowLoader{}
	c := New(loader)
	require.NotNil(t, c.Get(context.Background()))
	assert.True(t, c.Stats().Cached)

	// When invalidated
	c.Invalidate()

	// Then stats show nothing cached and the next get reloads
	assert.False(t, c.Stats().Cached)
	idx := c.Get(context.Background())
	require.NotNil(t, idx)
	assert.Equal(t, int64(2), idx.Version)
}

func TestInvalidate_DuringLoadIsNotOverwritten(t *testing.T) {
	// Given a load in flight
	loader := &slowLoader{release: make(chan struct{})}
	c := New(loader)
	got := make(chan *store.Index)
	go func() { got <- c.Get(context.Background()) }()
	require.Eventually(t, func() bool { return loader.loads.Load() == 1 }, time.Second, time.Millisecond)

	// When the cache is invalidated before the load finishes
	c.Invalidate()
	close(loader.release)
	<-got

	// Then the stale result is not cached
	assert.False(t, c.Stats().Cached)
}

func TestStats(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	c := New(&slowLoader{}, WithClock(clock.Now))
	assert.Equal(t, Stats{}, c.Stats())

	require.NoError(t, c.Preload(context.Background()))
	clock.Advance(time.Minute)

	st := c.Stats()
	assert.True(t, st.Cached)
	assert.Equal(t, time.Minute, st.Age)
	assert.Equal(t, 4*time.Minute, st.ExpiresIn)
	assert.Equal(t, 4, st.TotalChunks)
	assert.Equal(t, int64(1), st.Version)
}
