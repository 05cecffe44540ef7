package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing object", func(t *testing.T) {
		ok, err := s.Exists(ctx, "nope.json")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.Get(ctx, "nope.json")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.Stat(ctx, "nope.json")
		assert.ErrorIs(t, err, ErrNotFound)

		assert.NoError(t, s.Delete(ctx, "nope.json"))
	})

	t.Run("put get stat", func(t *testing.T) {
		meta := map[string]string{"version": "3", "total-chunks": "12"}
		require.NoError(t, s.Put(ctx, "index/quiz-index.json", []byte(`{"v":3}`), meta))

		ok, err := s.Exists(ctx, "index/quiz-index.json")
		require.NoError(t, err)
		assert.True(t, ok)

		data, err := s.Get(ctx, "index/quiz-index.json")
		require.NoError(t, err)
		assert.Equal(t, `{"v":3}`, string(data))

		info, err := s.Stat(ctx, "index/quiz-index.json")
		require.NoError(t, err)
		assert.Equal(t, int64(7), info.Size)
		assert.Equal(t, "3", info.Metadata["version"])
		assert.Equal(t, "12", info.Metadata["total-chunks"])
	})

	t.Run("copy keeps metadata", func(t *testing.T) {
		require.NoError(t, s.Copy(ctx, "index/quiz-index.json", "backups/quiz-index_1.json"))

		data, err := s.Get(ctx, "backups/quiz-index_1.json")
		require.NoError(t, err)
		assert.Equal(t, `{"v":3}`, string(data))

		info, err := s.Stat(ctx, "backups/quiz-index_1.json")
		require.NoError(t, err)
		assert.Equal(t, "3", info.Metadata["version"])

		assert.ErrorIs(t, s.Copy(ctx, "missing", "x"), ErrNotFound)
	})

	t.Run("list by prefix sorted", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "backups/quiz-index_0.json", []byte("a"), nil))

		objs, err := s.List(ctx, "backups/")
		require.NoError(t, err)
		require.Len(t, objs, 2)
		assert.Equal(t, "backups/quiz-index_0.json", objs[0].Path)
		assert.Equal(t, "backups/quiz-index_1.json", objs[1].Path)
	})

	t.Run("overwrite and delete", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "index/quiz-index.json", []byte(`{"v":4}`), map[string]string{"version": "4"}))
		info, err := s.Stat(ctx, "index/quiz-index.json")
		require.NoError(t, err)
		assert.Equal(t, "4", info.Metadata["version"])

		require.NoError(t, s.Delete(ctx, "index/quiz-index.json"))
		ok, err := s.Exists(ctx, "index/quiz-index.json")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestLocalStore_Contract(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	runStoreContract(t, s)
}

func TestLocalStore_ListSkipsMetadataSidecars(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "a.json", []byte("1"), map[string]string{"version": "1"}))

	objs, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "a.json", objs[0].Path)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "k", []byte("abc"), nil))

	data, err := s.Get(ctx, "k")
	require.NoError(t, err)
	data[0] = 'z'

	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}
