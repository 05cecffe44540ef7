package maintenance

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_AcquireRelease(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "sub", "maintenance.lock"))

	require.NoError(t, l.Acquire())
	assert.True(t, l.Held())
	require.NoError(t, l.Acquire(), "re-acquire by the holder is a no-op")

	require.NoError(t, l.Release())
	assert.False(t, l.Held())
	require.NoError(t, l.Release())
}

func TestLock_SecondHolderIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maintenance.lock")
	rebuild := New(path)
	other := New(path)

	require.NoError(t, rebuild.Acquire())
	defer func() { _ = rebuild.Release() }()

	assert.ErrorIs(t, other.Acquire(), ErrHeld)
}

func TestLock_Active(t *testing.T) {
	// Given: a processor-side view of the lock and a rebuild-side holder
	path := filepath.Join(t.TempDir(), "maintenance.lock")
	processor := New(path)
	rebuild := New(path)

	// Then: nothing is active before the rebuild starts
	active, err := processor.Active()
	require.NoError(t, err)
	assert.False(t, active)

	// When: the rebuild takes the lock
	require.NoError(t, rebuild.Acquire())
	active, err = processor.Active()
	require.NoError(t, err)
	assert.True(t, active)

	// When: the rebuild finishes
	require.NoError(t, rebuild.Release())
	active, err = processor.Active()
	require.NoError(t, err)
	assert.False(t, active)
}

func TestLock_With(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "m.lock"))
	sentinel := errors.New("rebuild failed")

	err := l.With(func() error {
		assert.True(t, l.Held())
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.False(t, l.Held())
}
