package mmapstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRetrieveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "vectors.dat"), 4)
	require.NoError(t, err)
	defer s.Close()

	vec := []float32{1, 2, 3, 4}
	require.NoError(t, s.Store(1, vec))

	got, err := s.Vector(1)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestRetrieveNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "vectors.dat"), 4)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Vector(42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteThenFreeListReuse(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "vectors.dat"), 4)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Store(1, []float32{1, 1, 1, 1}))
	require.NoError(t, s.Delete(1))
	assert.False(t, s.Contains(1))

	// 17 maps to the same shard as 1, so it takes the freed slot.
	require.NoError(t, s.Store(17, []float32{2, 2, 2, 2}))
	got, err := s.Vector(17)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 2, 2, 2}, got)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 0.0, s.FragmentationRatio())
}

func TestReopenRebuildsIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.dat")

	s, err := Open(path, 3)
	require.NoError(t, err)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.Store(i, []float32{float32(i), 0, 0}))
	}
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	reopened, err := Open(path, 3)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 5, reopened.Len())
	for i := int64(1); i <= 5; i++ {
		got, err := reopened.Vector(i)
		require.NoError(t, err)
		assert.Equal(t, []float32{float32(i), 0, 0}, got)
	}
}

func TestCompactFullRewriteShrinksFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "vectors.dat"), 4)
	require.NoError(t, err)
	defer s.Close()

	for i := int64(1); i <= 100; i++ {
		require.NoError(t, s.Store(i, []float32{float32(i), 0, 0, 0}))
	}
	for i := int64(1); i <= 50; i++ {
		require.NoError(t, s.Delete(i))
	}

	require.NoError(t, s.Compact(context.Background(), CompactFullRewrite))
	assert.Equal(t, 50, s.Len())
	assert.Equal(t, 50*slotSize(4), s.fileSize)

	for i := int64(51); i <= 100; i++ {
		got, err := s.Vector(i)
		require.NoError(t, err)
		assert.Equal(t, []float32{float32(i), 0, 0, 0}, got)
	}
}

func TestFragmentationRatio(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "vectors.dat"), 2)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Store(1, []float32{1, 1}))
	require.NoError(t, s.Store(2, []float32{2, 2}))
	assert.Equal(t, 0.0, s.FragmentationRatio())

	require.NoError(t, s.Delete(1))
	assert.InDelta(t, 0.5, s.FragmentationRatio(), 1e-9)
}
