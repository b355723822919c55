package bm25

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexAndSearchRanksByRelevance(t *testing.T) {
	ix := New(DefaultParams)
	ix.Index(1, "the quick brown fox jumps over the lazy dog")
	ix.Index(2, "the dog sat on the mat")
	ix.Index(3, "completely unrelated text about spaceships")

	hits := ix.Search("dog", 10)
	require.Len(t, hits, 2)
	assert.ElementsMatch(t, []int64{1, 2}, []int64{hits[0].DocID, hits[1].DocID})
	// Both contain "dog" once; the shorter document 2 scores higher.
	assert.Equal(t, int64(2), hits[0].DocID)
}

func TestReindexReplacesDocument(t *testing.T) {
	ix := New(DefaultParams)
	ix.Index(1, "apples and oranges")
	ix.Index(1, "bananas only")

	assert.Empty(t, ix.Search("apples", 10))
	hits := ix.Search("bananas", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].DocID)
}

func TestDeleteExcludesFromSearch(t *testing.T) {
	ix := New(DefaultParams)
	ix.Index(1, "hello world")
	ix.Index(2, "hello there")
	ix.Delete(1)

	hits := ix.Search("hello", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(2), hits[0].DocID)
	assert.Equal(t, 1, ix.Len())
}

func TestCompactRemovesTombstones(t *testing.T) {
	ix := New(DefaultParams)
	ix.Index(1, "hello world")
	ix.Delete(1)
	ix.Compact()

	assert.Empty(t, ix.postings["hello"])
	assert.Equal(t, 0, ix.Len())
}

func TestSearchEmptyIndex(t *testing.T) {
	ix := New(DefaultParams)
	assert.Empty(t, ix.Search("anything", 10))
}

func TestSearchKZero(t *testing.T) {
	ix := New(DefaultParams)
	ix.Index(1, "hello")
	assert.Empty(t, ix.Search("hello", 0))
}

func TestDumpLoadRoundTrip(t *testing.T) {
	ix := New(DefaultParams)
	ix.Index(1, "the quick brown fox")
	ix.Index(2, "the lazy dog sleeps")
	ix.Delete(2)

	var buf bytes.Buffer
	require.NoError(t, ix.Dump(&buf))

	loaded, err := Load(&buf, DefaultParams)
	require.NoError(t, err)
	assert.Equal(t, ix.Len(), loaded.Len())

	hits := loaded.Search("fox", 10)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].DocID)
	assert.Empty(t, loaded.Search("dog", 10))
}

func TestLoadRejectsCorruptMagic(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("not a real dump at all")), DefaultParams)
	assert.ErrorIs(t, err, ErrCorruptDump)
}
