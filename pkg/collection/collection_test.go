package collection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velesdb/velesdb/pkg/fusion"
)

func openTestCollection(t *testing.T, dim int) *Collection {
	t.Helper()
	opts := DefaultOptions(dim)
	c, err := Open(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func vec(vals ...float32) []float32 { return vals }

func TestUpsertGetDelete(t *testing.T) {
	c := openTestCollection(t, 3)
	require.NoError(t, c.Upsert(Point{ID: 1, Vector: vec(1, 0, 0), Payload: map[string]any{"name": "a"}}))

	payload, err := c.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "a", payload["name"])
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Delete(1))
	assert.Equal(t, 0, c.Len())
	_, err = c.Get(1)
	assert.Error(t, err)
}

func TestReupsertReplacesPayloadAndVector(t *testing.T) {
	c := openTestCollection(t, 3)
	require.NoError(t, c.Upsert(Point{ID: 1, Vector: vec(1, 0, 0), Payload: map[string]any{"v": 1}}))
	require.NoError(t, c.Upsert(Point{ID: 1, Vector: vec(0, 1, 0), Payload: map[string]any{"v": 2}}))

	payload, err := c.Get(1)
	require.NoError(t, err)
	assert.Equal(t, float64(2), payload["v"])
	assert.Equal(t, 1, c.Len())
}

func TestSearchReturnsNearestByCosine(t *testing.T) {
	c := openTestCollection(t, 2)
	require.NoError(t, c.Upsert(Point{ID: 1, Vector: vec(1, 0), Payload: map[string]any{"tag": "x"}}))
	require.NoError(t, c.Upsert(Point{ID: 2, Vector: vec(0, 1), Payload: map[string]any{"tag": "y"}}))
	require.NoError(t, c.Upsert(Point{ID: 3, Vector: vec(0.9, 0.1), Payload: map[string]any{"tag": "x"}}))

	results, err := c.Search(vec(1, 0), SearchOptions{K: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ID)
}

func TestSearchAppliesFilter(t *testing.T) {
	c := openTestCollection(t, 2)
	require.NoError(t, c.Upsert(Point{ID: 1, Vector: vec(1, 0), Payload: map[string]any{"tag": "x"}}))
	require.NoError(t, c.Upsert(Point{ID: 2, Vector: vec(0.9, 0.1), Payload: map[string]any{"tag": "y"}}))

	results, err := c.Search(vec(1, 0), SearchOptions{
		K:          2,
		Filter:     NewFilter(FilterEQ, "tag", "y"),
		Oversample: 4,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].ID)
}

func TestBatchSearchPreservesInputOrder(t *testing.T) {
	c := openTestCollection(t, 2)
	require.NoError(t, c.Upsert(Point{ID: 1, Vector: vec(1, 0), Payload: map[string]any{"tag": "x"}}))
	require.NoError(t, c.Upsert(Point{ID: 2, Vector: vec(0, 1), Payload: map[string]any{"tag": "y"}}))

	queries := [][]float32{vec(1, 0), vec(0, 1)}
	results, err := c.BatchSearch(context.Background(), queries, SearchOptions{K: 1})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Len(t, results[0], 1)
	require.Len(t, results[1], 1)
	assert.Equal(t, int64(1), results[0][0].ID)
	assert.Equal(t, int64(2), results[1][0].ID)
}

func TestSearchTextRanksBM25(t *testing.T) {
	c := openTestCollection(t, 2)
	require.NoError(t, c.Upsert(Point{ID: 1, Vector: vec(1, 0), Text: "the quick brown fox"}))
	require.NoError(t, c.Upsert(Point{ID: 2, Vector: vec(0, 1), Text: "lorem ipsum dolor"}))

	hits, err := c.SearchText("fox", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].DocID)
}

func TestHybridSearchFusesVectorAndText(t *testing.T) {
	c := openTestCollection(t, 2)
	require.NoError(t, c.Upsert(Point{ID: 1, Vector: vec(1, 0), Text: "fox jumps"}))
	require.NoError(t, c.Upsert(Point{ID: 2, Vector: vec(0, 1), Text: "unrelated text"}))

	results, err := c.HybridSearch(vec(1, 0), "fox", 2, fusion.RRF)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, int64(1), results[0].ID)
}

func TestFlushIsIdempotent(t *testing.T) {
	c := openTestCollection(t, 2)
	require.NoError(t, c.Upsert(Point{ID: 1, Vector: vec(1, 0)}))
	require.NoError(t, c.Flush())
	require.NoError(t, c.Flush())
}

func TestDeleteUnknownPointErrors(t *testing.T) {
	c := openTestCollection(t, 2)
	assert.Error(t, c.Delete(99))
}

func TestGraphIsSharedAcrossCalls(t *testing.T) {
	c := openTestCollection(t, 2)
	g1 := c.Graph()
	g2 := c.Graph()
	assert.Same(t, g1, g2)
}
