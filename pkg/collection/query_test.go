package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDocs(t *testing.T, c *Collection) {
	t.Helper()
	require.NoError(t, c.Upsert(Point{ID: 1, Vector: vec(1, 0, 0), Payload: map[string]any{"category": "a", "price": float64(10)}}))
	require.NoError(t, c.Upsert(Point{ID: 2, Vector: vec(0, 1, 0), Payload: map[string]any{"category": "a", "price": float64(25)}}))
	require.NoError(t, c.Upsert(Point{ID: 3, Vector: vec(0, 0, 1), Payload: map[string]any{"category": "b", "price": float64(5)}}))
}

func TestQueryFilterAndProject(t *testing.T) {
	c := openTestCollection(t, 3)
	seedDocs(t, c)

	results, err := c.Query("SELECT category, price FROM docs WHERE price > 8", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Contains(t, []string{"a", "b"}, r.Payload["category"])
		assert.NotContains(t, r.Payload, "unexpected")
	}
}

func TestQueryOrderByAndLimit(t *testing.T) {
	c := openTestCollection(t, 3)
	seedDocs(t, c)

	results, err := c.Query("SELECT category, price FROM docs ORDER BY price DESC LIMIT 1", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, float64(25), results[0].Payload["price"])
}

func TestQueryNearWithPostFilter(t *testing.T) {
	c := openTestCollection(t, 3)
	seedDocs(t, c)

	results, err := c.Query("SELECT category FROM docs WHERE vector NEAR $q AND category = 'a' LIMIT 5",
		map[string]any{"q": []float32{1, 0, 0}})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "a", r.Payload["category"])
	}
}

func TestQueryNearRejectsWrongDimension(t *testing.T) {
	c := openTestCollection(t, 3)
	seedDocs(t, c)

	_, err := c.Query("SELECT id FROM docs WHERE vector NEAR $q", map[string]any{"q": []float32{1, 0}})
	assert.Error(t, err)
}

func TestQueryGroupByCount(t *testing.T) {
	c := openTestCollection(t, 3)
	seedDocs(t, c)

	results, err := c.Query("SELECT category, COUNT(price) FROM docs GROUP BY category", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	total := 0
	for _, r := range results {
		total += r.Payload["count"].(int)
	}
	assert.Equal(t, 3, total)
}

func TestQueryGroupByHavingFiltersGroups(t *testing.T) {
	c := openTestCollection(t, 3)
	seedDocs(t, c)

	results, err := c.Query("SELECT category, SUM(price) FROM docs GROUP BY category HAVING SUM(price) > 20", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Payload["category"])
}

func TestQueryRejectsJoins(t *testing.T) {
	c := openTestCollection(t, 3)
	seedDocs(t, c)

	_, err := c.Query("SELECT id FROM docs JOIN other ON docs.id = other.id", nil)
	assert.Error(t, err)
}
