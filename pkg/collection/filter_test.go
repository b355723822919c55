package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterEquality(t *testing.T) {
	f := NewFilter(FilterEQ, "tag", "x")
	assert.True(t, f.Match(map[string]any{"tag": "x"}))
	assert.False(t, f.Match(map[string]any{"tag": "y"}))
}

func TestFilterRangeComparisons(t *testing.T) {
	f := NewFilter(FilterGTE, "price", float64(100))
	assert.True(t, f.Match(map[string]any{"price": float64(150)}))
	assert.False(t, f.Match(map[string]any{"price": float64(50)}))
}

func TestFilterBetween(t *testing.T) {
	f := NewFilter(FilterBETWEEN, "price", [2]float64{10, 20})
	assert.True(t, f.Match(map[string]any{"price": float64(15)}))
	assert.False(t, f.Match(map[string]any{"price": float64(25)}))
}

func TestFilterIn(t *testing.T) {
	f := NewFilter(FilterIN, "category", []any{"a", "b"})
	assert.True(t, f.Match(map[string]any{"category": "b"}))
	assert.False(t, f.Match(map[string]any{"category": "c"}))
}

func TestFilterLikeWildcards(t *testing.T) {
	f := NewFilter(FilterLIKE, "title", "foo%")
	assert.True(t, f.Match(map[string]any{"title": "foobar"}))
	assert.False(t, f.Match(map[string]any{"title": "barfoo"}))
}

func TestFilterAndOrNot(t *testing.T) {
	a := NewFilter(FilterEQ, "tag", "x")
	b := NewFilter(FilterGT, "price", float64(10))
	and := And(a, b)
	or := Or(a, b)
	not := Not(a)

	payload := map[string]any{"tag": "x", "price": float64(5)}
	assert.False(t, and.Match(payload))
	assert.True(t, or.Match(payload))
	assert.False(t, not.Match(payload))
}

func TestFilterMissingFieldDoesNotMatch(t *testing.T) {
	f := NewFilter(FilterEQ, "tag", "x")
	assert.False(t, f.Match(map[string]any{}))
}

func TestNilFilterMatchesEverything(t *testing.T) {
	var f *Filter
	assert.True(t, f.Match(map[string]any{"anything": 1}))
}
