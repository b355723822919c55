package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayloads() []map[string]any {
	return []map[string]any{
		{"category": "a", "price": float64(10)},
		{"category": "a", "price": float64(20)},
		{"category": "b", "price": float64(5)},
	}
}

func TestAggregateCount(t *testing.T) {
	results, err := Aggregate(samplePayloads(), AggregationRequest{Type: AggregationCount, GroupBy: []string{"category"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	total := 0
	for _, r := range results {
		total += r.Count
	}
	assert.Equal(t, 3, total)
}

func TestAggregateSumAndAvg(t *testing.T) {
	sum, err := Aggregate(samplePayloads(), AggregationRequest{Type: AggregationSum, Field: "price", GroupBy: []string{"category"}})
	require.NoError(t, err)
	for _, r := range sum {
		if r.GroupKeys["category"] == "a" {
			assert.Equal(t, float64(30), r.Value)
		}
	}

	avg, err := Aggregate(samplePayloads(), AggregationRequest{Type: AggregationAvg, Field: "price", GroupBy: []string{"category"}})
	require.NoError(t, err)
	for _, r := range avg {
		if r.GroupKeys["category"] == "a" {
			assert.Equal(t, float64(15), r.Value)
		}
	}
}

func TestAggregateHavingFilters(t *testing.T) {
	results, err := Aggregate(samplePayloads(), AggregationRequest{
		Type:    AggregationSum,
		Field:   "price",
		GroupBy: []string{"category"},
		Having:  func(keys map[string]any, value float64, count int) bool { return value > 15 },
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].GroupKeys["category"])
}

func TestAggregateOrderByValueDesc(t *testing.T) {
	results, err := Aggregate(samplePayloads(), AggregationRequest{
		Type: AggregationSum, Field: "price", GroupBy: []string{"category"}, OrderBy: "value", Desc: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Value >= results[1].Value)
}

func TestAggregateLimit(t *testing.T) {
	results, err := Aggregate(samplePayloads(), AggregationRequest{Type: AggregationCount, GroupBy: []string{"category"}, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestAggregateNoGroupByIsOneGlobalGroup(t *testing.T) {
	results, err := Aggregate(samplePayloads(), AggregationRequest{Type: AggregationCount})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].Count)
}

func TestAggregateRejectsEmptyType(t *testing.T) {
	_, err := Aggregate(samplePayloads(), AggregationRequest{})
	assert.Error(t, err)
}
