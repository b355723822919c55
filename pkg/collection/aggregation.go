package collection

import (
	"fmt"
	"sort"
)

// AggregationType names a facet/aggregation reducer.
type AggregationType string

const (
	AggregationCount AggregationType = "count"
	AggregationSum   AggregationType = "sum"
	AggregationAvg   AggregationType = "avg"
	AggregationMin   AggregationType = "min"
	AggregationMax   AggregationType = "max"
)

// AggregationRequest describes a GROUP BY-shaped facet query over a
// result set's payloads.
type AggregationRequest struct {
	Type    AggregationType
	Field   string   // metadata field to aggregate (ignored for Count)
	GroupBy []string // fields to group by; empty means one global group
	Having  func(groupKeys map[string]any, value float64, count int) bool
	OrderBy string // "value", "count", or a group-by field name
	Desc    bool
	Limit   int
}

// AggregationResult is one group's reduced value.
type AggregationResult struct {
	GroupKeys map[string]any
	Value     float64
	Count     int
}

// Aggregate groups payloads by req.GroupBy and reduces req.Field with
// req.Type, mirroring the facet-search shape of a GROUP BY ... HAVING
// query but evaluated directly over in-memory payload maps instead of
// compiled SQL.
func Aggregate(payloads []map[string]any, req AggregationRequest) ([]AggregationResult, error) {
	if req.Type == "" {
		return nil, fmt.Errorf("collection: aggregation type is required")
	}

	type bucket struct {
		keys  map[string]any
		count int
		sum   float64
		min   float64
		max   float64
		seen  bool
	}
	groups := make(map[string]*bucket)
	var order []string

	for _, p := range payloads {
		keyParts := make(map[string]any, len(req.GroupBy))
		keyStr := ""
		for _, field := range req.GroupBy {
			v := p[field]
			keyParts[field] = v
			keyStr += fmt.Sprintf("%v\x1f", v)
		}
		b, ok := groups[keyStr]
		if !ok {
			b = &bucket{keys: keyParts}
			groups[keyStr] = b
			order = append(order, keyStr)
		}
		b.count++

		if req.Type == AggregationCount {
			continue
		}
		val, ok := asFloat64(p[req.Field])
		if !ok {
			continue
		}
		if !b.seen {
			b.sum, b.min, b.max = val, val, val
			b.seen = true
		} else {
			b.sum += val
			if val < b.min {
				b.min = val
			}
			if val > b.max {
				b.max = val
			}
		}
	}

	results := make([]AggregationResult, 0, len(order))
	for _, k := range order {
		b := groups[k]
		var value float64
		switch req.Type {
		case AggregationCount:
			value = float64(b.count)
		case AggregationSum:
			value = b.sum
		case AggregationAvg:
			if b.count > 0 {
				value = b.sum / float64(b.count)
			}
		case AggregationMin:
			value = b.min
		case AggregationMax:
			value = b.max
		default:
			return nil, fmt.Errorf("collection: unsupported aggregation type %q", req.Type)
		}
		if req.Having != nil && !req.Having(b.keys, value, b.count) {
			continue
		}
		results = append(results, AggregationResult{GroupKeys: b.keys, Value: value, Count: b.count})
	}

	switch req.OrderBy {
	case "value":
		sort.Slice(results, func(i, j int) bool {
			if req.Desc {
				return results[i].Value > results[j].Value
			}
			return results[i].Value < results[j].Value
		})
	case "count":
		sort.Slice(results, func(i, j int) bool {
			if req.Desc {
				return results[i].Count > results[j].Count
			}
			return results[i].Count < results[j].Count
		})
	case "":
		// preserve first-seen order
	default:
		sort.Slice(results, func(i, j int) bool {
			a := fmt.Sprint(results[i].GroupKeys[req.OrderBy])
			b := fmt.Sprint(results[j].GroupKeys[req.OrderBy])
			if req.Desc {
				return a > b
			}
			return a < b
		})
	}

	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}
