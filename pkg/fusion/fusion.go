// Package fusion combines ranked result lists from multiple queries
// (multi-query search) or multiple retrieval modalities (hybrid vector
// + text search) into a single ranked list.
package fusion

import "sort"

// Item is one scored result from a single ranked list.
type Item struct {
	ID    int64
	Score float64
}

// Result is one entry of a fused ranking.
type Result struct {
	ID    int64
	Score float64
}

// Strategy names a fusion algorithm.
type Strategy string

const (
	Average  Strategy = "avg"
	Max      Strategy = "max"
	RRF      Strategy = "rrf"
	Weighted Strategy = "weighted"
)

// DefaultRRFK is the RRF rank-offset constant used unless the caller
// overrides it.
const DefaultRRFK = 60

// Fuse combines lists according to strategy. weights is only consulted
// for Weighted and must sum to 1 and match len(lists); rrfK is only
// consulted for RRF (pass DefaultRRFK for the standard constant).
func Fuse(strategy Strategy, lists [][]Item, weights []float64, rrfK int) []Result {
	switch strategy {
	case RRF:
		return fuseRRF(lists, rrfK)
	case Max:
		return fuseMax(lists)
	case Weighted:
		return fuseWeighted(lists, weights)
	default:
		return fuseAverage(lists)
	}
}

// normalize returns a copy of items min-max normalised to [0,1]. A
// degenerate list (all equal scores) normalises to all-one: each item
// is treated as the list's best.
func normalize(items []Item) map[int64]float64 {
	out := make(map[int64]float64, len(items))
	if len(items) == 0 {
		return out
	}
	min, max := items[0].Score, items[0].Score
	for _, it := range items {
		if it.Score < min {
			min = it.Score
		}
		if it.Score > max {
			max = it.Score
		}
	}
	span := max - min
	for _, it := range items {
		if span == 0 {
			// Every item in this list ties (including the common
			// singleton-list case): there's no relative signal to
			// normalise, so treat each as the list's best.
			out[it.ID] = 1
			continue
		}
		out[it.ID] = (it.Score - min) / span
	}
	return out
}

func fuseAverage(lists [][]Item) []Result {
	sums := make(map[int64]float64)
	for _, list := range lists {
		norm := normalize(list)
		for id, score := range norm {
			sums[id] += score
		}
	}
	n := float64(len(lists))
	results := make([]Result, 0, len(sums))
	for id, sum := range sums {
		s := sum
		if n > 0 {
			s = sum / n
		}
		results = append(results, Result{ID: id, Score: s})
	}
	return sortResults(results)
}

func fuseMax(lists [][]Item) []Result {
	best := make(map[int64]float64)
	seen := make(map[int64]bool)
	for _, list := range lists {
		norm := normalize(list)
		for id, score := range norm {
			if !seen[id] || score > best[id] {
				best[id] = score
				seen[id] = true
			}
		}
	}
	results := make([]Result, 0, len(best))
	for id, score := range best {
		results = append(results, Result{ID: id, Score: score})
	}
	return sortResults(results)
}

func fuseWeighted(lists [][]Item, weights []float64) []Result {
	sums := make(map[int64]float64)
	for i, list := range lists {
		w := 1.0
		if i < len(weights) {
			w = weights[i]
		}
		norm := normalize(list)
		for id, score := range norm {
			sums[id] += score * w
		}
	}
	results := make([]Result, 0, len(sums))
	for id, score := range sums {
		results = append(results, Result{ID: id, Score: score})
	}
	return sortResults(results)
}

// fuseRRF implements reciprocal rank fusion over each list's score
// order: items absent from a list contribute nothing (rank=infinity).
func fuseRRF(lists [][]Item, k int) []Result {
	ranked := make([][]int64, len(lists))
	for i, list := range lists {
		cp := append([]Item(nil), list...)
		sort.SliceStable(cp, func(a, b int) bool {
			if cp[a].Score != cp[b].Score {
				return cp[a].Score > cp[b].Score
			}
			return cp[a].ID < cp[b].ID
		})
		ids := make([]int64, len(cp))
		for j, it := range cp {
			ids[j] = it.ID
		}
		ranked[i] = ids
	}
	return FuseRRFRanked(ranked, k)
}

// FuseRRFRanked applies reciprocal rank fusion directly to lists of ids
// already given in rank order (rank 0 = best), as used when the
// caller's inputs are plain rankings rather than scored lists.
func FuseRRFRanked(lists [][]int64, k int) []Result {
	if k <= 0 {
		k = DefaultRRFK
	}
	sums := make(map[int64]float64)
	for _, list := range lists {
		for rank, id := range list {
			sums[id] += 1.0 / float64(k+rank+1)
		}
	}
	results := make([]Result, 0, len(sums))
	for id, score := range sums {
		results = append(results, Result{ID: id, Score: score})
	}
	return sortResults(results)
}

// sortResults orders by descending score, ties broken by lower id.
func sortResults(results []Result) []Result {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}
