package graph

// Algorithm selects the traversal strategy.
type Algorithm int

const (
	BFS Algorithm = iota
	DFS
)

// TraversalOptions controls a Traverse call.
type TraversalOptions struct {
	Algorithm  Algorithm
	Direction  Direction
	MaxDepth   int
	EdgeTypes  []string // empty = all types allowed
	Predicate  func(n *Node) bool // optional per-hop property predicate
	Limit      int                // 0 = unlimited
}

// TraversalResult carries the nodes visited (in traversal order), each
// one's depth from the start, and the node-id path by which each was
// first reached.
type TraversalResult struct {
	NodeIDs []int64
	Depths  []int
	Path    map[int64][]int64 // node id -> path of node ids from start, inclusive
}

// Traverse walks the graph from start using BFS or DFS, up to
// opts.MaxDepth hops, filtering by edge type and an optional node
// predicate, with cycle detection via a visited set.
func (s *Store) Traverse(start int64, opts TraversalOptions) (*TraversalResult, error) {
	if _, err := s.GetNode(start); err != nil {
		return nil, err
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 1
	}

	result := &TraversalResult{Path: make(map[int64][]int64)}
	visited := map[int64]bool{start: true}
	result.Path[start] = []int64{start}

	type frame struct {
		id    int64
		depth int
	}
	frontier := []frame{{start, 0}}

	emit := func(id int64, depth int) bool {
		result.NodeIDs = append(result.NodeIDs, id)
		result.Depths = append(result.Depths, depth)
		return opts.Limit <= 0 || len(result.NodeIDs) < opts.Limit
	}

	for len(frontier) > 0 {
		var cur frame
		if opts.Algorithm == DFS {
			cur = frontier[len(frontier)-1]
			frontier = frontier[:len(frontier)-1]
		} else {
			cur = frontier[0]
			frontier = frontier[1:]
		}

		if cur.depth >= maxDepth {
			continue
		}

		edges := s.GetEdges(cur.id, opts.Direction, "", 0)
		for _, e := range edges {
			if len(opts.EdgeTypes) > 0 && !stringInSlice(opts.EdgeTypes, e.Type) {
				continue
			}
			next := e.To
			if e.To == cur.id {
				next = e.From
			}
			if visited[next] {
				continue
			}

			node, err := s.GetNode(next)
			if err != nil {
				continue
			}
			if opts.Predicate != nil && !opts.Predicate(node) {
				continue
			}

			visited[next] = true
			path := append(append([]int64(nil), result.Path[cur.id]...), next)
			result.Path[next] = path

			if !emit(next, cur.depth+1) {
				return result, nil
			}
			frontier = append(frontier, frame{next, cur.depth + 1})
		}
	}

	return result, nil
}

// Connected reports whether to is reachable from from within maxDepth
// hops, following edges in the given direction.
func (s *Store) Connected(from, to int64, dir Direction, maxDepth int) (bool, error) {
	if from == to {
		return true, nil
	}
	res, err := s.Traverse(from, TraversalOptions{Algorithm: BFS, Direction: dir, MaxDepth: maxDepth})
	if err != nil {
		return false, err
	}
	for _, id := range res.NodeIDs {
		if id == to {
			return true, nil
		}
	}
	return false, nil
}

// ShortestPath returns the node-id path from from to to found by an
// unweighted BFS (fewest hops) following edges in the given direction,
// or ok=false if no path exists within maxDepth hops.
func (s *Store) ShortestPath(from, to int64, dir Direction, maxDepth int) (path []int64, ok bool, err error) {
	if from == to {
		return []int64{from}, true, nil
	}
	res, err := s.Traverse(from, TraversalOptions{Algorithm: BFS, Direction: dir, MaxDepth: maxDepth})
	if err != nil {
		return nil, false, err
	}
	p, found := res.Path[to]
	return p, found, nil
}

func stringInSlice(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
