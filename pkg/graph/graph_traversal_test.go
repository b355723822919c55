package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chain builds 1 -> 2 -> 3 -> 4, plus a back-edge 4 -> 1 to exercise
// cycle detection.
func chain(t *testing.T) *Store {
	t.Helper()
	s := New()
	for i := int64(1); i <= 4; i++ {
		s.AddNode(&Node{ID: i, Type: "n"})
	}
	require.NoError(t, s.AddEdge(&Edge{ID: 1, From: 1, To: 2, Type: "next"}))
	require.NoError(t, s.AddEdge(&Edge{ID: 2, From: 2, To: 3, Type: "next"}))
	require.NoError(t, s.AddEdge(&Edge{ID: 3, From: 3, To: 4, Type: "next"}))
	require.NoError(t, s.AddEdge(&Edge{ID: 4, From: 4, To: 1, Type: "back"}))
	return s
}

func TestTraverseBFSRespectsMaxDepth(t *testing.T) {
	s := chain(t)
	res, err := s.Traverse(1, TraversalOptions{Algorithm: BFS, Direction: Outgoing, MaxDepth: 2})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3}, res.NodeIDs)
}

func TestTraverseDoesNotRevisitOnCycle(t *testing.T) {
	s := chain(t)
	res, err := s.Traverse(1, TraversalOptions{Algorithm: BFS, Direction: Both, MaxDepth: 10})
	require.NoError(t, err)
	assert.Len(t, res.NodeIDs, 3) // 2, 3, 4 -- never revisits 1
	assert.NotContains(t, res.NodeIDs, int64(1))
}

func TestTraverseFiltersByEdgeType(t *testing.T) {
	s := chain(t)
	res, err := s.Traverse(4, TraversalOptions{Algorithm: BFS, Direction: Outgoing, MaxDepth: 5, EdgeTypes: []string{"next"}})
	require.NoError(t, err)
	assert.Empty(t, res.NodeIDs) // only a "back" edge leaves node 4
}

func TestTraverseAppliesPredicate(t *testing.T) {
	s := chain(t)
	res, err := s.Traverse(1, TraversalOptions{
		Algorithm: BFS,
		Direction: Outgoing,
		MaxDepth:  5,
		Predicate: func(n *Node) bool { return n.ID != 3 },
	})
	require.NoError(t, err)
	assert.NotContains(t, res.NodeIDs, int64(3))
	// node 4 is only reachable through 3, so pruning 3 also prunes 4
	assert.NotContains(t, res.NodeIDs, int64(4))
}

func TestShortestPathFindsPath(t *testing.T) {
	s := chain(t)
	path, ok, err := s.ShortestPath(1, 4, Outgoing, 10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2, 3, 4}, path)
}

func TestShortestPathUnreachableWithinDepth(t *testing.T) {
	s := chain(t)
	_, ok, err := s.ShortestPath(1, 4, Outgoing, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnected(t *testing.T) {
	s := chain(t)
	ok, err := s.Connected(1, 4, Outgoing, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Connected(1, 4, Outgoing, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTraverseDFSOrder(t *testing.T) {
	s := chain(t)
	res, err := s.Traverse(1, TraversalOptions{Algorithm: DFS, Direction: Outgoing, MaxDepth: 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4}, res.NodeIDs)
}
