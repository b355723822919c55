package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTriangle(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.AddNode(&Node{ID: 1, Type: "person", Properties: map[string]any{"age": 30.0}})
	s.AddNode(&Node{ID: 2, Type: "person", Properties: map[string]any{"age": 40.0}})
	s.AddNode(&Node{ID: 3, Type: "person", Properties: map[string]any{"age": 50.0}})
	require.NoError(t, s.AddEdge(&Edge{ID: 100, From: 1, To: 2, Type: "knows", Weight: 1}))
	require.NoError(t, s.AddEdge(&Edge{ID: 101, From: 2, To: 3, Type: "knows", Weight: 1}))
	return s
}

func TestAddNodeAndGetNode(t *testing.T) {
	s := New()
	s.AddNode(&Node{ID: 1, Type: "person"})
	n, err := s.GetNode(1)
	require.NoError(t, err)
	assert.Equal(t, "person", n.Type)

	_, err = s.GetNode(2)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestAddEdgeRejectsMissingEndpoint(t *testing.T) {
	s := New()
	s.AddNode(&Node{ID: 1})
	err := s.AddEdge(&Edge{ID: 1, From: 1, To: 2})
	assert.ErrorIs(t, err, ErrBadEndpoint)
}

func TestAddEdgeRejectsDuplicateID(t *testing.T) {
	s := newTriangle(t)
	err := s.AddEdge(&Edge{ID: 100, From: 1, To: 3})
	assert.ErrorIs(t, err, ErrEdgeExists)
}

func TestGetEdgesDirectionAndTypeFilter(t *testing.T) {
	s := newTriangle(t)

	out := s.GetEdges(1, Outgoing, "", 0)
	require.Len(t, out, 1)
	assert.Equal(t, int64(2), out[0].To)

	in := s.GetEdges(2, Incoming, "", 0)
	require.Len(t, in, 1)
	assert.Equal(t, int64(1), in[0].From)

	none := s.GetEdges(1, Outgoing, "nonexistent-type", 0)
	assert.Empty(t, none)
}

func TestDegree(t *testing.T) {
	s := newTriangle(t)
	assert.Equal(t, 1, s.Degree(2, Outgoing))
	assert.Equal(t, 1, s.Degree(2, Incoming))
	assert.Equal(t, 2, s.Degree(2, Both))
}

func TestNodesByPropertyAndRange(t *testing.T) {
	s := newTriangle(t)

	ids := s.NodesByProperty("age", 40.0)
	require.Len(t, ids, 1)
	assert.Equal(t, int64(2), ids[0])

	inRange := s.NodesByRange("age", 30, 45)
	assert.ElementsMatch(t, []int64{1, 2}, inRange)
}

func TestDeleteNodeRemovesIncidentEdges(t *testing.T) {
	s := newTriangle(t)
	require.NoError(t, s.DeleteNode(2))

	_, err := s.GetNode(2)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.Empty(t, s.GetEdges(1, Outgoing, "", 0))
	assert.Empty(t, s.GetEdges(3, Incoming, "", 0))
}
