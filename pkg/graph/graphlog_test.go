package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogReplayRebuildsStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes_edges.log")

	l, err := OpenLog(path)
	require.NoError(t, err)
	s := New()
	s.AttachLog(l)

	require.NoError(t, s.AddNode(&Node{ID: 1, Type: "person", Properties: map[string]any{"age": 30.0}}))
	require.NoError(t, s.AddNode(&Node{ID: 2, Type: "person", Properties: map[string]any{"age": 40.0}}))
	require.NoError(t, s.AddEdge(&Edge{ID: 100, From: 1, To: 2, Type: "knows", Weight: 1.5}))
	require.NoError(t, l.Close())

	l2, err := OpenLog(path)
	require.NoError(t, err)
	defer l2.Close()

	replayed := New()
	require.NoError(t, l2.Replay(replayed))

	n, err := replayed.GetNode(1)
	require.NoError(t, err)
	assert.Equal(t, "person", n.Type)
	assert.Equal(t, 30.0, n.Properties["age"])

	edges := replayed.GetEdges(1, Outgoing, "", 0)
	require.Len(t, edges, 1)
	assert.Equal(t, int64(2), edges[0].To)
	assert.Equal(t, 1.5, edges[0].Weight)
}

func TestLogReplayAppliesDeletes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes_edges.log")

	l, err := OpenLog(path)
	require.NoError(t, err)
	s := New()
	s.AttachLog(l)

	require.NoError(t, s.AddNode(&Node{ID: 1, Type: "person"}))
	require.NoError(t, s.DeleteNode(1))
	require.NoError(t, l.Close())

	l2, err := OpenLog(path)
	require.NoError(t, err)
	defer l2.Close()

	replayed := New()
	require.NoError(t, l2.Replay(replayed))

	_, err = replayed.GetNode(1)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestLogDictionaryEncodesRepeatedTypesOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes_edges.log")

	l, err := OpenLog(path)
	require.NoError(t, err)
	s := New()
	s.AttachLog(l)

	for i := int64(1); i <= 50; i++ {
		require.NoError(t, s.AddNode(&Node{ID: i, Type: "person"}))
	}
	require.NoError(t, l.Close())

	assert.Equal(t, 1, s.log.dict.Len())
}

func TestOpenLogTruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes_edges.log")

	l, err := OpenLog(path)
	require.NoError(t, err)
	s := New()
	s.AttachLog(l)
	require.NoError(t, s.AddNode(&Node{ID: 1, Type: "person"}))
	goodSize := l.offset
	require.NoError(t, l.Close())

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xFF, 0xFF, 0xFF, 0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l2, err := OpenLog(path)
	require.NoError(t, err)
	defer l2.Close()
	assert.Equal(t, goodSize, l2.offset)
}
