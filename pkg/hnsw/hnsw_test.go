package hnsw

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memVectors struct {
	m map[int64][]float32
}

func (v *memVectors) Vector(id int64) ([]float32, error) {
	vec, ok := v.m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return vec, nil
}

func cosineDistance(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	sim := dot / float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
	return 1 - sim
}

func newTestGraph() (*Graph, *memVectors) {
	vs := &memVectors{m: make(map[int64][]float32)}
	cfg := DefaultConfig(4, cosineDistance, true)
	return New(cfg, vs), vs
}

func TestInsertAndSearchBasic(t *testing.T) {
	g, vs := newTestGraph()

	points := map[int64][]float32{
		1: {1, 0, 0, 0},
		2: {0, 1, 0, 0},
		3: {0.9, 0.1, 0, 0},
	}
	for id, v := range points {
		vs.m[id] = v
		require.NoError(t, g.Insert(id, v))
	}

	ids, dists, err := g.Search([]float32{1, 0, 0, 0}, 2, 10)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, int64(1), ids[0])
	assert.Equal(t, int64(3), ids[1])
	assert.InDelta(t, 0.0, dists[0], 1e-5)
}

func TestSearchEmptyGraph(t *testing.T) {
	g, _ := newTestGraph()
	ids, dists, err := g.Search([]float32{1, 0, 0, 0}, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, dists)
}

func TestSearchKZeroReturnsEmpty(t *testing.T) {
	g, vs := newTestGraph()
	vs.m[1] = []float32{1, 0, 0, 0}
	require.NoError(t, g.Insert(1, vs.m[1]))

	ids, _, err := g.Search([]float32{1, 0, 0, 0}, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSearchKGreaterThanLiveCount(t *testing.T) {
	g, vs := newTestGraph()
	for _, id := range []int64{1, 2, 3} {
		v := []float32{float32(id), 0, 0, 0}
		vs.m[id] = v
		require.NoError(t, g.Insert(id, v))
	}
	ids, _, err := g.Search([]float32{1, 0, 0, 0}, 100, 10)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestDeleteThenSearchExcludesID(t *testing.T) {
	g, vs := newTestGraph()
	for _, id := range []int64{1, 2, 3} {
		v := []float32{float32(id), 0, 0, 0}
		vs.m[id] = v
		require.NoError(t, g.Insert(id, v))
	}
	require.NoError(t, g.Delete(2))

	ids, _, err := g.Search([]float32{2, 0, 0, 0}, 3, 10)
	require.NoError(t, err)
	assert.NotContains(t, ids, int64(2))
}

func TestDimensionMismatch(t *testing.T) {
	g, _ := newTestGraph()
	err := g.Insert(1, []float32{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestBidirectionalEdgesAfterInsert(t *testing.T) {
	g, vs := newTestGraph()
	for _, id := range []int64{1, 2, 3, 4, 5} {
		v := []float32{float32(id), float32(id % 3), 0, 0}
		vs.m[id] = v
		require.NoError(t, g.Insert(id, v))
	}

	g.arenaMu.RLock()
	defer g.arenaMu.RUnlock()
	for _, n := range g.arena {
		n.mu.RLock()
		for layer := 0; layer < len(n.neighbors); layer++ {
			for _, nb := range n.neighbors[layer] {
				idx := g.idToArena[nb]
				nbNode := g.arena[idx]
				nbNode.mu.RLock()
				reciprocated := false
				if layer < len(nbNode.neighbors) {
					for _, back := range nbNode.neighbors[layer] {
						if back == n.id {
							reciprocated = true
							break
						}
					}
				}
				nbNode.mu.RUnlock()
				assert.True(t, reciprocated, "edge %d->%d at layer %d not reciprocated", n.id, nb, layer)
			}
		}
		n.mu.RUnlock()
	}
}

func TestVacuumRebuildsAboveThreshold(t *testing.T) {
	g, vs := newTestGraph()
	for i := int64(1); i <= 20; i++ {
		v := []float32{float32(i), 0, 0, 0}
		vs.m[i] = v
		require.NoError(t, g.Insert(i, v))
	}
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, g.Delete(i))
	}

	fresh, rebuilt, err := g.Vacuum(context.Background(), 0.2)
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.Equal(t, 10, fresh.Size())
}

func TestDumpLoadRoundTrip(t *testing.T) {
	g, vs := newTestGraph()
	for _, id := range []int64{1, 2, 3, 4} {
		v := []float32{float32(id), float32(id) * 0.5, 0, 0}
		vs.m[id] = v
		require.NoError(t, g.Insert(id, v))
	}

	var buf bytes.Buffer
	require.NoError(t, g.Dump(context.Background(), &buf))

	loaded, err := Load(context.Background(), &buf, vs, cosineDistance, true)
	require.NoError(t, err)

	wantIDs, wantDists, err := g.Search([]float32{2, 1, 0, 0}, 2, 10)
	require.NoError(t, err)
	gotIDs, gotDists, err := loaded.Search([]float32{2, 1, 0, 0}, 2, 10)
	require.NoError(t, err)

	assert.Equal(t, wantIDs, gotIDs)
	assert.Equal(t, wantDists, gotDists)
}

func TestLoadRejectsCorruptMagic(t *testing.T) {
	_, err := Load(context.Background(), bytes.NewReader([]byte{1, 2, 3, 4}), &memVectors{m: map[int64][]float32{}}, cosineDistance, true)
	assert.ErrorIs(t, err, ErrCorruptDump)
}

func TestConcurrentInsertDistinctNodes(t *testing.T) {
	g, vs := newTestGraph()
	vs.m[1] = []float32{1, 0, 0, 0}
	require.NoError(t, g.Insert(1, vs.m[1]))

	vecs := make(map[int64][]float32, 4)
	for w := 0; w < 4; w++ {
		id := int64(100 + w)
		vecs[id] = []float32{float32(w), float32(w + 1), 0, 0}
		vs.m[id] = vecs[id]
	}

	done := make(chan error, 4)
	for id, v := range vecs {
		id, v := id, v
		go func() {
			done <- g.Insert(id, v)
		}()
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-done)
	}
	assert.Equal(t, 5, g.Size())
}
