package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAccumulatesSnapshot(t *testing.T) {
	r := NewRecorder("velesdb", "test")
	r.Observe("upsert", 10*time.Millisecond, nil)
	r.Observe("upsert", 20*time.Millisecond, nil)
	r.Observe("upsert", 5*time.Millisecond, errors.New("boom"))

	snap := r.Snapshot()
	stats, ok := snap.Ops["upsert"]
	require.True(t, ok)
	assert.Equal(t, uint64(3), stats.Count)
	assert.Equal(t, uint64(1), stats.Errors)
	assert.Equal(t, 5*time.Millisecond, stats.Min)
	assert.Equal(t, 20*time.Millisecond, stats.Max)
}

func TestTrackWrapsObserve(t *testing.T) {
	r := NewRecorder("velesdb", "test")
	done := r.Track("search")
	done(nil)

	snap := r.Snapshot()
	assert.Equal(t, uint64(1), snap.Ops["search"].Count)
}

func TestSnapshotOmitsUnobservedOps(t *testing.T) {
	r := NewRecorder("velesdb", "test")
	snap := r.Snapshot()
	_, ok := snap.Ops["delete"]
	assert.False(t, ok)
}

func TestRegistryGathersRegisteredCollectors(t *testing.T) {
	r := NewRecorder("velesdb", "test")
	r.Observe("vacuum", time.Millisecond, nil)

	families, err := r.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
