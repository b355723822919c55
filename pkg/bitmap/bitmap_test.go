package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddContainsRemove(t *testing.T) {
	s := New()
	s.Add(1)
	s.Add(2)
	assert.True(t, s.Contains(1))
	assert.Equal(t, 2, s.Len())

	s.Remove(1)
	assert.False(t, s.Contains(1))
	assert.Equal(t, 1, s.Len())
}

func TestAndOrAndNot(t *testing.T) {
	a := FromSlice([]int64{1, 2, 3})
	b := FromSlice([]int64{2, 3, 4})

	assert.ElementsMatch(t, []int64{2, 3}, a.And(b).ToSlice())
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, a.Or(b).ToSlice())
	assert.ElementsMatch(t, []int64{1}, a.AndNot(b).ToSlice())
}

func TestSelectivity(t *testing.T) {
	s := FromSlice([]int64{1, 2, 3, 4, 5})
	assert.InDelta(t, 0.5, s.Selectivity(10), 1e-9)
	assert.Equal(t, 0.0, s.Selectivity(0))
}

func TestCloneIsIndependent(t *testing.T) {
	a := FromSlice([]int64{1, 2})
	b := a.Clone()
	b.Add(3)
	assert.False(t, a.Contains(3))
	assert.True(t, b.Contains(3))
}
