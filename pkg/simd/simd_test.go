package simd

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDotScalar(t *testing.T) {
	a := []float32{1, 0, 0, 0}
	b := []float32{0, 1, 0, 0}
	require.Equal(t, float32(0), dotScalar(a, b))

	c := []float32{1, 2, 3}
	require.Equal(t, float32(14), dotScalar(c, c))
}

func TestCosineIdentical(t *testing.T) {
	v := []float32{1, 2, 3, 4}
	got := cosineScalar(v, v)
	assert.InDelta(t, 1.0, got, 1e-5)
}

func TestCosineZeroNorm(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 2, 3}
	assert.Equal(t, float32(0), cosineScalar(a, b))
}

func TestL2SelfIsZero(t *testing.T) {
	v := []float32{3, 4, 5}
	assert.Equal(t, float32(0), l2Scalar(v, v))
}

func TestCrossTierWithinTolerance(t *testing.T) {
	a := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0, 1.1, 1.2, 1.3, 1.4, 1.5, 1.6}
	b := []float32{1.6, 1.5, 1.4, 1.3, 1.2, 1.1, 1.0, 0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1}

	s := cosineScalar(a, b)
	w4 := cosineWidth(a, b, 4)
	w8 := cosineWidth(a, b, 8)
	w16 := cosineWidth(a, b, 16)

	assert.True(t, math.Abs(float64(s-w4)) < 1e-5)
	assert.True(t, math.Abs(float64(s-w8)) < 1e-5)
	assert.True(t, math.Abs(float64(s-w16)) < 1e-5)
}

func TestForceTierSelectsTable(t *testing.T) {
	ForceTier(TierAVX2)
	tbl := Active()
	require.Equal(t, TierAVX2, tbl.Tier)
	got := tbl.Dot([]float32{1, 1, 1, 1, 1, 1, 1, 1}, []float32{1, 1, 1, 1, 1, 1, 1, 1})
	assert.Equal(t, float32(8), got)
	ForceTier(TierScalar)
}

func TestHammingAndJaccardBits(t *testing.T) {
	a := []byte{0b1010, 0b1111}
	b := []byte{0b1000, 0b0000}
	assert.Equal(t, uint32(1+4), HammingBits(a, b))

	j := JaccardBits(a, b)
	assert.True(t, j > 0 && j <= 1)
}
