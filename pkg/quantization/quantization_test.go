package quantization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleVectors() [][]float32 {
	return [][]float32{
		{0, 0, 0, 0},
		{1, 1, 1, 1},
		{0.5, 0.25, 0.75, 0.1},
		{-1, 2, 3, -0.5},
	}
}

func TestScalarQuantizerRoundTrip(t *testing.T) {
	q := NewScalarQuantizer(4)
	require.NoError(t, q.Train(sampleVectors()))

	v := []float32{0.5, 0.25, 0.75, 0.1}
	codes, err := q.Encode(v)
	require.NoError(t, err)
	require.Len(t, codes, 4)

	decoded, err := q.Decode(codes)
	require.NoError(t, err)
	for i := range v {
		assert.InDelta(t, v[i], decoded[i], 0.05)
	}
}

func TestScalarQuantizerUntrained(t *testing.T) {
	q := NewScalarQuantizer(4)
	_, err := q.Encode([]float32{1, 2, 3, 4})
	assert.Error(t, err)
}

func TestScalarQuantizerDimensionMismatch(t *testing.T) {
	q := NewScalarQuantizer(4)
	require.NoError(t, q.Train(sampleVectors()))
	_, err := q.Encode([]float32{1, 2, 3})
	assert.Error(t, err)
}

func TestEncodeInt8Centered(t *testing.T) {
	q := NewScalarQuantizer(4)
	require.NoError(t, q.Train(sampleVectors()))
	codes, err := q.EncodeInt8([]float32{0.5, 0.25, 0.75, 0.1})
	require.NoError(t, err)
	for _, c := range codes {
		assert.True(t, c >= -128 && c <= 127)
	}
}

func TestDistanceInt8SelfIsZero(t *testing.T) {
	a := []int8{1, -2, 3, 4}
	assert.Equal(t, int32(0), DistanceInt8(a, a))
}

func TestResolveAuto(t *testing.T) {
	assert.Equal(t, ModeInt8, ResolveAuto(64))
	assert.Equal(t, ModeDual, ResolveAuto(384))
}

func TestBinaryQuantizerRoundTrip(t *testing.T) {
	q := NewBinaryQuantizer(4)
	require.NoError(t, q.Train(sampleVectors()))

	a, err := q.Encode([]float32{1, 1, 1, 1})
	require.NoError(t, err)
	b, err := q.Encode([]float32{-1, -1, -1, -1})
	require.NoError(t, err)

	assert.Equal(t, 0, q.HammingDistance(a, a))
	assert.True(t, q.HammingDistance(a, b) > 0)
}
