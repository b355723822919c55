// Package quantization implements the scalar quantiser (per-dimension
// min/max -> uint8 codes, reconstructed to float32) and the mode tagged
// variant that selects how a collection stores vectors for HNSW graph
// traversal: none, int8, dual-precision (int8 traversal + float32
// re-ranking), or auto.
package quantization

import (
	"fmt"
	"math"
)

// Mode is the tagged variant {None, Int8, Dual, Auto} from the design
// notes. Auto resolves to Int8 or Dual at first upsert based on
// dimensionality; the resolution policy lives in ResolveAuto.
type Mode int

const (
	ModeNone Mode = iota
	ModeInt8
	ModeDual
	ModeAuto
)

func (m Mode) String() string {
	switch m {
	case ModeInt8:
		return "int8"
	case ModeDual:
		return "dual"
	case ModeAuto:
		return "auto"
	default:
		return "none"
	}
}

// ResolveAuto decides the concrete mode for ModeAuto: collections with
// dimensionality at or above 256 pay for dual-precision re-ranking
// (the oversampled float32 pass is worth the extra storage at that
// width); narrower collections use plain int8 traversal distances
// without re-ranking.
func ResolveAuto(dim int) Mode {
	if dim >= 256 {
		return ModeDual
	}
	return ModeInt8
}

// DefaultOversampling is the default candidate-set multiplier applied
// before float32 re-ranking in dual-precision mode.
const DefaultOversampling = 3

// ScalarQuantizer maps float32 vectors to uint8 codes using a
// per-dimension [min, max] range learned by Train, and reconstructs an
// approximate float32 vector from codes via Decode.
type ScalarQuantizer struct {
	Dimension int
	Min       []float32
	Max       []float32
	Trained   bool
}

// NewScalarQuantizer creates an untrained quantiser for the given
// dimensionality.
func NewScalarQuantizer(dimension int) *ScalarQuantizer {
	return &ScalarQuantizer{
		Dimension: dimension,
		Min:       make([]float32, dimension),
		Max:       make([]float32, dimension),
	}
}

// Train learns per-dimension min/max ranges from a sample of vectors.
func (q *ScalarQuantizer) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return fmt.Errorf("quantization: cannot train on empty vector set")
	}
	for _, v := range vectors {
		if len(v) != q.Dimension {
			return fmt.Errorf("quantization: vector dimension %d != %d", len(v), q.Dimension)
		}
	}

	mins := make([]float32, q.Dimension)
	maxs := make([]float32, q.Dimension)
	for d := 0; d < q.Dimension; d++ {
		mins[d] = vectors[0][d]
		maxs[d] = vectors[0][d]
	}
	for _, v := range vectors[1:] {
		for d := 0; d < q.Dimension; d++ {
			if v[d] < mins[d] {
				mins[d] = v[d]
			}
			if v[d] > maxs[d] {
				maxs[d] = v[d]
			}
		}
	}
	// Guard against a degenerate zero-width range (constant dimension).
	for d := 0; d < q.Dimension; d++ {
		if maxs[d] == mins[d] {
			maxs[d] = mins[d] + 1
		}
	}

	q.Min = mins
	q.Max = maxs
	q.Trained = true
	return nil
}

// Encode quantises a float32 vector into uint8 codes using the learned
// per-dimension range.
func (q *ScalarQuantizer) Encode(vector []float32) ([]uint8, error) {
	if !q.Trained {
		return nil, fmt.Errorf("quantization: quantizer not trained")
	}
	if len(vector) != q.Dimension {
		return nil, fmt.Errorf("quantization: vector dimension %d != %d", len(vector), q.Dimension)
	}

	codes := make([]uint8, q.Dimension)
	for d, v := range vector {
		rng := q.Max[d] - q.Min[d]
		normalized := (v - q.Min[d]) / rng
		if normalized < 0 {
			normalized = 0
		}
		if normalized > 1 {
			normalized = 1
		}
		codes[d] = uint8(math.Round(float64(normalized) * 255))
	}
	return codes, nil
}

// EncodeInt8 quantises into signed int8 codes centred at zero, the
// representation HNSW graph traversal uses directly as a distance
// kernel input.
func (q *ScalarQuantizer) EncodeInt8(vector []float32) ([]int8, error) {
	codes, err := q.Encode(vector)
	if err != nil {
		return nil, err
	}
	out := make([]int8, len(codes))
	for i, c := range codes {
		out[i] = int8(int(c) - 128)
	}
	return out, nil
}

// Decode reconstructs an approximate float32 vector from uint8 codes.
func (q *ScalarQuantizer) Decode(codes []uint8) ([]float32, error) {
	if !q.Trained {
		return nil, fmt.Errorf("quantization: quantizer not trained")
	}
	if len(codes) != q.Dimension {
		return nil, fmt.Errorf("quantization: codes dimension %d != %d", len(codes), q.Dimension)
	}

	vector := make([]float32, q.Dimension)
	for d, c := range codes {
		normalized := float32(c) / 255
		vector[d] = q.Min[d] + normalized*(q.Max[d]-q.Min[d])
	}
	return vector, nil
}

// CompressionRatio reports the size reduction versus float32 storage.
func (q *ScalarQuantizer) CompressionRatio() float64 {
	return 4.0 // 4 bytes (float32) -> 1 byte (uint8) per dimension
}

// DistanceInt8 computes a squared-L2-like distance directly over two
// int8 code vectors without reconstructing to float32; this is the
// kernel the HNSW graph layer uses for traversal in Int8/Dual modes.
func DistanceInt8(a, b []int8) int32 {
	var sum int32
	for i := range a {
		d := int32(a[i]) - int32(b[i])
		sum += d * d
	}
	return sum
}

// BinaryQuantizer maps float32 vectors to a single bit per dimension,
// thresholded at the per-dimension mean learned by Train, for Hamming
// and Jaccard distance metrics.
type BinaryQuantizer struct {
	Dimension int
	Threshold []float32
	Trained   bool
}

// NewBinaryQuantizer creates an untrained binary quantiser.
func NewBinaryQuantizer(dimension int) *BinaryQuantizer {
	return &BinaryQuantizer{
		Dimension: dimension,
		Threshold: make([]float32, dimension),
	}
}

// Train learns per-dimension mean thresholds from a sample of vectors.
func (q *BinaryQuantizer) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return fmt.Errorf("quantization: cannot train on empty vector set")
	}
	sums := make([]float64, q.Dimension)
	for _, v := range vectors {
		if len(v) != q.Dimension {
			return fmt.Errorf("quantization: vector dimension %d != %d", len(v), q.Dimension)
		}
		for d, x := range v {
			sums[d] += float64(x)
		}
	}
	thresholds := make([]float32, q.Dimension)
	for d := range thresholds {
		thresholds[d] = float32(sums[d] / float64(len(vectors)))
	}
	q.Threshold = thresholds
	q.Trained = true
	return nil
}

// Encode packs one bit per dimension into a byte slice, MSB-first
// within each byte.
func (q *BinaryQuantizer) Encode(vector []float32) ([]byte, error) {
	if !q.Trained {
		return nil, fmt.Errorf("quantization: quantizer not trained")
	}
	if len(vector) != q.Dimension {
		return nil, fmt.Errorf("quantization: vector dimension %d != %d", len(vector), q.Dimension)
	}
	out := make([]byte, (q.Dimension+7)/8)
	for d, v := range vector {
		if v > q.Threshold[d] {
			out[d/8] |= 1 << (7 - uint(d%8))
		}
	}
	return out, nil
}

// HammingDistance counts differing bits between two encoded vectors.
func (q *BinaryQuantizer) HammingDistance(a, b []byte) int {
	dist := 0
	for i := range a {
		x := a[i] ^ b[i]
		for x != 0 {
			dist += int(x & 1)
			x >>= 1
		}
	}
	return dist
}

// CompressionRatio reports the size reduction versus float32 storage.
func (q *BinaryQuantizer) CompressionRatio() float64 {
	return float64(q.Dimension*4) / float64((q.Dimension+7)/8)
}
