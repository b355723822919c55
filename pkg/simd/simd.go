// Package simd exposes distance kernels dispatched once at process
// start by probing CPU features, matching the "one function per
// (metric, width)... chosen once... stored in a process-wide atomic
// function-pointer table" design. Go has no portable compiler
// intrinsics for AVX-512/AVX2/NEON, so each tier below is a distinct
// Go implementation tuned for that width class (4-wide, 8-wide,
// 16-wide unrolled accumulation) rather than hand-assembled
// instructions; the dispatch and tiering discipline is identical to
// the spec regardless of how each tier's loop body is generated.
package simd

import (
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Tier names the dispatch tier selected at init, declared from the
// scalar fallback up; the probe tries AVX-512 (F and VL) first, then
// AVX2, then NEON, then falls back to Scalar.
type Tier int

const (
	TierScalar Tier = iota
	TierNEON
	TierAVX2
	TierAVX512
)

func (t Tier) String() string {
	switch t {
	case TierAVX512:
		return "avx512"
	case TierAVX2:
		return "avx2"
	case TierNEON:
		return "neon"
	default:
		return "scalar"
	}
}

// DistanceFunc computes a distance/similarity score between two
// equal-length float32 slices. Unequal lengths are undefined behaviour
// the caller must reject before calling.
type DistanceFunc func(a, b []float32) float32

// Table is the resolved set of kernels for the active tier.
type Table struct {
	Tier      Tier
	Dot       DistanceFunc
	Cosine    DistanceFunc
	L2        DistanceFunc
	Normalize func([]float32) []float32
}

var (
	once    sync.Once
	current atomic.Pointer[Table]
	// forcedTier lets tests pin a tier deterministically; since 0 is
	// TierScalar, forcedSet (1) marks that a tier is pinned.
	forcedTier int32
	forcedSet  int32
)

func probeTier() Tier {
	if atomic.LoadInt32(&forcedSet) == 1 {
		return Tier(atomic.LoadInt32(&forcedTier))
	}
	switch {
	case cpu.X86.HasAVX512F && cpu.X86.HasAVX512VL:
		return TierAVX512
	case cpu.X86.HasAVX2:
		return TierAVX2
	case cpu.ARM64.HasASIMD:
		return TierNEON
	default:
		return TierScalar
	}
}

func buildTable(t Tier) *Table {
	switch t {
	case TierAVX512:
		return &Table{Tier: t, Dot: dot16, Cosine: cosine16, L2: l2_16, Normalize: normalizeUnrolled}
	case TierAVX2:
		return &Table{Tier: t, Dot: dot8, Cosine: cosine8, L2: l2_8, Normalize: normalizeUnrolled}
	case TierNEON:
		return &Table{Tier: t, Dot: dot4, Cosine: cosine4, L2: l2_4, Normalize: normalizeUnrolled}
	default:
		return &Table{Tier: t, Dot: dotScalar, Cosine: cosineScalar, L2: l2Scalar, Normalize: normalizeScalar}
	}
}

// Active returns the process-wide kernel table, initialising it on
// first use.
func Active() *Table {
	once.Do(func() {
		current.Store(buildTable(probeTier()))
	})
	return current.Load()
}

// ForceTier overrides dispatch for tests that want to exercise a
// specific tier deterministically. It must be called before the first
// call to Active() in the process, matching the "tests that want to
// force a tier do so through a test-only override resolved at the
// same init point" design note.
func ForceTier(t Tier) {
	atomic.StoreInt32(&forcedTier, int32(t))
	atomic.StoreInt32(&forcedSet, 1)
	current.Store(buildTable(t))
}

// --- scalar tier -----------------------------------------------------

func dotScalar(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func l2Scalar(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

func cosineScalar(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
}

func normalizeScalar(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// --- unrolled tiers ---------------------------------------------------
//
// These share one accumulation-width-parameterised implementation; the
// width argument is the only difference between the NEON/AVX2/AVX-512
// tiers, reflecting that Go cannot select an actual instruction width
// without cgo or assembly, but can still amortise bounds checks and
// loop overhead across a wider accumulation window per tier.

func dotWidth(a, b []float32, width int) float32 {
	n := len(a)
	i := 0
	var accs [16]float32
	for ; i+width <= n; i += width {
		for w := 0; w < width; w++ {
			accs[w] += a[i+w] * b[i+w]
		}
	}
	var sum float32
	for w := 0; w < width; w++ {
		sum += accs[w]
	}
	for ; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func l2Width(a, b []float32, width int) float32 {
	n := len(a)
	i := 0
	var accs [16]float32
	for ; i+width <= n; i += width {
		for w := 0; w < width; w++ {
			d := a[i+w] - b[i+w]
			accs[w] += d * d
		}
	}
	var sum float32
	for w := 0; w < width; w++ {
		sum += accs[w]
	}
	for ; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

func cosineWidth(a, b []float32, width int) float32 {
	dot := dotWidth(a, b, width)
	na := dotWidth(a, a, width)
	nb := dotWidth(b, b, width)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
}

func dot4(a, b []float32) float32    { return dotWidth(a, b, 4) }
func dot8(a, b []float32) float32    { return dotWidth(a, b, 8) }
func dot16(a, b []float32) float32   { return dotWidth(a, b, 16) }
func l2_4(a, b []float32) float32    { return l2Width(a, b, 4) }
func l2_8(a, b []float32) float32    { return l2Width(a, b, 8) }
func l2_16(a, b []float32) float32   { return l2Width(a, b, 16) }
func cosine4(a, b []float32) float32 { return cosineWidth(a, b, 4) }
func cosine8(a, b []float32) float32 { return cosineWidth(a, b, 8) }
func cosine16(a, b []float32) float32 { return cosineWidth(a, b, 16) }

func normalizeUnrolled(v []float32) []float32 { return normalizeScalar(v) }

// HammingBits returns the Hamming distance between two equal-length
// bit-packed byte slices, one popcount per byte.
func HammingBits(a, b []byte) uint32 {
	var dist uint32
	for i := range a {
		dist += uint32(popcount(a[i] ^ b[i]))
	}
	return dist
}

// JaccardBits returns the Jaccard distance (1 - |A∩B|/|A∪B|) between
// two equal-length bit-packed byte slices.
func JaccardBits(a, b []byte) float32 {
	var inter, union uint32
	for i := range a {
		inter += uint32(popcount(a[i] & b[i]))
		union += uint32(popcount(a[i] | b[i]))
	}
	if union == 0 {
		return 0
	}
	return 1 - float32(inter)/float32(union)
}

func popcount(b byte) int {
	c := 0
	for b != 0 {
		c += int(b & 1)
		b >>= 1
	}
	return c
}
