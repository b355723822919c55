package collection

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/velesdb/velesdb/internal/logging"
)

// AdaptPolicy defines how upsert handles a vector whose dimension
// does not match the collection's established dimension.
type AdaptPolicy int

const (
	StrictMode   AdaptPolicy = iota // reject on mismatch (default)
	SmartAdapt                      // truncate/pad driven by per-dimension magnitude
	AutoTruncate                    // drop trailing dimensions (a shorter vector is zero-padded)
	AutoPad                         // zero-pad (a longer vector is truncated)
	WarnOnly                        // log, store a truncated/padded copy, and still report the mismatch
)

// ErrDimensionMismatch is returned by WarnOnly (as a warning, not a
// hard failure signal: callers may ignore it) and by StrictMode (as
// a hard failure).
type ErrDimensionMismatch struct {
	Source, Target int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("collection: vector dimension %d does not match collection dimension %d", e.Source, e.Target)
}

// DimensionAdapter reshapes vectors between a point's native
// dimension and a collection's established dimension.
type DimensionAdapter struct {
	policy AdaptPolicy
	log    logging.Logger
}

// NewDimensionAdapter builds an adapter applying policy, logging
// adaptation events through log.
func NewDimensionAdapter(policy AdaptPolicy, log logging.Logger) *DimensionAdapter {
	if log == nil {
		log = logging.Nop()
	}
	return &DimensionAdapter{policy: policy, log: log}
}

// Adapt reshapes vector to targetDim per the adapter's policy. id is
// used only for log attribution.
func (da *DimensionAdapter) Adapt(id int64, vector []float32, targetDim int) ([]float32, error) {
	sourceDim := len(vector)
	if sourceDim == targetDim {
		return vector, nil
	}

	switch da.policy {
	case StrictMode:
		return nil, &ErrDimensionMismatch{Source: sourceDim, Target: targetDim}
	case SmartAdapt:
		da.log.Debug("dimension adapt: smart", "id", id, "source", sourceDim, "target", targetDim)
		return da.smartAdapt(vector, targetDim), nil
	case AutoTruncate:
		da.log.Debug("dimension adapt: truncate", "id", id, "source", sourceDim, "target", targetDim)
		return truncateVector(vector, targetDim), nil
	case AutoPad:
		da.log.Debug("dimension adapt: pad", "id", id, "source", sourceDim, "target", targetDim)
		return padVector(vector, targetDim), nil
	case WarnOnly:
		// the vector store holds fixed-width slots, so even WarnOnly
		// must produce a usable vector; it differs from the other
		// policies only in still reporting the mismatch as an error.
		da.log.Warn("dimension mismatch, storing truncated/padded copy", "id", id, "source", sourceDim, "target", targetDim)
		return truncateVector(vector, targetDim), &ErrDimensionMismatch{Source: sourceDim, Target: targetDim}
	default:
		return nil, fmt.Errorf("collection: unknown adaptation policy %v", da.policy)
	}
}

func (da *DimensionAdapter) smartAdapt(vector []float32, targetDim int) []float32 {
	if len(vector) > targetDim {
		return truncateWithImportance(vector, targetDim)
	}
	return padWithNoise(vector, targetDim)
}

func truncateVector(vector []float32, targetDim int) []float32 {
	if targetDim >= len(vector) {
		result := make([]float32, targetDim)
		copy(result, vector)
		return normalizeVector(result)
	}
	result := make([]float32, targetDim)
	copy(result, vector[:targetDim])
	return normalizeVector(result)
}

func truncateWithImportance(vector []float32, targetDim int) []float32 {
	if targetDim >= len(vector) {
		return vector
	}
	type dimValue struct {
		index int
		value float32
	}
	dims := make([]dimValue, len(vector))
	for i, v := range vector {
		dims[i] = dimValue{index: i, value: v}
	}
	sort.Slice(dims, func(i, j int) bool {
		return float32Abs(dims[i].value) > float32Abs(dims[j].value)
	})
	selected := dims[:targetDim]
	sort.Slice(selected, func(i, j int) bool { return selected[i].index < selected[j].index })

	result := make([]float32, targetDim)
	for i, d := range selected {
		result[i] = d.value
	}
	return normalizeVector(result)
}

func padVector(vector []float32, targetDim int) []float32 {
	if targetDim <= len(vector) {
		return normalizeVector(vector[:targetDim])
	}
	result := make([]float32, targetDim)
	copy(result, vector)
	return normalizeVector(result)
}

func padWithNoise(vector []float32, targetDim int) []float32 {
	if targetDim <= len(vector) {
		return vector[:targetDim]
	}
	result := make([]float32, targetDim)
	copy(result, vector)

	stddev := vectorStddev(vector)
	noiseLevel := stddev * 0.01
	for i := len(vector); i < targetDim; i++ {
		result[i] = float32(rand.NormFloat64()) * noiseLevel
	}
	return normalizeVector(result)
}

func normalizeVector(vector []float32) []float32 {
	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return vector
	}
	norm := math.Sqrt(sumSquares)
	result := make([]float32, len(vector))
	for i, v := range vector {
		result[i] = float32(float64(v) / norm)
	}
	return result
}

func vectorStddev(vector []float32) float32 {
	if len(vector) <= 1 {
		return 0
	}
	var sum float64
	for _, v := range vector {
		sum += float64(v)
	}
	mean := sum / float64(len(vector))
	var variance float64
	for _, v := range vector {
		diff := float64(v) - mean
		variance += diff * diff
	}
	variance /= float64(len(vector) - 1)
	return float32(math.Sqrt(variance))
}

func float32Abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// DimensionAnalysis summarizes the dimension distribution observed
// across a sample of vectors, used to decide whether a collection
// needs a one-time re-embedding migration.
type DimensionAnalysis struct {
	PrimaryDim     int
	PrimaryCount   int
	Dimensions     map[int]int
	TotalVectors   int
	NeedsMigration bool
}

// AnalyzeDimensions reports the dimension distribution of vectors,
// flagging NeedsMigration when less than 80% share the most common
// dimension.
func AnalyzeDimensions(vectors [][]float32) *DimensionAnalysis {
	if len(vectors) == 0 {
		return &DimensionAnalysis{Dimensions: make(map[int]int)}
	}
	dimensions := make(map[int]int)
	for _, v := range vectors {
		dimensions[len(v)]++
	}
	primaryDim, primaryCount := 0, 0
	for dim, count := range dimensions {
		if count > primaryCount {
			primaryDim, primaryCount = dim, count
		}
	}
	needsMigration := float64(primaryCount)/float64(len(vectors)) < 0.8 && len(dimensions) > 1
	return &DimensionAnalysis{
		PrimaryDim:     primaryDim,
		PrimaryCount:   primaryCount,
		Dimensions:     dimensions,
		TotalVectors:   len(vectors),
		NeedsMigration: needsMigration,
	}
}
