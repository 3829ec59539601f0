// Package similarity computes cosine-similarity scans over stored record
// embeddings: partition-wide near-duplicate ("red zone") detection and
// targeted per-record rankings.
package similarity

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two vectors cannot be compared.
// Mismatches are reported, never silently truncated or conflated with zero
// similarity: a zero typically indicates vectors from different embedding
// models rather than genuine orthogonality.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Cosine returns dot(u,v) / (|u|·|v|) in [-1, 1]. A zero-magnitude vector
// yields 0. Vectors of different lengths are an error.
func Cosine(u, v []float32) (float64, error) {
	if len(u) != len(v) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(u), len(v))
	}

	var dot, normU, normV float64
	for i := range u {
		dot += float64(u[i]) * float64(v[i])
		normU += float64(u[i]) * float64(u[i])
		normV += float64(v[i]) * float64(v[i])
	}
	if normU == 0 || normV == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normU) * math.Sqrt(normV)), nil
}

// Percent rescales a cosine similarity to a rounded integer percentage.
// Negative similarities clamp to 0: for ranking and red-zone purposes,
// anti-correlated content is simply "not similar".
func Percent(sim float64) int {
	pct := int(math.Round(sim * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
