// Package vectormath provides pure numeric primitives for embedding vectors.
// All functions are stateless; callers accumulate in float64 even though
// stored vectors are float32, to keep precision over 1536 dimensions.
package vectormath

import (
	"math"

	"github.com/pkg/errors"
)

// ErrDimensionMismatch is returned when two vectors of different lengths are compared.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// CosineSimilarity calculates cosine similarity between two vectors.
// A zero vector on either side yields 0 (no signal, not an error).
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.Wrapf(ErrDimensionMismatch, "len(a)=%d len(b)=%d", len(a), len(b))
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// CosineDistance is 1 - cosine similarity, in [0, 2].
func CosineDistance(a, b []float32) (float64, error) {
	sim, err := CosineSimilarity(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - sim, nil
}

// L2Distance calculates the Euclidean distance between two vectors.
func L2Distance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.Wrapf(ErrDimensionMismatch, "len(a)=%d len(b)=%d", len(a), len(b))
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// InnerProduct calculates the dot product of two vectors.
func InnerProduct(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.Wrapf(ErrDimensionMismatch, "len(a)=%d len(b)=%d", len(a), len(b))
	}

	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum, nil
}

// Norm returns the L2 norm of a vector.
func Norm(v []float32) float64 {
	var sum float64
	for i := range v {
		sum += float64(v[i]) * float64(v[i])
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v. A zero vector is returned
// unchanged. Idempotent: Normalize(Normalize(v)) == Normalize(v).
// The input slice is never mutated.
func Normalize(v []float32) []float32 {
	norm := Norm(v)
	if norm == 0 {
		return v
	}

	result := make([]float32, len(v))
	for i := range v {
		result[i] = float32(float64(v[i]) / norm)
	}
	return result
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for i := range v {
		if v[i] != 0 {
			return false
		}
	}
	return true
}
