// Package vecmath holds the vector arithmetic shared by the gallery and the matchers.
package vecmath

import (
	"math"

	"gonum.org/v1/gonum/blas/blas32"
)

func vec(v []float32) blas32.Vector {
	return blas32.Vector{N: len(v), Inc: 1, Data: v}
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	if len(v) == 0 {
		return 0
	}
	return float64(blas32.Nrm2(vec(v)))
}

// Normalize returns a unit-length copy of v.
// A zero vector is returned as a zero copy so callers never divide by zero.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	n := Norm(out)
	if n == 0 {
		return out
	}
	blas32.Scal(float32(1/n), vec(out))
	return out
}

// Dot returns the inner product of a and b, or 0 when the lengths differ.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return float64(blas32.Dot(vec(a), vec(b)))
}

// L2Distance returns the Euclidean distance between a and b.
// Vectors of different length are infinitely far apart.
func L2Distance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	if len(a) == 0 {
		return 0
	}
	diff := make([]float32, len(a))
	copy(diff, a)
	blas32.Axpy(-1, vec(b), vec(diff))
	return float64(blas32.Nrm2(vec(diff)))
}

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 2.0
	}

	similarity := Dot(a, b) / (na * nb)
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return 1 - similarity
}
