// Package vector implements embedding math and note embedding on top of an ai.EmbeddingService.
package vector

import (
	"math"
)

// MaxCosineDistance is the upper bound of cosine distance.
const MaxCosineDistance = 2.0

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize scales v to unit length in place and returns it.
// A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	n := Norm(v)
	if n == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
	return v
}

// CosineSimilarity returns the cosine similarity of a and b in [-1, 1].
// Mismatched lengths and zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, sim))
}

// CosineDistance returns 1 - CosineSimilarity, ranging over [0, 2].
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// DistanceThreshold converts a similarity threshold in [0, 1] to a maximum cosine distance.
func DistanceThreshold(similarity float64) float64 {
	return MaxCosineDistance * (1 - similarity)
}

// SimilarityFromDistance converts a cosine distance to a similarity score clamped to [0, 1].
func SimilarityFromDistance(distance float64) float64 {
	return math.Max(0, math.Min(1, 1-distance))
}
