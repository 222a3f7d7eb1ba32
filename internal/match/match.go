// Package match compares face descriptors.
package match

import "math"

// DefaultThreshold is the cosine similarity above which two descriptors are
// considered the same person.
const DefaultThreshold = 0.6

// Descriptor is a unit-normalized face signature.
type Descriptor []float32

// Norm returns the L2 norm of the descriptor.
func (d Descriptor) Norm() float64 {
	var sum float64
	for _, v := range d {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Similarity returns the cosine similarity between a and b.
// Mismatched lengths, empty vectors and zero-norm vectors yield 0.
func Similarity(a, b Descriptor) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to absorb floating point drift
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}

// CosineDist is 1 - Similarity. Degenerate input returns the maximum distance of 1.
func CosineDist(a, b Descriptor) float64 {
	return 1.0 - Similarity(a, b)
}

// Matcher decides whether two descriptors belong to the same person.
// The decision is a coarse heuristic, not an identity guarantee.
type Matcher struct {
	Threshold float64
}

// NewMatcher returns a Matcher. Thresholds outside (-1, 1) fall back to DefaultThreshold.
func NewMatcher(threshold float64) Matcher {
	if math.IsNaN(threshold) || threshold <= -1 || threshold >= 1 {
		threshold = DefaultThreshold
	}
	return Matcher{Threshold: threshold}
}

// SameIdentity reports whether the similarity of a and b exceeds the threshold.
func (m Matcher) SameIdentity(a, b Descriptor) bool {
	return Similarity(a, b) > m.Threshold
}
