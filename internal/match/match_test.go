package match

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    Descriptor
		b    Descriptor
		want float64
	}{
		{
			name: "Identical vectors",
			a:    Descriptor{1, 0},
			b:    Descriptor{1, 0},
			want: 1,
		},
		{
			name: "Orthogonal vectors",
			a:    Descriptor{1, 0},
			b:    Descriptor{0, 1},
			want: 0,
		},
		{
			name: "Opposite vectors",
			a:    Descriptor{1, 0},
			b:    Descriptor{-1, 0},
			want: -1,
		},
		{
			name: "B is unnormalized (scaled)",
			a:    Descriptor{1, 0},
			b:    Descriptor{5, 0},
			want: 1,
		},
		{
			name: "Zero vector",
			a:    Descriptor{0, 0},
			b:    Descriptor{1, 0},
			want: 0,
		},
		{
			name: "Empty vectors",
			a:    Descriptor{},
			b:    Descriptor{},
			want: 0,
		},
		{
			name: "Length mismatch",
			a:    Descriptor{1, 0, 0},
			b:    Descriptor{1, 0},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Similarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineDist(t *testing.T) {
	assert.InDelta(t, 0.0, CosineDist(Descriptor{0.6, 0.8}, Descriptor{0.6, 0.8}), 1e-6)
	assert.InDelta(t, 1.0, CosineDist(Descriptor{}, Descriptor{}), 1e-9)
}

func TestSameIdentity_SelfMatch(t *testing.T) {
	m := NewMatcher(DefaultThreshold)
	vectors := []Descriptor{
		{1},
		{0.6, 0.8},
		{0.1, -0.2, 0.3, 0.4},
		{1e-3, 0, 0, 0, 0, 0},
	}
	for _, v := range vectors {
		assert.True(t, m.SameIdentity(v, v), "vector %v must match itself", v)
	}
	assert.False(t, m.SameIdentity(Descriptor{0, 0}, Descriptor{0, 0}), "zero vectors never match")
}

func TestSameIdentity_AtOrBelowThreshold(t *testing.T) {
	a := Descriptor{1, 0}
	b := Descriptor{0.6, 0.8}

	// Similarity equal to the threshold is not a match
	atThreshold := Matcher{Threshold: Similarity(a, b)}
	assert.False(t, atThreshold.SameIdentity(a, b))

	m := NewMatcher(0.6)

	// cos = 0.5
	c := Descriptor{0.5, float32(math.Sqrt(0.75))}
	assert.False(t, m.SameIdentity(a, c))

	// cos = 0.8
	d := Descriptor{0.8, 0.6}
	assert.True(t, m.SameIdentity(a, d))
}

func TestNewMatcher_InvalidThreshold(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewMatcher(math.NaN()).Threshold)
	assert.Equal(t, DefaultThreshold, NewMatcher(1.5).Threshold)
	assert.Equal(t, DefaultThreshold, NewMatcher(-1).Threshold)
	assert.Equal(t, 0.75, NewMatcher(0.75).Threshold)
}

func TestNorm(t *testing.T) {
	assert.InDelta(t, 1.0, Descriptor{0.6, 0.8}.Norm(), 1e-6)
	assert.Equal(t, 0.0, Descriptor{}.Norm())
}
