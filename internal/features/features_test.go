package features

import (
	"image"
	"testing"

	"github.com/andresmejia3/facelog/internal/match"
	"github.com/andresmejia3/facelog/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHOGSize(t *testing.T) {
	// 15x15 blocks, 2x2 cells per block, 9 bins
	assert.Equal(t, 8100, DefaultHOG.Size())
}

func TestHOGCompute(t *testing.T) {
	checker := testutil.Gray(128, 128, func(x, y int) uint8 {
		if (x/8+y/8)%2 == 1 {
			return 200
		}
		return 60
	})

	vec, err := DefaultHOG.Compute(checker)
	require.NoError(t, err)
	assert.Len(t, vec, DefaultHOG.Size())
	assert.InDelta(t, 1.0, match.Descriptor(vec).Norm(), 1e-4)
	for i, v := range vec {
		if v < 0 {
			t.Fatalf("component %d is negative: %f", i, v)
		}
	}
}

func TestHOGCompute_Errors(t *testing.T) {
	flat := testutil.Gray(128, 128, func(int, int) uint8 { return 128 })
	_, err := DefaultHOG.Compute(flat)
	assert.ErrorIs(t, err, ErrDegenerate)

	small := testutil.Gray(64, 64, func(x, _ int) uint8 { return uint8(x) })
	_, err = DefaultHOG.Compute(small)
	assert.Error(t, err)

	bad := HOG{Window: 128, Block: 12, Stride: 8, Cell: 8, Bins: 9}
	_, err = bad.Compute(testutil.Gray(128, 128, func(x, _ int) uint8 { return uint8(x) }))
	assert.Error(t, err)
}

func TestHOGCompute_OrientationSeparates(t *testing.T) {
	vertical := testutil.Gray(128, 128, func(x, _ int) uint8 {
		if (x/4)%2 == 1 {
			return 200
		}
		return 50
	})
	horizontal := testutil.Gray(128, 128, func(_, y int) uint8 {
		if (y/4)%2 == 1 {
			return 200
		}
		return 50
	})

	v, err := DefaultHOG.Compute(vertical)
	require.NoError(t, err)
	h, err := DefaultHOG.Compute(horizontal)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, match.Similarity(v, v), 1e-6)
	assert.Less(t, match.Similarity(v, h), 0.1, "orthogonal gradients should not look alike")
}

func TestExtract(t *testing.T) {
	frame := testutil.Frame(320, 240, 90)
	box := image.Rect(100, 60, 200, 160)
	testutil.Checker(frame, box, 10, 50, 210)

	e := NewExtractor()
	face, err := e.Extract(frame, box)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(80, 40, 220, 180), face.Region)
	assert.Equal(t, image.Rect(0, 0, DefaultCropSize, DefaultCropSize), face.Crop.Bounds())
	assert.Len(t, face.Descriptor, DefaultHOG.Size())
	assert.InDelta(t, 1.0, face.Descriptor.Norm(), 1e-4)

	again, err := e.Extract(frame, box)
	require.NoError(t, err)
	assert.Equal(t, face.Descriptor, again.Descriptor, "extraction must be deterministic")
}

func TestExtract_PaddingClampedToFrame(t *testing.T) {
	frame := testutil.Frame(200, 200, 90)
	box := image.Rect(5, 5, 105, 105)
	testutil.Checker(frame, box, 10, 50, 210)

	face, err := NewExtractor().Extract(frame, box)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 125, 125), face.Region)
}

func TestExtract_Failures(t *testing.T) {
	e := NewExtractor()

	_, err := e.Extract(nil, image.Rect(0, 0, 10, 10))
	assert.ErrorIs(t, err, ErrExtraction)

	frame := testutil.Frame(100, 100, 128)
	_, err = e.Extract(frame, image.Rect(500, 500, 600, 600))
	assert.ErrorIs(t, err, ErrExtraction)

	// A perfectly flat region has no gradients and therefore no descriptor
	_, err = e.Extract(frame, image.Rect(20, 20, 80, 80))
	assert.ErrorIs(t, err, ErrExtraction)
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestMeanStdDev(t *testing.T) {
	g := testutil.Gray(4, 4, func(x, _ int) uint8 {
		if x%2 == 0 {
			return 100
		}
		return 140
	})
	mean, std := MeanStdDev(g)
	assert.InDelta(t, 120, mean, 1e-9)
	assert.InDelta(t, 20, std, 1e-9)

	mean, std = MeanStdDev(image.NewGray(image.Rect(0, 0, 0, 0)))
	assert.Zero(t, mean)
	assert.Zero(t, std)
}

func TestPad(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 100)
	assert.Equal(t, image.Rect(10, 10, 70, 70), Pad(image.Rect(30, 30, 50, 50), 20, bounds))
	assert.Equal(t, image.Rect(0, 0, 100, 100), Pad(image.Rect(10, 10, 90, 90), 20, bounds))
	assert.True(t, Pad(image.Rect(200, 200, 210, 210), 20, bounds).Empty())
}
