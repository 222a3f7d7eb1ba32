package features

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// l2HysClip is the clipping level applied between the two block normalizations.
const l2HysClip = 0.2

// ErrDegenerate is returned when a descriptor has zero norm (e.g. a perfectly flat crop).
var ErrDegenerate = errors.New("descriptor has zero norm")

// HOG holds the geometry of a histogram-of-oriented-gradients descriptor.
// All sizes are in pixels except Bins.
type HOG struct {
	Window int
	Block  int
	Stride int
	Cell   int
	Bins   int
}

// DefaultHOG is a 128x128 window with 16x16 blocks, 8x8 stride, 8x8 cells and 9 unsigned bins.
var DefaultHOG = HOG{Window: 128, Block: 16, Stride: 8, Cell: 8, Bins: 9}

func (h HOG) blocksPerSide() int {
	return (h.Window-h.Block)/h.Stride + 1
}

func (h HOG) cellsPerBlockSide() int {
	return h.Block / h.Cell
}

// Size returns the length of the descriptor produced by Compute.
func (h HOG) Size() int {
	bps := h.blocksPerSide()
	cpb := h.cellsPerBlockSide()
	return bps * bps * cpb * cpb * h.Bins
}

func (h HOG) validate() error {
	if h.Window <= 0 || h.Block <= 0 || h.Stride <= 0 || h.Cell <= 0 || h.Bins <= 0 {
		return fmt.Errorf("invalid hog geometry %+v", h)
	}
	if h.Block%h.Cell != 0 || h.Stride%h.Cell != 0 || h.Window%h.Cell != 0 || h.Block > h.Window {
		return fmt.Errorf("hog geometry %+v is not cell aligned", h)
	}
	return nil
}

// Compute returns the L2-normalized HOG descriptor of gray, which must be exactly Window x Window.
func (h HOG) Compute(gray *image.Gray) ([]float32, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	b := gray.Bounds()
	if b.Dx() != h.Window || b.Dy() != h.Window {
		return nil, fmt.Errorf("hog input is %dx%d, want %dx%d", b.Dx(), b.Dy(), h.Window, h.Window)
	}

	cells := h.cellHistograms(gray)
	cellsPerSide := h.Window / h.Cell
	cpb := h.cellsPerBlockSide()
	step := h.Stride / h.Cell
	bps := h.blocksPerSide()

	out := make([]float32, 0, h.Size())
	block := make([]float64, cpb*cpb*h.Bins)

	for by := 0; by < bps; by++ {
		for bx := 0; bx < bps; bx++ {
			k := 0
			for cx := 0; cx < cpb; cx++ {
				for cy := 0; cy < cpb; cy++ {
					hist := cells[(by*step+cy)*cellsPerSide+bx*step+cx]
					copy(block[k:k+h.Bins], hist)
					k += h.Bins
				}
			}
			normalizeL2Hys(block)
			for _, v := range block {
				out = append(out, float32(v))
			}
		}
	}

	var norm float64
	for _, v := range out {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return nil, ErrDegenerate
	}
	inv := 1 / math.Sqrt(norm)
	for i := range out {
		out[i] = float32(float64(out[i]) * inv)
	}
	return out, nil
}

// cellHistograms bins gradient magnitudes per cell, interpolating linearly between
// the two nearest orientation bins. Orientation is unsigned, in [0, 180).
func (h HOG) cellHistograms(gray *image.Gray) [][]float64 {
	cellsPerSide := h.Window / h.Cell
	cells := make([][]float64, cellsPerSide*cellsPerSide)
	for i := range cells {
		cells[i] = make([]float64, h.Bins)
	}

	binWidth := 180.0 / float64(h.Bins)
	w := h.Window

	at := func(x, y int) float64 {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), w-1)
		return float64(gray.Pix[y*gray.Stride+x])
	}

	for y := 0; y < w; y++ {
		for x := 0; x < w; x++ {
			gx := at(x+1, y) - at(x-1, y)
			gy := at(x, y+1) - at(x, y-1)
			mag := math.Hypot(gx, gy)
			if mag == 0 {
				continue
			}

			angle := math.Atan2(gy, gx) * 180 / math.Pi
			if angle < 0 {
				angle += 180
			}
			if angle >= 180 {
				angle -= 180
			}

			pos := angle/binWidth - 0.5
			lo := int(math.Floor(pos))
			frac := pos - float64(lo)
			hi := lo + 1
			lo = (lo + h.Bins) % h.Bins
			hi = hi % h.Bins

			hist := cells[(y/h.Cell)*cellsPerSide+x/h.Cell]
			hist[lo] += mag * (1 - frac)
			hist[hi] += mag * frac
		}
	}
	return cells
}

// normalizeL2Hys applies L2 normalization, clips at l2HysClip and renormalizes.
func normalizeL2Hys(v []float64) {
	const eps = 1e-3
	scale := func() {
		var sum float64
		for _, x := range v {
			sum += x * x
		}
		inv := 1 / math.Sqrt(sum+eps*eps)
		for i := range v {
			v[i] *= inv
		}
	}

	scale()
	for i := range v {
		if v[i] > l2HysClip {
			v[i] = l2HysClip
		}
	}
	scale()
}
