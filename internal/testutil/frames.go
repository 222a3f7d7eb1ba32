// Package testutil builds synthetic frames for tests.
package testutil

import (
	"image"
	"image/color"
)

// Frame returns a w x h RGBA frame filled with the gray level bg.
func Frame(w, h int, bg uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	Fill(img, img.Bounds(), bg)
	return img
}

// Fill paints r with a flat gray level.
func Fill(img *image.RGBA, r image.Rectangle, v uint8) {
	c := color.RGBA{R: v, G: v, B: v, A: 255}
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// Checker paints r with a checkerboard of square-pixel tiles alternating lo and hi.
func Checker(img *image.RGBA, r image.Rectangle, square int, lo, hi uint8) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			v := lo
			if ((x-r.Min.X)/square+(y-r.Min.Y)/square)%2 == 1 {
				v = hi
			}
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
}

// Stripes paints r with stripes of the given width alternating lo and hi.
// Vertical stripes vary along x, horizontal stripes along y.
func Stripes(img *image.RGBA, r image.Rectangle, width int, vertical bool, lo, hi uint8) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			k := (y - r.Min.Y) / width
			if vertical {
				k = (x - r.Min.X) / width
			}
			v := lo
			if k%2 == 1 {
				v = hi
			}
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
}

// Gray converts a flat 8-bit slice into a w x h grayscale image.
func Gray(w, h int, fn func(x, y int) uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g.SetGray(x, y, color.Gray{Y: fn(x, y)})
		}
	}
	return g
}
