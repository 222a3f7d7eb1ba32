package features

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Pad grows box by pad pixels on every side and clamps it to bounds.
func Pad(box image.Rectangle, pad int, bounds image.Rectangle) image.Rectangle {
	return image.Rect(box.Min.X-pad, box.Min.Y-pad, box.Max.X+pad, box.Max.Y+pad).Intersect(bounds)
}

// Crop copies region r of img into a new RGBA image anchored at (0,0).
func Crop(img image.Image, r image.Rectangle) *image.RGBA {
	r = r.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// Grayscale copies region r of img into a new 8-bit grayscale image anchored at (0,0).
// The conversion uses the BT.601 luma weights of color.GrayModel.
func Grayscale(img image.Image, r image.Rectangle) *image.Gray {
	r = r.Intersect(img.Bounds())
	dst := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// Resize scales img to exactly w x h.
func Resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// ResizeGray scales img to a w x h grayscale image.
func ResizeGray(img image.Image, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// MeanStdDev returns the mean intensity and the population standard deviation of gray.
func MeanStdDev(gray *image.Gray) (mean, std float64) {
	b := gray.Bounds()
	n := float64(b.Dx() * b.Dy())
	if n == 0 {
		return 0, 0
	}

	var sum, sumSq float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := gray.Pix[(y-b.Min.Y)*gray.Stride : (y-b.Min.Y)*gray.Stride+b.Dx()]
		for _, p := range row {
			v := float64(p)
			sum += v
			sumSq += v * v
		}
	}

	mean = sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}
