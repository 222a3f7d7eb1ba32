// Package features turns an accepted face region into a fixed-length descriptor.
//
// The descriptor is a hand-crafted gradient histogram (HOG) over a normalized
// grayscale crop. It separates coarse face appearance well enough for
// short-window duplicate suppression; it is not a recognition network.
package features

import (
	"errors"
	"fmt"
	"image"

	"github.com/andresmejia3/facelog/internal/match"
)

const (
	// DefaultPadding is added around the detected box before cropping.
	DefaultPadding = 20
	// DefaultCropSize is the side of the stored face crop.
	DefaultCropSize = 112
)

// ErrExtraction is the root of every extraction failure.
var ErrExtraction = errors.New("feature extraction failed")

// Face is an accepted face: the normalized crop and its descriptor.
type Face struct {
	Region     image.Rectangle // padded region of the source frame
	Crop       *image.RGBA     // CropSize x CropSize color crop for storage
	Descriptor match.Descriptor
}

// Extractor crops, normalizes and describes faces.
type Extractor struct {
	Padding  int
	CropSize int
	HOG      HOG
}

// NewExtractor returns an Extractor with the default geometry.
func NewExtractor() *Extractor {
	return &Extractor{
		Padding:  DefaultPadding,
		CropSize: DefaultCropSize,
		HOG:      DefaultHOG,
	}
}

// Extract computes the descriptor of the face at box. Every failure, including a
// panic from the image code, is reported as an error wrapping ErrExtraction.
func (e *Extractor) Extract(frame image.Image, box image.Rectangle) (face *Face, err error) {
	defer func() {
		if r := recover(); r != nil {
			face = nil
			err = fmt.Errorf("%w: %v", ErrExtraction, r)
		}
	}()

	if frame == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrExtraction)
	}

	region := Pad(box.Canon(), e.Padding, frame.Bounds())
	if region.Empty() {
		return nil, fmt.Errorf("%w: box %v outside frame %v", ErrExtraction, box, frame.Bounds())
	}

	crop := Resize(Crop(frame, region), e.CropSize, e.CropSize)
	gray := ResizeGray(crop, e.HOG.Window, e.HOG.Window)

	vec, err := e.HOG.Compute(gray)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	return &Face{
		Region:     region,
		Crop:       crop,
		Descriptor: match.Descriptor(vec),
	}, nil
}
