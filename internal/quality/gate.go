// Package quality decides whether a detected face is good enough to describe and store.
package quality

import (
	"fmt"
	"image"

	"github.com/andresmejia3/facelog/internal/features"
)

// Rejection reasons, in the order the checks run.
const (
	ReasonOK          = "face quality OK"
	ReasonTooSmall    = "face too small"
	ReasonNearBorder  = "face too close to frame borders"
	ReasonMisaligned  = "face not properly aligned"
	ReasonEyesHidden  = "eyes not clearly visible"
	ReasonTooDark     = "image too dark"
	ReasonTooBright   = "image too bright"
	ReasonLowContrast = "low contrast"
	ReasonError       = "error analyzing face"
)

// EyeDetector counts eyes in a grayscale face crop.
type EyeDetector interface {
	CountEyes(face *image.Gray) (int, error)
}

// Thresholds configures the gate. Zero values are not meaningful; use DefaultThresholds.
type Thresholds struct {
	MinSize       int
	BorderMargin  int
	MinAspect     float64
	MaxAspect     float64
	MinEyes       int
	MinBrightness float64
	MaxBrightness float64
	MinContrast   float64
}

// DefaultThresholds returns the stock quality limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSize:       60,
		BorderMargin:  10,
		MinAspect:     0.8,
		MaxAspect:     1.2,
		MinEyes:       2,
		MinBrightness: 40,
		MaxBrightness: 220,
		MinContrast:   20,
	}
}

// Verdict is the outcome of Assess. Reason is always set.
type Verdict struct {
	Accepted   bool
	Reason     string
	Brightness float64
	Contrast   float64
	Eyes       int
}

// Err returns nil for an accepted verdict and a *RejectedError otherwise.
func (v Verdict) Err() error {
	if v.Accepted {
		return nil
	}
	return &RejectedError{Reason: v.Reason}
}

// RejectedError carries the human-readable reason a face was declined.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "quality rejected: " + e.Reason
}

// Gate runs the quality checks against a frame and a detected face box.
type Gate struct {
	limits Thresholds
	eyes   EyeDetector
}

// NewGate returns a Gate. eyes must not be nil.
func NewGate(limits Thresholds, eyes EyeDetector) *Gate {
	return &Gate{limits: limits, eyes: eyes}
}

// Assess checks box against frame. Checks short-circuit on the first failure.
// It never returns an error or panics: a missing frame and analysis failures
// become a rejection with ReasonError.
func (g *Gate) Assess(frame image.Image, box image.Rectangle) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			v = Verdict{Reason: ReasonError}
		}
	}()
	if frame == nil {
		return Verdict{Reason: ReasonError}
	}

	box = box.Canon()
	w, h := box.Dx(), box.Dy()
	l := g.limits

	if w < l.MinSize || h < l.MinSize {
		return Verdict{Reason: ReasonTooSmall}
	}

	fb := frame.Bounds()
	x, y := box.Min.X-fb.Min.X, box.Min.Y-fb.Min.Y
	m := l.BorderMargin
	if x <= m || y <= m || x+w >= fb.Dx()-m || y+h >= fb.Dy()-m {
		return Verdict{Reason: ReasonNearBorder}
	}

	aspect := float64(w) / float64(h)
	if aspect < l.MinAspect || aspect > l.MaxAspect {
		return Verdict{Reason: ReasonMisaligned}
	}

	v, err := g.analyze(frame, box)
	if err != nil {
		return Verdict{Reason: ReasonError}
	}
	return v
}

// analyze runs the eye and exposure checks. Panics from the detector are turned into errors.
func (g *Gate) analyze(frame image.Image, box image.Rectangle) (v Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("face analysis panicked: %v", r)
		}
	}()

	l := g.limits
	gray := features.Grayscale(frame, box)

	eyes, err := g.eyes.CountEyes(gray)
	if err != nil {
		return Verdict{}, fmt.Errorf("eye detection: %w", err)
	}
	v.Eyes = eyes
	if eyes < l.MinEyes {
		v.Reason = ReasonEyesHidden
		return v, nil
	}

	v.Brightness, v.Contrast = features.MeanStdDev(gray)
	switch {
	case v.Brightness < l.MinBrightness:
		v.Reason = ReasonTooDark
	case v.Brightness > l.MaxBrightness:
		v.Reason = ReasonTooBright
	case v.Contrast < l.MinContrast:
		v.Reason = ReasonLowContrast
	default:
		v.Accepted = true
		v.Reason = ReasonOK
	}
	return v, nil
}
