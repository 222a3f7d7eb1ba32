package quality

import (
	"errors"
	"image"
	"testing"

	"github.com/andresmejia3/facelog/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEyes struct {
	count int
	err   error
	panic bool
	calls int
}

func (f *fakeEyes) CountEyes(*image.Gray) (int, error) {
	f.calls++
	if f.panic {
		panic("cascade exploded")
	}
	return f.count, f.err
}

func goodFrame() (*image.RGBA, image.Rectangle) {
	frame := testutil.Frame(320, 240, 100)
	box := image.Rect(100, 60, 200, 160)
	testutil.Checker(frame, box, 5, 60, 200)
	return frame, box
}

func TestAssess_Accepts(t *testing.T) {
	frame, box := goodFrame()
	g := NewGate(DefaultThresholds(), &fakeEyes{count: 2})

	v := g.Assess(frame, box)
	assert.True(t, v.Accepted)
	assert.Equal(t, ReasonOK, v.Reason)
	assert.InDelta(t, 130, v.Brightness, 1)
	assert.InDelta(t, 70, v.Contrast, 1)
	assert.NoError(t, v.Err())
}

func TestAssess_TooSmall(t *testing.T) {
	frame, _ := goodFrame()
	eyes := &fakeEyes{count: 2}
	g := NewGate(DefaultThresholds(), eyes)

	boxes := []image.Rectangle{
		image.Rect(100, 60, 159, 160), // width 59
		image.Rect(100, 60, 200, 119), // height 59
		image.Rect(100, 60, 110, 70),
		image.Rect(0, 0, 1, 1),
		image.Rect(5, 5, 5, 5),
	}
	for _, box := range boxes {
		v := g.Assess(frame, box)
		assert.False(t, v.Accepted, "box %v", box)
		assert.Equal(t, ReasonTooSmall, v.Reason, "box %v", box)
	}
	assert.Zero(t, eyes.calls, "size check must short-circuit before eye detection")
}

func TestAssess_RejectionOrder(t *testing.T) {
	tests := []struct {
		name   string
		box    image.Rectangle
		paint  func(*image.RGBA, image.Rectangle)
		eyes   *fakeEyes
		reason string
	}{
		{
			name:   "left border",
			box:    image.Rect(10, 60, 110, 160),
			eyes:   &fakeEyes{count: 2},
			reason: ReasonNearBorder,
		},
		{
			name:   "top border",
			box:    image.Rect(100, 5, 200, 105),
			eyes:   &fakeEyes{count: 2},
			reason: ReasonNearBorder,
		},
		{
			name:   "right border",
			box:    image.Rect(210, 60, 310, 160),
			eyes:   &fakeEyes{count: 2},
			reason: ReasonNearBorder,
		},
		{
			name:   "bottom border",
			box:    image.Rect(100, 130, 200, 230),
			eyes:   &fakeEyes{count: 2},
			reason: ReasonNearBorder,
		},
		{
			name:   "too wide",
			box:    image.Rect(60, 60, 190, 160),
			eyes:   &fakeEyes{count: 2},
			reason: ReasonMisaligned,
		},
		{
			name:   "too tall",
			box:    image.Rect(100, 30, 170, 160),
			eyes:   &fakeEyes{count: 2},
			reason: ReasonMisaligned,
		},
		{
			name:   "one eye",
			box:    image.Rect(100, 60, 200, 160),
			eyes:   &fakeEyes{count: 1},
			reason: ReasonEyesHidden,
		},
		{
			name: "dark",
			box:  image.Rect(100, 60, 200, 160),
			paint: func(f *image.RGBA, r image.Rectangle) {
				testutil.Checker(f, r, 5, 5, 60)
			},
			eyes:   &fakeEyes{count: 2},
			reason: ReasonTooDark,
		},
		{
			name: "bright",
			box:  image.Rect(100, 60, 200, 160),
			paint: func(f *image.RGBA, r image.Rectangle) {
				testutil.Checker(f, r, 5, 225, 255)
			},
			eyes:   &fakeEyes{count: 2},
			reason: ReasonTooBright,
		},
		{
			name: "flat",
			box:  image.Rect(100, 60, 200, 160),
			paint: func(f *image.RGBA, r image.Rectangle) {
				testutil.Checker(f, r, 5, 120, 130)
			},
			eyes:   &fakeEyes{count: 2},
			reason: ReasonLowContrast,
		},
		{
			name:   "detector error",
			box:    image.Rect(100, 60, 200, 160),
			eyes:   &fakeEyes{err: errors.New("mat conversion failed")},
			reason: ReasonError,
		},
		{
			name:   "detector panic",
			box:    image.Rect(100, 60, 200, 160),
			eyes:   &fakeEyes{panic: true},
			reason: ReasonError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := testutil.Frame(320, 240, 100)
			testutil.Checker(frame, tt.box, 5, 60, 200)
			if tt.paint != nil {
				tt.paint(frame, tt.box)
			}

			v := NewGate(DefaultThresholds(), tt.eyes).Assess(frame, tt.box)
			assert.False(t, v.Accepted)
			assert.Equal(t, tt.reason, v.Reason)

			var rejected *RejectedError
			require.ErrorAs(t, v.Err(), &rejected)
			assert.Equal(t, tt.reason, rejected.Reason)
		})
	}
}

func TestAssess_OffsetFrameBounds(t *testing.T) {
	// Frames from SubImage keep their parent's coordinates
	parent, _ := goodFrame()
	sub := parent.SubImage(image.Rect(50, 20, 270, 220)).(*image.RGBA)

	g := NewGate(DefaultThresholds(), &fakeEyes{count: 2})
	v := g.Assess(sub, image.Rect(100, 60, 200, 160))
	assert.True(t, v.Accepted, v.Reason)

	// 5px from the sub-frame's left edge
	v = g.Assess(sub, image.Rect(55, 60, 155, 160))
	assert.Equal(t, ReasonNearBorder, v.Reason)
}

func TestAssess_MissingFrame(t *testing.T) {
	eyes := &fakeEyes{count: 2}
	g := NewGate(DefaultThresholds(), eyes)
	box := image.Rect(100, 60, 200, 160)

	var typedNil *image.RGBA
	for name, frame := range map[string]image.Image{"nil": nil, "typed nil": typedNil} {
		var v Verdict
		require.NotPanics(t, func() { v = g.Assess(frame, box) }, name)
		assert.False(t, v.Accepted, name)
		assert.Equal(t, ReasonError, v.Reason, name)
	}
	assert.Zero(t, eyes.calls)
}
