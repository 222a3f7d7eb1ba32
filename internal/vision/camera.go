package vision

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"gocv.io/x/gocv"
)

// ErrNoFrame is returned when the device produced no image.
var ErrNoFrame = errors.New("camera returned no frame")

// Camera reads frames from a capture device.
type Camera struct {
	mu  sync.Mutex
	cap *gocv.VideoCapture
	mat gocv.Mat
}

// OpenCamera opens device id.
func OpenCamera(id int) (*Camera, error) {
	vc, err := gocv.VideoCaptureDevice(id)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", id, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open camera %d: device not available", id)
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	return &Camera{cap: vc, mat: gocv.NewMat()}, nil
}

// Read grabs the next frame.
func (c *Camera) Read() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ok := c.cap.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, ErrNoFrame
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

// Close releases the device.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mat.Close()
	return c.cap.Close()
}

// Label is a box drawn by Annotate.
type Label struct {
	Box  image.Rectangle
	Text string
	OK   bool
}

var (
	green = color.RGBA{0, 255, 0, 0}
	red   = color.RGBA{255, 0, 0, 0}
)

// Annotate draws labels onto a copy of frame and writes it to path.
// Accepted boxes are green and rejected ones red.
func Annotate(frame image.Image, labels []Label, path string) error {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	off := frame.Bounds().Min
	for _, l := range labels {
		box := l.Box.Sub(off)
		c := red
		if l.OK {
			c = green
		}
		gocv.Rectangle(&mat, box, c, 2)
		if l.Text != "" {
			gocv.PutText(&mat, l.Text, image.Pt(box.Min.X, box.Min.Y-10), gocv.FontHersheySimplex, 0.5, c, 2)
		}
	}

	if !gocv.IMWrite(path, mat) {
		return fmt.Errorf("write %s failed", path)
	}
	return nil
}
