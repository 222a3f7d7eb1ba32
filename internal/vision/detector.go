package vision

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// FaceDetector finds frontal faces with a Haar cascade.
// CascadeClassifier is not safe for concurrent use, so calls are serialized.
type FaceDetector struct {
	mu           sync.Mutex
	cascade      gocv.CascadeClassifier
	path         string
	scaleFactor  float64
	minNeighbors int
}

// NewFaceDetector loads the frontal face cascade.
func NewFaceDetector(modelsDir string) (*FaceDetector, error) {
	cascade, path, err := loadCascade(FaceCascadeFile, modelsDir)
	if err != nil {
		return nil, err
	}
	return &FaceDetector{cascade: cascade, path: path, scaleFactor: 1.3, minNeighbors: 5}, nil
}

// Path returns the cascade file in use.
func (d *FaceDetector) Path() string {
	return d.path
}

// Detect returns the face boxes found in frame, in frame coordinates.
func (d *FaceDetector) Detect(frame image.Image) ([]image.Rectangle, error) {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	d.mu.Lock()
	boxes := d.cascade.DetectMultiScaleWithParams(gray, d.scaleFactor, d.minNeighbors, 0, image.Point{}, image.Point{})
	d.mu.Unlock()

	// Mats are zero-based; SubImage frames are not
	off := frame.Bounds().Min
	for i := range boxes {
		boxes[i] = boxes[i].Add(off)
	}
	return boxes, nil
}

// Close releases the cascade.
func (d *FaceDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cascade.Close()
}

// EyeDetector counts eyes inside a grayscale face crop.
type EyeDetector struct {
	mu      sync.Mutex
	cascade gocv.CascadeClassifier
	path    string
}

// NewEyeDetector loads the eye cascade.
func NewEyeDetector(modelsDir string) (*EyeDetector, error) {
	cascade, path, err := loadCascade(EyeCascadeFile, modelsDir)
	if err != nil {
		return nil, err
	}
	return &EyeDetector{cascade: cascade, path: path}, nil
}

// Path returns the cascade file in use.
func (d *EyeDetector) Path() string {
	return d.path
}

// CountEyes returns the number of eyes found in face.
func (d *EyeDetector) CountEyes(face *image.Gray) (int, error) {
	if face == nil || face.Rect.Empty() {
		return 0, fmt.Errorf("empty face crop")
	}
	mat, err := gocv.ImageGrayToMatGray(face)
	if err != nil {
		return 0, fmt.Errorf("convert face: %w", err)
	}
	defer mat.Close()

	d.mu.Lock()
	defer d.mu.Unlock()
	eyes := d.cascade.DetectMultiScaleWithParams(mat, 1.1, 3, 0, image.Point{}, image.Point{})
	return len(eyes), nil
}

// Close releases the cascade.
func (d *EyeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cascade.Close()
}
