// Package vision wraps the OpenCV pieces facelog uses: Haar cascades for
// faces and eyes, camera capture and frame annotation.
package vision

import (
	"fmt"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

const (
	FaceCascadeFile = "haarcascade_frontalface_default.xml"
	EyeCascadeFile  = "haarcascade_eye.xml"
)

// systemCascadeDirs are the usual install locations of the OpenCV haarcascades.
var systemCascadeDirs = []string{
	"/usr/local/share/opencv4/haarcascades",
	"/usr/share/opencv4/haarcascades",
	"/opt/homebrew/share/opencv4/haarcascades",
	"/usr/share/opencv/haarcascades",
}

// CascadePaths lists candidate locations for a cascade file, most specific first.
func CascadePaths(name, modelsDir string) []string {
	var paths []string
	if modelsDir != "" {
		paths = append(paths, filepath.Join(modelsDir, name), filepath.Join(modelsDir, "haarcascades", name))
	}
	if dir := os.Getenv("OPENCV_CASCADE_PATH"); dir != "" {
		paths = append(paths, filepath.Join(dir, name))
	}
	paths = append(paths, name)
	for _, dir := range systemCascadeDirs {
		paths = append(paths, filepath.Join(dir, name))
	}
	return paths
}

// loadCascade loads the first candidate that exists and parses.
func loadCascade(name, modelsDir string) (gocv.CascadeClassifier, string, error) {
	classifier := gocv.NewCascadeClassifier()
	for _, path := range CascadePaths(name, modelsDir) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if classifier.Load(path) {
			return classifier, path, nil
		}
	}
	classifier.Close()
	return gocv.CascadeClassifier{}, "", fmt.Errorf("failed to load %s from %s or system OpenCV paths", name, modelsDir)
}
