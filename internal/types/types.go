package types

import "image"

// FrameTask represents a single encoded frame sent to a worker for detection
type FrameTask struct {
	Index int
	Data  []byte
}

// FrameResult carries the decoded frame and the face boxes a worker found in it.
// Err is set when the frame could not be decoded or the detector failed.
type FrameResult struct {
	Index int
	Frame image.Image
	Boxes []image.Rectangle
	Err   error
}
