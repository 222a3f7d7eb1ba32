package worker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/andresmejia3/facelog/internal/types"
)

// Detector finds face boxes in a decoded frame.
type Detector interface {
	Detect(frame image.Image) ([]image.Rectangle, error)
}

// DetectWorker decodes MJPEG frames and runs a face detector over them.
type DetectWorker struct {
	ID       int
	detector Detector
	// release hands the encoded buffer back once it has been decoded
	release func([]byte)
}

func NewDetectWorker(id int, d Detector, release func([]byte)) *DetectWorker {
	return &DetectWorker{ID: id, detector: d, release: release}
}

// ProcessFrame decodes task.Data and detects faces in it.
// It always returns a result for task.Index, with Err set on failure.
func (w *DetectWorker) ProcessFrame(task types.FrameTask) types.FrameResult {
	img, err := jpeg.Decode(bytes.NewReader(task.Data))

	// Return buffer to pool immediately after decoding
	if w.release != nil {
		w.release(task.Data)
	}

	if err != nil {
		return types.FrameResult{Index: task.Index, Err: fmt.Errorf("worker %d: decode frame %d: %w", w.ID, task.Index, err)}
	}

	boxes, err := w.detector.Detect(img)
	if err != nil {
		return types.FrameResult{Index: task.Index, Frame: img, Err: fmt.Errorf("worker %d: detect frame %d: %w", w.ID, task.Index, err)}
	}
	return types.FrameResult{Index: task.Index, Frame: img, Boxes: boxes}
}

// Run processes tasks until the channel is closed or ctx is cancelled.
func (w *DetectWorker) Run(ctx context.Context, tasks <-chan types.FrameTask, results chan<- types.FrameResult) {
	for task := range tasks {
		res := w.ProcessFrame(task)
		select {
		case results <- res:
		case <-ctx.Done():
			return
		}
	}
}

// StartPool runs one worker per detector and closes results once every worker has returned.
func StartPool(ctx context.Context, detectors []Detector, release func([]byte), tasks <-chan types.FrameTask, results chan<- types.FrameResult) {
	var wg sync.WaitGroup
	for i, d := range detectors {
		wg.Add(1)
		go func(w *DetectWorker) {
			defer wg.Done()
			w.Run(ctx, tasks, results)
		}(NewDetectWorker(i, d, release))
	}
	go func() {
		wg.Wait()
		close(results)
	}()
}

// Sequencer re-orders results so frames come out in the order they were read,
// even when a later frame finishes first (worker 2 before worker 1).
type Sequencer struct {
	next   int
	step   int
	buffer map[int]types.FrameResult
}

// NewSequencer expects indexes first, first+step, first+2*step, ...
func NewSequencer(first, step int) *Sequencer {
	if step < 1 {
		step = 1
	}
	return &Sequencer{next: first, step: step, buffer: make(map[int]types.FrameResult)}
}

// Push buffers res and returns every result that is now ready, in order.
func (s *Sequencer) Push(res types.FrameResult) []types.FrameResult {
	s.buffer[res.Index] = res

	var ready []types.FrameResult
	for {
		r, ok := s.buffer[s.next]
		if !ok {
			break
		}
		delete(s.buffer, s.next)
		ready = append(ready, r)
		s.next += s.step
	}
	return ready
}

// Pending reports how many results are waiting on an earlier frame.
func (s *Sequencer) Pending() int {
	return len(s.buffer)
}
