package persist

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueFull is returned when the asynchronous writer cannot take more work.
	ErrQueueFull = errors.New("persist queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("persist writer closed")
)

// Blob is one named payload plus the work that depends on it.
type Blob struct {
	Name string
	Data []byte
	// Then runs after the store attempt, in the same unit of work, with the
	// reference the blob ended up at ("" when storing failed).
	Then func(ctx context.Context, ref string)
	// Lost is called when storing fails after Write has already returned a
	// reference. It runs before Then, on a background worker.
	Lost func(err error)
}

// Writer hands blobs and follow-up jobs to storage.
type Writer interface {
	// Write stores b and returns the reference it will be found at. When Write
	// returns an error, neither Then nor Lost is called.
	Write(ctx context.Context, b Blob) (string, error)
	// Do runs job with the same durability semantics as Write.
	Do(ctx context.Context, label string, job func(context.Context) error) error
	// Close flushes pending work.
	Close() error
}

// Direct writes synchronously on the caller's goroutine.
type Direct struct {
	sink Sink
}

// NewDirect returns a synchronous writer.
func NewDirect(sink Sink) *Direct {
	return &Direct{sink: sink}
}

func (d *Direct) Write(ctx context.Context, b Blob) (string, error) {
	if err := d.sink.Write(ctx, b.Name, b.Data); err != nil {
		return "", err
	}
	ref := d.sink.Locate(b.Name)
	if b.Then != nil {
		b.Then(ctx, ref)
	}
	return ref, nil
}

func (d *Direct) Do(ctx context.Context, _ string, job func(context.Context) error) error {
	return job(ctx)
}

func (d *Direct) Close() error { return nil }

type asyncJob struct {
	label string
	run   func(context.Context) error
}

// Async queues work for background workers so callers never wait on I/O.
// Enqueueing never blocks: a full queue is reported as ErrQueueFull.
// Failures that happen after enqueueing go to the blob's Lost callback, or
// to onError when it has none.
type Async struct {
	sink    Sink
	queue   chan asyncJob
	onError func(label string, err error)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsync starts workers background writers over a queue of size slots.
// A single worker preserves write order.
func NewAsync(sink Sink, size, workers int, onError func(label string, err error)) *Async {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}
	a := &Async{
		sink:    sink,
		queue:   make(chan asyncJob, size),
		onError: onError,
	}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.run()
	}
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	// Jobs outlive the request that queued them; Close drains the queue.
	ctx := context.Background()
	for j := range a.queue {
		if err := j.run(ctx); err != nil && a.onError != nil {
			a.onError(j.label, err)
		}
	}
}

func (a *Async) enqueue(j asyncJob) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// Write queues b for the sink and returns its future reference.
func (a *Async) Write(_ context.Context, b Blob) (string, error) {
	ref := a.sink.Locate(b.Name)
	err := a.enqueue(asyncJob{
		label: b.Name,
		run: func(ctx context.Context) error {
			err := a.sink.Write(ctx, b.Name, b.Data)
			stored := ref
			if err != nil {
				stored = ""
				if b.Lost != nil {
					b.Lost(err)
					err = nil
				}
			}
			if b.Then != nil {
				b.Then(ctx, stored)
			}
			return err
		},
	})
	if err != nil {
		return "", err
	}
	return ref, nil
}

// Do queues job.
func (a *Async) Do(_ context.Context, label string, job func(context.Context) error) error {
	return a.enqueue(asyncJob{label: label, run: job})
}

// Pending returns the number of queued jobs.
func (a *Async) Pending() int {
	return len(a.queue)
}

// Close stops accepting work and waits for queued jobs to finish.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	return nil
}
