package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memSink records writes in memory. A non-nil gate blocks every write until closed.
type memSink struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	order  []string
	failOn map[string]error
	gate   chan struct{}
}

func newMemSink() *memSink {
	return &memSink{blobs: map[string][]byte{}, failOn: map[string]error{}}
}

func (m *memSink) Locate(name string) string { return "mem://" + name }

func (m *memSink) Write(_ context.Context, name string, data []byte) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[name]; err != nil {
		return err
	}
	m.blobs[name] = data
	m.order = append(m.order, name)
	return nil
}

func (m *memSink) written() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

func TestFaceName(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 123, time.UTC)

	assert.Equal(t, "face_20240309_140507.jpg", FaceName(at, 0))
	assert.Equal(t, "face_20240309_140507_2.jpg", FaceName(at, 2))
}

func TestParseFaceName(t *testing.T) {
	tests := []struct {
		name string
		want time.Time
		seq  int
		ok   bool
	}{
		{"face_20240309_140507.jpg", time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC), 0, true},
		{"/data/faces/face_20240309_140507_3.jpg", time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC), 3, true},
		{"face_20240309_140507.JPG", time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC), 0, true},
		{"face_20240309_140507_0.jpg", time.Time{}, 0, false},
		{"face_20240309_140507_x.jpg", time.Time{}, 0, false},
		{"face_20240309_1405.jpg", time.Time{}, 0, false},
		{"face_20241309_140507.jpg", time.Time{}, 0, false},
		{"face_20240309_140507.png", time.Time{}, 0, false},
		{"snap_20240309_140507.jpg", time.Time{}, 0, false},
		{"face_20240309_140507extra.jpg", time.Time{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, seq, ok := ParseFaceName(tt.name, time.UTC)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %v", got)
				assert.Equal(t, tt.seq, seq)
			}
		})
	}
}

func TestFileSink_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "faces")
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	ref := sink.Locate("face_20240309_140507.jpg")
	assert.Equal(t, filepath.Join(dir, "face_20240309_140507.jpg"), ref)

	require.NoError(t, sink.Write(context.Background(), "face_20240309_140507.jpg", []byte("jpeg")))
	data, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	// Overwrite in place and leave no temp files behind
	require.NoError(t, sink.Write(context.Background(), "face_20240309_140507.jpg", []byte("jpeg2")))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "face_20240309_140507.jpg", entries[0].Name())
}

func TestFileSink_RecreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "faces")
	sink, err := NewFileSink(dir)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	require.NoError(t, sink.Write(context.Background(), "a.jpg", []byte("x")))
	assert.FileExists(t, filepath.Join(dir, "a.jpg"))
}

func TestFileSink_NameCannotEscape(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "b.jpg"), sink.Locate("../../a/b.jpg"))
}

func TestFileSink_CanceledContext(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sink.Write(ctx, "a.jpg", []byte("x")), context.Canceled)
}

func TestMirror(t *testing.T) {
	primary, secondary, broken := newMemSink(), newMemSink(), newMemSink()
	broken.failOn["a.jpg"] = errors.New("bucket offline")

	var failed []string
	m := NewMirror(primary, func(name string, err error) { failed = append(failed, name) }, broken, secondary)

	require.NoError(t, m.Write(context.Background(), "a.jpg", []byte("x")))
	assert.Equal(t, "mem://a.jpg", m.Locate("a.jpg"))
	assert.Equal(t, []string{"a.jpg"}, primary.written())
	assert.Equal(t, []string{"a.jpg"}, secondary.written())
	assert.Equal(t, []string{"mem://a.jpg"}, failed)

	// A primary failure is the caller's failure and skips the copies
	primary.failOn["b.jpg"] = errors.New("disk full")
	assert.Error(t, m.Write(context.Background(), "b.jpg", []byte("y")))
	assert.Equal(t, []string{"a.jpg"}, secondary.written())
}

func TestDirect(t *testing.T) {
	sink := newMemSink()
	sink.failOn["bad.jpg"] = errors.New("disk full")
	w := NewDirect(sink)
	defer w.Close()

	var then []string
	ref, err := w.Write(context.Background(), Blob{Name: "a.jpg", Data: []byte("x"), Then: func(_ context.Context, ref string) {
		then = append(then, ref)
	}})
	require.NoError(t, err)
	assert.Equal(t, "mem://a.jpg", ref)
	assert.Equal(t, []string{"mem://a.jpg"}, then, "Then runs inline with the stored reference")

	ref, err = w.Write(context.Background(), Blob{Name: "bad.jpg", Data: []byte("x"), Then: func(_ context.Context, ref string) {
		then = append(then, ref)
	}})
	assert.Error(t, err)
	assert.Empty(t, ref)
	assert.Len(t, then, 1, "a failed write skips Then")

	ran := false
	require.NoError(t, w.Do(context.Background(), "job", func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestAsync_WritesInOrderAndDrainsOnClose(t *testing.T) {
	sink := newMemSink()
	w := NewAsync(sink, 16, 1, nil)

	names := []string{"a.jpg", "b.jpg", "c.jpg"}
	for _, n := range names {
		ref, err := w.Write(context.Background(), Blob{Name: n, Data: []byte(n)})
		require.NoError(t, err)
		assert.Equal(t, "mem://"+n, ref)
	}

	require.NoError(t, w.Close())
	assert.Equal(t, names, sink.written())
	assert.Zero(t, w.Pending())
}

func TestAsync_FullQueueDoesNotBlock(t *testing.T) {
	sink := newMemSink()
	sink.gate = make(chan struct{})
	w := NewAsync(sink, 1, 1, nil)

	// First job is picked up by the worker and parks on the gate; the second fills the queue.
	_, err := w.Write(context.Background(), Blob{Name: "a.jpg"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return w.Pending() == 0 }, time.Second, time.Millisecond)
	_, err = w.Write(context.Background(), Blob{Name: "b.jpg"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := w.Write(context.Background(), Blob{Name: "c.jpg"})
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("Write blocked on a full queue")
	}

	close(sink.gate)
	require.NoError(t, w.Close())
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, sink.written())
}

func TestAsync_ReportsLateFailures(t *testing.T) {
	sink := newMemSink()
	sink.failOn["bad.jpg"] = errors.New("disk full")

	var mu sync.Mutex
	var labels []string
	w := NewAsync(sink, 4, 2, func(label string, err error) {
		mu.Lock()
		defer mu.Unlock()
		labels = append(labels, label)
	})

	ref, err := w.Write(context.Background(), Blob{Name: "bad.jpg"})
	require.NoError(t, err, "enqueue succeeds; the failure is only known later")
	assert.Equal(t, "mem://bad.jpg", ref)

	require.NoError(t, w.Do(context.Background(), "journal", func(context.Context) error {
		return errors.New("db down")
	}))
	require.NoError(t, w.Close())

	assert.ElementsMatch(t, []string{"bad.jpg", "journal"}, labels)
}

func TestAsync_Closed(t *testing.T) {
	w := NewAsync(newMemSink(), 1, 1, nil)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err := w.Write(context.Background(), Blob{Name: "a.jpg"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, w.Do(context.Background(), "x", func(context.Context) error { return nil }), ErrClosed)
}

func TestObjectSink_Locate(t *testing.T) {
	s := &ObjectSink{bucket: "faces", prefix: "cam1"}
	assert.Equal(t, "s3://faces/cam1/face_20240309_140507.jpg", s.Locate("face_20240309_140507.jpg"))

	s = &ObjectSink{bucket: "faces"}
	assert.Equal(t, "s3://faces/a.jpg", s.Locate("dir/a.jpg"))
}

func TestAsync_LostRunsBeforeThen(t *testing.T) {
	sink := newMemSink()
	sink.failOn["bad.jpg"] = errors.New("disk full")

	var reported []string
	w := NewAsync(sink, 4, 1, func(label string, err error) {
		reported = append(reported, label)
	})

	var mu sync.Mutex
	var steps []string
	record := func(step string) {
		mu.Lock()
		defer mu.Unlock()
		steps = append(steps, step)
	}
	ref, err := w.Write(context.Background(), Blob{
		Name: "bad.jpg",
		Lost: func(err error) { record("lost: " + err.Error()) },
		Then: func(_ context.Context, ref string) { record("then " + ref) },
	})
	require.NoError(t, err)
	assert.Equal(t, "mem://bad.jpg", ref)

	_, err = w.Write(context.Background(), Blob{
		Name: "good.jpg",
		Lost: func(err error) { record("lost good") },
		Then: func(_ context.Context, ref string) { record("then " + ref) },
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, []string{"lost: disk full", "then ", "then mem://good.jpg"}, steps)
	assert.Empty(t, reported, "a handled loss is not reported again")
}
