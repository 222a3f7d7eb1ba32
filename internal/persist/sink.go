// Package persist writes admitted face crops to durable storage.
package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Sink is a durable destination for named blobs.
type Sink interface {
	// Locate returns the reference a blob written under name will have.
	Locate(name string) string
	// Write stores data under name, replacing any previous blob.
	Write(ctx context.Context, name string, data []byte) error
}

// FileSink stores blobs as files in one directory.
type FileSink struct {
	dir string
}

// NewFileSink creates dir if needed and returns a sink rooted there.
func NewFileSink(dir string) (*FileSink, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", abs, err)
	}
	return &FileSink{dir: abs}, nil
}

// Dir returns the sink's root directory.
func (s *FileSink) Dir() string {
	return s.dir
}

// Locate returns the absolute path of name.
func (s *FileSink) Locate(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Write writes data to a temporary file and renames it into place so viewers
// listing the directory never see a partial image.
func (s *FileSink) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// The gallery may have removed the directory underneath us
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", s.dir, err)
	}

	final := s.Locate(name)
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(name)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return fmt.Errorf("rename into %s: %w", final, err)
	}
	return nil
}

// Mirror writes to a primary sink and copies every blob to secondary sinks.
// Only the primary decides success; secondary failures go to onError.
type Mirror struct {
	primary     Sink
	secondaries []Sink
	onError     func(name string, err error)
}

// NewMirror returns a Mirror. onError may be nil.
func NewMirror(primary Sink, onError func(name string, err error), secondaries ...Sink) *Mirror {
	return &Mirror{primary: primary, secondaries: secondaries, onError: onError}
}

// Locate returns the primary's reference.
func (m *Mirror) Locate(name string) string {
	return m.primary.Locate(name)
}

// Write writes to the primary, then to every secondary.
func (m *Mirror) Write(ctx context.Context, name string, data []byte) error {
	if err := m.primary.Write(ctx, name, data); err != nil {
		return err
	}
	for _, s := range m.secondaries {
		if err := s.Write(ctx, name, data); err != nil && m.onError != nil {
			m.onError(s.Locate(name), err)
		}
	}
	return nil
}
