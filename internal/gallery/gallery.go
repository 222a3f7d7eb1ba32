// Package gallery reads the directory of stored face crops.
package gallery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/andresmejia3/facelog/internal/persist"
)

// Entry is one stored image.
type Entry struct {
	Path string
	Name string
	// Time comes from the face_YYYYMMDD_HHMMSS name, or the modification time for other images.
	Time time.Time
	Seq  int
	Size int64
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// List returns the images in dir, newest first. A missing directory is an empty gallery.
func List(dir string) ([]Entry, error) {
	items, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var entries []Entry
	for _, item := range items {
		if item.IsDir() || strings.HasPrefix(item.Name(), ".") {
			continue
		}
		if !imageExts[strings.ToLower(filepath.Ext(item.Name()))] {
			continue
		}
		info, err := item.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}

		e := Entry{
			Path: filepath.Join(dir, item.Name()),
			Name: item.Name(),
			Time: info.ModTime(),
			Size: info.Size(),
		}
		if t, seq, ok := persist.ParseFaceName(item.Name(), time.Local); ok {
			e.Time, e.Seq = t, seq
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.After(b.Time)
		}
		if a.Seq != b.Seq {
			return a.Seq > b.Seq
		}
		return a.Name < b.Name
	})
	return entries, nil
}

// Remove deletes name from dir. Names that would leave dir are rejected.
func Remove(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid image name %q", name)
	}
	path := filepath.Join(dir, name)
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("remove %s: %w", path, err)
	}
	return path, nil
}
