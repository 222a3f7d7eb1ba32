package gallery

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sort"
	"sync"

	"github.com/andresmejia3/facelog/internal/features"
	"github.com/andresmejia3/facelog/internal/match"
	"github.com/coder/hnsw"
)

// Hit is one search result.
type Hit struct {
	Key        string
	Similarity float64
}

// Index is an approximate nearest neighbour index over gallery descriptors.
type Index struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[string]
	vecs  map[string]match.Descriptor
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{vecs: make(map[string]match.Descriptor)}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = 16
	g.Ml = 1.0 / 16
	g.Distance = hnsw.CosineDistance
	return g
}

// Add indexes d under key, replacing any previous descriptor.
func (x *Index) Add(key string, d match.Descriptor) error {
	if len(d) == 0 || d.Norm() == 0 {
		return fmt.Errorf("index %s: empty descriptor", key)
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.graph == nil {
		x.graph = newGraph()
	} else if dims := x.graph.Dims(); dims != 0 && dims != len(d) {
		return fmt.Errorf("index %s: descriptor has %d dims, index has %d", key, len(d), dims)
	}
	x.graph.Add(hnsw.MakeNode(key, []float32(d)))
	x.vecs[key] = d
	return nil
}

// Len returns the number of indexed descriptors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vecs)
}

// Search returns up to k neighbours of q with similarity above minSimilarity, best first.
func (x *Index) Search(q match.Descriptor, k int, minSimilarity float64) []Hit {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.graph == nil || k <= 0 || len(q) != x.graph.Dims() {
		return nil
	}

	// Over-fetch, then rescore exactly
	fetch := k * 4
	if fetch < 32 {
		fetch = 32
	}
	var hits []Hit
	for _, n := range x.graph.Search([]float32(q), fetch) {
		sim := match.Similarity(q, x.vecs[n.Key])
		if sim > minSimilarity {
			hits = append(hits, Hit{Key: n.Key, Similarity: sim})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Load decodes a JPEG or PNG image.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Describe extracts the descriptor of the whole picture at path.
// Stored crops are already framed on the face.
func Describe(ext *features.Extractor, path string) (match.Descriptor, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	face, err := ext.Extract(img, img.Bounds())
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", path, err)
	}
	return face.Descriptor, nil
}

// Build indexes every entry, returning the entries that could not be described.
func Build(ext *features.Extractor, entries []Entry) (*Index, map[string]error) {
	x := NewIndex()
	failed := make(map[string]error)
	for _, e := range entries {
		d, err := Describe(ext, e.Path)
		if err == nil {
			err = x.Add(e.Path, d)
		}
		if err != nil {
			failed[e.Path] = err
		}
	}
	return x, failed
}
