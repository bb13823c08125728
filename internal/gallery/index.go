package gallery

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// IndexKind selects the nearest-neighbor index implementation.
type IndexKind string

const (
	// IndexFlat is exact brute-force search.
	IndexFlat IndexKind = "flat"
	// IndexHNSW is approximate graph search for large galleries.
	IndexHNSW IndexKind = "hnsw"
)

// ParseIndexKind parses an index kind name; empty means flat.
func ParseIndexKind(s string) (IndexKind, error) {
	switch s {
	case "", "flat":
		return IndexFlat, nil
	case "hnsw":
		return IndexHNSW, nil
	default:
		return "", fmt.Errorf("unknown gallery index %q (want flat or hnsw)", s)
	}
}

// Hit is a search result: the insertion position of the vector and its score
// under the index metric.
type Hit struct {
	Position int
	Score    float64
}

// Index is a nearest-neighbor index over prepared vectors.
// Vectors are addressed by insertion order.
type Index interface {
	Add(vec []float32) error
	Search(query []float32, k int) []Hit
	Len() int
	Dim() int
	Metric() Metric
	Kind() IndexKind
	Save(path string) error
}

func newIndex(kind IndexKind, metric Metric) (Index, error) {
	switch kind {
	case IndexFlat, "":
		return NewFlatIndex(metric), nil
	case IndexHNSW:
		return NewHNSWIndex(metric), nil
	default:
		return nil, fmt.Errorf("unknown gallery index %q", kind)
	}
}

func loadIndex(kind IndexKind, metric Metric, path string) (Index, error) {
	switch kind {
	case IndexFlat, "":
		return LoadFlatIndex(metric, path)
	case IndexHNSW:
		return LoadHNSWIndex(metric, path)
	default:
		return nil, fmt.Errorf("unknown gallery index %q", kind)
	}
}

// sortHits orders hits best first; equal scores keep insertion order.
func sortHits(hits []Hit, metric Metric) {
	sort.SliceStable(hits, func(i, j int) bool {
		return metric.Better(hits[i].Score, hits[j].Score)
	})
}

// FlatIndex performs exact search by comparing the query with every vector.
type FlatIndex struct {
	metric  Metric
	dim     int
	vectors [][]float32
}

// NewFlatIndex creates an empty exact index.
func NewFlatIndex(metric Metric) *FlatIndex {
	return &FlatIndex{metric: metric}
}

func (f *FlatIndex) Add(vec []float32) error {
	if len(vec) == 0 {
		return errors.New("empty vector")
	}
	if f.dim == 0 {
		f.dim = len(vec)
	}
	if len(vec) != f.dim {
		return fmt.Errorf("vector has %d dimensions, index has %d", len(vec), f.dim)
	}
	f.vectors = append(f.vectors, vec)
	return nil
}

func (f *FlatIndex) Search(query []float32, k int) []Hit {
	if k <= 0 || len(f.vectors) == 0 || len(query) != f.dim {
		return nil
	}
	hits := make([]Hit, len(f.vectors))
	for i, v := range f.vectors {
		hits[i] = Hit{Position: i, Score: f.metric.Score(query, v)}
	}
	sortHits(hits, f.metric)
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

func (f *FlatIndex) Len() int        { return len(f.vectors) }
func (f *FlatIndex) Dim() int        { return f.dim }
func (f *FlatIndex) Metric() Metric  { return f.metric }
func (f *FlatIndex) Kind() IndexKind { return IndexFlat }

var flatMagic = [4]byte{'F', 'L', 'A', 'T'}

type flatHeader struct {
	Magic [4]byte
	Dim   uint32
	Count uint32
}

// Save writes the vectors as a little-endian float32 matrix behind a small header.
func (f *FlatIndex) Save(path string) error {
	file, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	hdr := flatHeader{Magic: flatMagic, Dim: uint32(f.dim), Count: uint32(len(f.vectors))} //nolint:gosec // sizes are small
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("writing index header: %w", err)
	}
	for _, v := range f.vectors {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("writing index vectors: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing index file: %w", err)
	}
	return nil
}

// LoadFlatIndex reads an index written by FlatIndex.Save.
func LoadFlatIndex(metric Metric, path string) (*FlatIndex, error) {
	file, err := os.Open(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	var hdr flatHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("reading index header: %w", err)
	}
	if hdr.Magic != flatMagic {
		return nil, fmt.Errorf("%s is not a flat gallery index", path)
	}
	// check the declared size before allocating for it
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat index file: %w", err)
	}
	body := uint64(info.Size()) - uint64(binary.Size(hdr)) //nolint:gosec // the header was read, so Size >= header
	if want := uint64(hdr.Dim) * uint64(hdr.Count) * 4; want != body || (hdr.Dim == 0 && hdr.Count > 0) {
		return nil, fmt.Errorf("%s declares %d vectors of dimension %d (%d bytes) but holds %d bytes of vectors",
			path, hdr.Count, hdr.Dim, want, body)
	}

	f := &FlatIndex{metric: metric, dim: int(hdr.Dim), vectors: make([][]float32, 0, hdr.Count)}
	for i := range int(hdr.Count) {
		v := make([]float32, hdr.Dim)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("reading vector %d: %w", i, err)
		}
		f.vectors = append(f.vectors, v)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%s has trailing data after %d vectors", path, hdr.Count)
	}
	return f, nil
}
