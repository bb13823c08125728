package gallery

import (
	"errors"
	"fmt"
	"os"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

// hnswEfSearch widens the candidate list during search; galleries are small
// enough that recall matters more than the extra comparisons.
const hnswEfSearch = 64

// HNSWIndex wraps the HNSW graph for approximate search over large galleries.
// Node keys are insertion positions.
type HNSWIndex struct {
	metric Metric
	dim    int
	graph  *hnsw.Graph[int64]
}

func newGraph(metric Metric) *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = hnswEfSearch
	if metric == MetricL2 {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}
	return g
}

// NewHNSWIndex creates an empty HNSW index.
func NewHNSWIndex(metric Metric) *HNSWIndex {
	return &HNSWIndex{metric: metric, graph: newGraph(metric)}
}

func (h *HNSWIndex) Add(vec []float32) error {
	if len(vec) == 0 {
		return errors.New("empty vector")
	}
	if h.dim == 0 {
		h.dim = len(vec)
	}
	if len(vec) != h.dim {
		return fmt.Errorf("vector has %d dimensions, index has %d", len(vec), h.dim)
	}
	h.graph.Add(hnsw.MakeNode(int64(h.graph.Len()), vec))
	return nil
}

// Search finds the k nearest neighbors and rescores them under the gallery metric.
func (h *HNSWIndex) Search(query []float32, k int) []Hit {
	if k <= 0 || h.graph.Len() == 0 || len(query) != h.dim {
		return nil
	}
	nodes := h.graph.Search(query, k)
	hits := make([]Hit, 0, len(nodes))
	for _, n := range nodes {
		hits = append(hits, Hit{Position: int(n.Key), Score: h.metric.Score(query, n.Value)})
	}
	sortHits(hits, h.metric)
	return hits
}

func (h *HNSWIndex) Len() int        { return h.graph.Len() }
func (h *HNSWIndex) Dim() int        { return h.dim }
func (h *HNSWIndex) Metric() Metric  { return h.metric }
func (h *HNSWIndex) Kind() IndexKind { return IndexHNSW }

// Save exports the graph to path.
func (h *HNSWIndex) Save(path string) error {
	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Close()

	if err := h.graph.Export(f); err != nil {
		return fmt.Errorf("exporting HNSW graph: %w", err)
	}
	return nil
}

// LoadHNSWIndex loads a graph exported by Save.
func LoadHNSWIndex(metric Metric, path string) (*HNSWIndex, error) {
	// LoadSavedGraph creates missing files, so check first.
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("HNSW index file not found: %w", err)
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return nil, fmt.Errorf("failed to load HNSW index: %w", err)
	}
	g := saved.Graph
	g.EfSearch = hnswEfSearch

	h := &HNSWIndex{metric: metric, graph: g}
	if g.Len() > 0 {
		h.dim = g.Dims()
	}
	return h, nil
}
