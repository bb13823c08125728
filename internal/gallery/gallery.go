// Package gallery holds the enrolled identities, their reference embeddings
// and the nearest-neighbor index built over them.
package gallery

import (
	"errors"
	"fmt"
	"sort"
)

// Entry is one enrolled reference embedding.
type Entry struct {
	Identity  string
	Embedding []float32
}

// Neighbor is a search hit resolved to its identity.
type Neighbor struct {
	Identity string
	Position int
	Score    float64
}

// Gallery is an immutable set of enrolled embeddings. The Nth vector in the
// index belongs to the Nth identity; construction and loading keep the two in
// lockstep and nothing mutates a Gallery once it is returned, so it can be
// shared across goroutines without locking.
type Gallery struct {
	metric     Metric
	index      Index
	identities []string
	embeddings [][]float32
	byIdentity map[string][]int
}

func newGallery(metric Metric, index Index) *Gallery {
	return &Gallery{
		metric:     metric,
		index:      index,
		byIdentity: make(map[string][]int),
	}
}

// FromEntries builds a gallery from already collected entries.
// Embeddings are prepared for the metric (normalized for cosine) before indexing.
func FromEntries(metric Metric, kind IndexKind, entries []Entry) (*Gallery, error) {
	idx, err := newIndex(kind, metric)
	if err != nil {
		return nil, err
	}
	g := newGallery(metric, idx)
	for i, e := range entries {
		if err := g.add(e.Identity, e.Embedding); err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, e.Identity, err)
		}
	}
	return g, nil
}

func (g *Gallery) add(identity string, raw []float32) error {
	if identity == "" {
		return errors.New("empty identity")
	}
	vec := g.metric.Prepare(raw)
	if err := g.index.Add(vec); err != nil {
		return err
	}
	g.appendEntry(identity, vec)
	return nil
}

func (g *Gallery) appendEntry(identity string, vec []float32) {
	g.byIdentity[identity] = append(g.byIdentity[identity], len(g.identities))
	g.identities = append(g.identities, identity)
	g.embeddings = append(g.embeddings, vec)
}

// Metric returns the metric the gallery was built for.
func (g *Gallery) Metric() Metric { return g.metric }

// IndexKind returns the index implementation in use.
func (g *Gallery) IndexKind() IndexKind { return g.index.Kind() }

// Len returns the number of enrolled vectors.
func (g *Gallery) Len() int { return len(g.identities) }

// Dim returns the embedding dimension, or 0 for an empty gallery.
func (g *Gallery) Dim() int { return g.index.Dim() }

// Identities returns the distinct enrolled identities, sorted.
func (g *Gallery) Identities() []string {
	out := make([]string, 0, len(g.byIdentity))
	for id := range g.byIdentity {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Count returns how many vectors are enrolled for identity.
func (g *Gallery) Count(identity string) int { return len(g.byIdentity[identity]) }

// Entry returns the entry at an index position.
func (g *Gallery) Entry(position int) Entry {
	return Entry{Identity: g.identities[position], Embedding: g.embeddings[position]}
}

// Entries returns all entries in index order.
func (g *Gallery) Entries() []Entry {
	out := make([]Entry, len(g.identities))
	for i := range g.identities {
		out[i] = g.Entry(i)
	}
	return out
}

// EmbeddingsOf returns the prepared vectors enrolled for identity.
// The returned slices must not be modified.
func (g *Gallery) EmbeddingsOf(identity string) [][]float32 {
	positions := g.byIdentity[identity]
	out := make([][]float32, len(positions))
	for i, p := range positions {
		out[i] = g.embeddings[p]
	}
	return out
}

// Prepare converts a raw query embedding into the gallery's comparison form.
func (g *Gallery) Prepare(raw []float32) []float32 { return g.metric.Prepare(raw) }

// Nearest searches the index with an already prepared query.
func (g *Gallery) Nearest(query []float32, k int) []Neighbor {
	hits := g.index.Search(query, k)
	out := make([]Neighbor, 0, len(hits))
	for _, h := range hits {
		if h.Position < 0 || h.Position >= len(g.identities) {
			continue
		}
		out = append(out, Neighbor{Identity: g.identities[h.Position], Position: h.Position, Score: h.Score})
	}
	return out
}
