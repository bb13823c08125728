// Package matcher decides which enrolled identity, if any, a face embedding belongs to.
package matcher

import (
	"fmt"
	"math"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/embedder"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/vecmath"
)

// Unknown is the identity reported when no enrolled identity is accepted.
const Unknown = constants.UnknownIdentity

// Strategy names a calibration strategy.
type Strategy string

const (
	// TopSimilarity accepts the nearest neighbor when its similarity >= threshold.
	TopSimilarity Strategy = "top_similarity"
	// AverageDistance accepts the nearest neighbor's identity when the mean
	// Euclidean distance to all of that identity's vectors < threshold.
	AverageDistance Strategy = "average_distance"
)

// ParseStrategy parses a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case TopSimilarity, "top1", "similarity":
		return TopSimilarity, nil
	case AverageDistance, "average", "distance":
		return AverageDistance, nil
	default:
		return "", fmt.Errorf("unknown match strategy %q (want top_similarity or average_distance)", s)
	}
}

// Result is the outcome of matching one face.
type Result struct {
	Identity  string        `json:"identity"`
	Score     float64       `json:"score"`
	BBox      embedder.BBox `json:"bbox"`
	Confident bool          `json:"confident"`
	// Candidate is the nearest identity even when it was rejected.
	Candidate string `json:"candidate,omitempty"`
	// Distance is the averaged distance under AverageDistance, zero otherwise.
	Distance float64 `json:"distance,omitempty"`
}

// Matcher matches a raw embedding against a gallery.
type Matcher interface {
	Match(embedding []float32, g *gallery.Gallery) Result
	Strategy() Strategy
	Threshold() float64
	// Supports reports whether the matcher can score galleries of metric m.
	Supports(m gallery.Metric) error
}

// New returns the matcher for strategy with the given threshold.
func New(strategy Strategy, threshold float64) (Matcher, error) {
	if math.IsNaN(threshold) || threshold <= 0 {
		return nil, fmt.Errorf("threshold must be positive, got %v", threshold)
	}
	switch strategy {
	case TopSimilarity:
		if threshold > 1 {
			return nil, fmt.Errorf("similarity threshold must be in (0, 1], got %v", threshold)
		}
		return &topSimilarity{threshold: threshold}, nil
	case AverageDistance:
		return &averageDistance{threshold: threshold}, nil
	default:
		return nil, fmt.Errorf("unknown match strategy %q", strategy)
	}
}

func unknown(candidate string, score float64) Result {
	return Result{Identity: Unknown, Score: score, Candidate: candidate}
}

type topSimilarity struct {
	threshold float64
}

func (m *topSimilarity) Strategy() Strategy { return TopSimilarity }
func (m *topSimilarity) Threshold() float64 { return m.threshold }

func (m *topSimilarity) Supports(metric gallery.Metric) error {
	if metric != gallery.MetricCosine {
		return fmt.Errorf("%s needs a cosine gallery, got %s", TopSimilarity, metric)
	}
	return nil
}

// Match normalizes the query and accepts the nearest neighbor if its cosine
// similarity reaches the threshold.
func (m *topSimilarity) Match(embedding []float32, g *gallery.Gallery) Result {
	if g == nil || g.Metric() != gallery.MetricCosine {
		return unknown("", 0)
	}
	hits := g.Nearest(vecmath.Normalize(embedding), 1)
	if len(hits) == 0 {
		return unknown("", 0)
	}
	best := hits[0]
	if best.Score >= m.threshold {
		return Result{Identity: best.Identity, Score: best.Score, Confident: true, Candidate: best.Identity}
	}
	return unknown(best.Identity, best.Score)
}

type averageDistance struct {
	threshold float64
}

func (m *averageDistance) Strategy() Strategy            { return AverageDistance }
func (m *averageDistance) Threshold() float64            { return m.threshold }
func (m *averageDistance) Supports(gallery.Metric) error { return nil }

// Match finds the nearest identity and averages the Euclidean distance from the
// query to every vector of that identity. The displayed score is
// max(0, (threshold-avg)/threshold).
func (m *averageDistance) Match(embedding []float32, g *gallery.Gallery) Result {
	if g == nil {
		return unknown("", 0)
	}
	query := g.Prepare(embedding)
	hits := g.Nearest(query, 1)
	if len(hits) == 0 {
		return unknown("", 0)
	}
	candidate := hits[0].Identity

	avg := AverageL2(query, g.EmbeddingsOf(candidate))
	score := 0.0
	if !math.IsInf(avg, 1) {
		score = math.Max(0, (m.threshold-avg)/m.threshold)
	}
	if avg < m.threshold {
		return Result{Identity: candidate, Score: score, Confident: true, Candidate: candidate, Distance: avg}
	}
	r := unknown(candidate, score)
	if !math.IsInf(avg, 1) {
		r.Distance = avg
	}
	return r
}

// AverageL2 returns the mean Euclidean distance from query to refs, or +Inf
// when refs is empty.
func AverageL2(query []float32, refs [][]float32) float64 {
	if len(refs) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for _, r := range refs {
		sum += vecmath.L2Distance(query, r)
	}
	return sum / float64(len(refs))
}
