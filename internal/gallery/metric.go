package gallery

import (
	"fmt"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/vecmath"
)

// Metric is the comparison a gallery was built for. It is written into the
// persisted artifacts and a gallery is refused when loaded under another metric.
type Metric string

const (
	// MetricCosine compares L2-normalized vectors by inner product; higher is closer.
	MetricCosine Metric = "cosine"
	// MetricL2 compares raw vectors by Euclidean distance; lower is closer.
	MetricL2 Metric = "l2"
)

// ParseMetric parses a metric name. "ip" and "inner_product" are accepted as cosine.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine", "ip", "inner_product":
		return MetricCosine, nil
	case "l2", "euclidean":
		return MetricL2, nil
	default:
		return "", fmt.Errorf("unknown gallery metric %q (want cosine or l2)", s)
	}
}

// Prepare returns the form of v that is stored in and compared against a
// gallery of this metric: unit length for cosine, an unmodified copy for l2.
func (m Metric) Prepare(v []float32) []float32 {
	if m == MetricCosine {
		return vecmath.Normalize(v)
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// Score compares two prepared vectors.
func (m Metric) Score(a, b []float32) float64 {
	if m == MetricCosine {
		return vecmath.Dot(a, b)
	}
	return vecmath.L2Distance(a, b)
}

// Better reports whether score a ranks ahead of score b.
func (m Metric) Better(a, b float64) bool {
	if m == MetricCosine {
		return a > b
	}
	return a < b
}

func (m Metric) String() string { return string(m) }
