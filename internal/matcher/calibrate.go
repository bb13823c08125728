package matcher

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/vecmath"
	"gonum.org/v1/gonum/stat"
)

// Distribution summarizes a set of scores.
type Distribution struct {
	N      int     `json:"n"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	P05    float64 `json:"p05"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
}

func describe(xs []float64) Distribution {
	if len(xs) == 0 {
		return Distribution{}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	d := Distribution{
		N:    len(sorted),
		Mean: stat.Mean(sorted, nil),
		P05:  stat.Quantile(0.05, stat.Empirical, sorted, nil),
		P50:  stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P95:  stat.Quantile(0.95, stat.Empirical, sorted, nil),
	}
	if len(sorted) > 1 {
		d.StdDev = stat.StdDev(sorted, nil)
	}
	return d
}

// Calibration compares how a strategy scores an enrolled face against its own
// identity (genuine) and against everybody else (impostor).
type Calibration struct {
	Strategy  Strategy     `json:"strategy"`
	Metric    string       `json:"metric"`
	Genuine   Distribution `json:"genuine"`
	Impostor  Distribution `json:"impostor"`
	Suggested float64      `json:"suggested_threshold"`
	// Overlap is true when the genuine and impostor 5-95% ranges intersect,
	// meaning no threshold separates them cleanly.
	Overlap bool `json:"overlap"`
}

// Calibrate runs a leave-one-out pass over the gallery and suggests a threshold
// for strategy. Identities need at least two enrolled vectors to contribute
// genuine scores.
func Calibrate(g *gallery.Gallery, strategy Strategy) (Calibration, error) {
	if g == nil || g.Len() < 2 {
		return Calibration{}, errors.New("calibration needs at least two gallery vectors")
	}
	if strategy == TopSimilarity && g.Metric() != gallery.MetricCosine {
		return Calibration{}, fmt.Errorf("%s needs a cosine gallery, got %s", TopSimilarity, g.Metric())
	}

	var genuine, impostor []float64
	entries := g.Entries()
	identities := g.Identities()

	for i, probe := range entries {
		switch strategy {
		case TopSimilarity:
			for j, ref := range entries {
				if i == j {
					continue
				}
				s := vecmath.Dot(probe.Embedding, ref.Embedding)
				if ref.Identity == probe.Identity {
					genuine = append(genuine, s)
				} else {
					impostor = append(impostor, s)
				}
			}
		case AverageDistance:
			for _, id := range identities {
				refs := g.EmbeddingsOf(id)
				if id == probe.Identity {
					refs = withoutVector(refs, probe.Embedding)
					if len(refs) == 0 {
						continue
					}
					genuine = append(genuine, AverageL2(probe.Embedding, refs))
					continue
				}
				impostor = append(impostor, AverageL2(probe.Embedding, refs))
			}
		default:
			return Calibration{}, fmt.Errorf("unknown match strategy %q", strategy)
		}
	}

	if len(genuine) == 0 {
		return Calibration{}, errors.New("no identity has two or more enrolled vectors")
	}
	if len(impostor) == 0 {
		return Calibration{}, errors.New("calibration needs at least two identities")
	}

	c := Calibration{
		Strategy: strategy,
		Metric:   g.Metric().String(),
		Genuine:  describe(genuine),
		Impostor: describe(impostor),
	}
	if strategy == TopSimilarity {
		// Similarity: genuine scores sit above impostor scores.
		c.Suggested = (c.Genuine.P05 + c.Impostor.P95) / 2
		c.Overlap = c.Genuine.P05 <= c.Impostor.P95
	} else {
		// Distance: genuine distances sit below impostor distances.
		c.Suggested = (c.Genuine.P95 + c.Impostor.P05) / 2
		c.Overlap = c.Genuine.P95 >= c.Impostor.P05
	}
	return c, nil
}

// withoutVector drops the first reference identical (by address) to v.
func withoutVector(refs [][]float32, v []float32) [][]float32 {
	out := make([][]float32, 0, len(refs))
	dropped := false
	for _, r := range refs {
		if !dropped && len(r) > 0 && len(v) > 0 && &r[0] == &v[0] {
			dropped = true
			continue
		}
		out = append(out, r)
	}
	return out
}
