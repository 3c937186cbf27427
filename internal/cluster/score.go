package cluster

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Metric names a partition quality score.
type Metric string

const (
	Silhouette       Metric = "silhouette"
	CalinskiHarabasz Metric = "calinski-harabasz"
	DaviesBouldin    Metric = "davies-bouldin"
)

var ErrUnknownMetric = errors.New("unknown cluster metric")

// ParseMetric accepts the canonical names and the usual spellings.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "silhouette", "silhouette coefficient":
		return Silhouette, nil
	case "calinski-harabasz", "calinski", "calinski-harabaz", "calinski-harabasz index", "variance ratio":
		return CalinskiHarabasz, nil
	case "davies-bouldin", "davies", "davies-bouldin index":
		return DaviesBouldin, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

// Describe is a one-line reading guide for the metric.
func (m Metric) Describe() string {
	switch m {
	case CalinskiHarabasz:
		return "higher when clusters are dense and well separated"
	case DaviesBouldin:
		return "lower is better, zero is the best possible partition"
	default:
		return "bounded between -1 for incorrect and +1 for highly dense clustering, around zero means overlap"
	}
}

// Score evaluates labels on x with the chosen metric.
func Score(x *mat.Dense, labels []int, metric Metric) (float64, error) {
	n, _ := x.Dims()
	if len(labels) != n {
		return 0, fmt.Errorf("cluster: %d labels for %d rows", len(labels), n)
	}
	groups := groupRows(labels)
	if len(groups) < 2 {
		return 0, fmt.Errorf("%w: got %d", ErrDegenerateClusters, len(groups))
	}
	switch metric {
	case Silhouette, "":
		return silhouette(PairwiseDistances(x), labels, groups), nil
	case CalinskiHarabasz:
		return calinskiHarabasz(x, groups), nil
	case DaviesBouldin:
		return daviesBouldin(x, groups), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
}

// PairwiseDistances is the N x N Euclidean distance matrix between rows of x.
func PairwiseDistances(x *mat.Dense) *mat.Dense {
	n, _ := x.Dims()
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := floats.Distance(x.RawRowView(i), x.RawRowView(j), 2)
			out.Set(i, j, d)
			out.Set(j, i, d)
		}
	}
	return out
}

func groupRows(labels []int) map[int][]int {
	groups := make(map[int][]int)
	for i, l := range labels {
		groups[l] = append(groups[l], i)
	}
	return groups
}

func sortedLabels(groups map[int][]int) []int {
	out := make([]int, 0, len(groups))
	for l := range groups {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// silhouette is the mean silhouette coefficient; members of singleton
// clusters contribute 0.
func silhouette(dist *mat.Dense, labels []int, groups map[int][]int) float64 {
	n := len(labels)
	total := 0.0
	for i := 0; i < n; i++ {
		own := groups[labels[i]]
		if len(own) == 1 {
			continue
		}
		a := 0.0
		for _, j := range own {
			a += dist.At(i, j)
		}
		a /= float64(len(own) - 1)

		b := math.Inf(1)
		for l, members := range groups {
			if l == labels[i] {
				continue
			}
			m := 0.0
			for _, j := range members {
				m += dist.At(i, j)
			}
			b = math.Min(b, m/float64(len(members)))
		}
		if den := math.Max(a, b); den > 0 {
			total += (b - a) / den
		}
	}
	return total / float64(n)
}

func centroidsOf(x *mat.Dense, groups map[int][]int) (map[int][]float64, []float64) {
	n, d := x.Dims()
	overall := make([]float64, d)
	centers := make(map[int][]float64, len(groups))
	for _, l := range sortedLabels(groups) {
		members := groups[l]
		c := make([]float64, d)
		for _, i := range members {
			floats.Add(c, x.RawRowView(i))
		}
		floats.Add(overall, c)
		floats.Scale(1/float64(len(members)), c)
		centers[l] = c
	}
	floats.Scale(1/float64(n), overall)
	return centers, overall
}

func calinskiHarabasz(x *mat.Dense, groups map[int][]int) float64 {
	n, _ := x.Dims()
	k := len(groups)
	centers, overall := centroidsOf(x, groups)
	between, within := 0.0, 0.0
	for _, l := range sortedLabels(groups) {
		members := groups[l]
		between += float64(len(members)) * sqDist(centers[l], overall)
		for _, i := range members {
			within += sqDist(x.RawRowView(i), centers[l])
		}
	}
	if within == 0 {
		return 1
	}
	return between * float64(n-k) / (within * float64(k-1))
}

func daviesBouldin(x *mat.Dense, groups map[int][]int) float64 {
	centers, _ := centroidsOf(x, groups)
	labels := sortedLabels(groups)
	spread := make(map[int]float64, len(groups))
	for _, l := range labels {
		members := groups[l]
		s := 0.0
		for _, i := range members {
			s += floats.Distance(x.RawRowView(i), centers[l], 2)
		}
		spread[l] = s / float64(len(members))
	}

	total := 0.0
	for _, a := range labels {
		worst := 0.0
		for _, b := range labels {
			if a == b {
				continue
			}
			sep := floats.Distance(centers[a], centers[b], 2)
			if sep == 0 {
				continue
			}
			worst = math.Max(worst, (spread[a]+spread[b])/sep)
		}
		total += worst
	}
	return total / float64(len(labels))
}
