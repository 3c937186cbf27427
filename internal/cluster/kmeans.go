// Package cluster groups cards by their summary features with k-means,
// picks k from the inertia curve and scores the resulting partition.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrInvalidKMax        = errors.New("k_max must be at least 2")
	ErrInvalidK           = errors.New("k must be between 1 and the number of rows")
	ErrNoFeatures         = errors.New("no numeric features to cluster")
	ErrDegenerateClusters = errors.New("need at least 2 distinct clusters to score")
)

// Config controls a k-means fit. Zero values fall back to the defaults below.
type Config struct {
	NInit   int
	MaxIter int
	Tol     float64
	Seed    int64
}

const (
	defaultNInit   = 10
	defaultMaxIter = 300
	defaultTol     = 1e-4
)

func (c Config) withDefaults() Config {
	if c.NInit <= 0 {
		c.NInit = defaultNInit
	}
	if c.MaxIter <= 0 {
		c.MaxIter = defaultMaxIter
	}
	if c.Tol <= 0 {
		c.Tol = defaultTol
	}
	return c
}

// Fit is a fitted partition. It is never modified after KMeans returns.
type Fit struct {
	K          int
	Centroids  *mat.Dense
	Labels     []int
	Inertia    float64
	Iterations int
}

// Predict assigns each row of x to its nearest centroid.
func (f *Fit) Predict(x mat.Matrix) []int {
	labels, _ := assign(x, f.Centroids)
	return labels
}

// KMeans runs Lloyd's algorithm from NInit k-means++ seeds and keeps the fit
// with the lowest inertia. The same Seed always gives the same fit.
func KMeans(x *mat.Dense, k int, cfg Config) (*Fit, error) {
	n, d := x.Dims()
	if d == 0 {
		return nil, ErrNoFeatures
	}
	if k < 1 || k > n {
		return nil, fmt.Errorf("%w: k=%d, rows=%d", ErrInvalidK, k, n)
	}
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))
	tol := cfg.Tol * meanVariance(x)

	var best *Fit
	for run := 0; run < cfg.NInit; run++ {
		fit := lloyd(x, seedPlusPlus(x, k, rng), cfg.MaxIter, tol)
		if best == nil || fit.Inertia < best.Inertia {
			best = fit
		}
	}
	return best, nil
}

func lloyd(x *mat.Dense, centroids *mat.Dense, maxIter int, tol float64) *Fit {
	k, _ := centroids.Dims()
	var labels []int
	iter := 0
	for iter < maxIter {
		iter++
		labels, _ = assign(x, centroids)
		next := updateCentroids(x, labels, centroids)
		shift := 0.0
		for c := 0; c < k; c++ {
			shift += sqDist(centroids.RawRowView(c), next.RawRowView(c))
		}
		centroids = next
		if shift <= tol {
			break
		}
	}
	labels, inertia := assign(x, centroids)
	return &Fit{K: k, Centroids: centroids, Labels: labels, Inertia: inertia, Iterations: iter}
}

// seedPlusPlus picks k starting centroids, each new one drawn with
// probability proportional to its squared distance from the nearest chosen one.
func seedPlusPlus(x *mat.Dense, k int, rng *rand.Rand) *mat.Dense {
	n, d := x.Dims()
	centroids := mat.NewDense(k, d, nil)
	centroids.SetRow(0, x.RawRowView(rng.Intn(n)))

	closest := make([]float64, n)
	for i := range closest {
		closest[i] = sqDist(x.RawRowView(i), centroids.RawRowView(0))
	}
	for c := 1; c < k; c++ {
		total := 0.0
		for _, w := range closest {
			total += w
		}
		pick := rng.Intn(n)
		if total > 0 {
			target := rng.Float64() * total
			cum := 0.0
			for i, w := range closest {
				cum += w
				if cum >= target && w > 0 {
					pick = i
					break
				}
			}
		}
		centroids.SetRow(c, x.RawRowView(pick))
		for i := range closest {
			closest[i] = math.Min(closest[i], sqDist(x.RawRowView(i), centroids.RawRowView(c)))
		}
	}
	return centroids
}

func assign(x mat.Matrix, centroids *mat.Dense) ([]int, float64) {
	n, d := x.Dims()
	k, _ := centroids.Dims()
	labels := make([]int, n)
	row := make([]float64, d)
	inertia := 0.0
	for i := 0; i < n; i++ {
		mat.Row(row, i, x)
		best, bestDist := 0, math.Inf(1)
		for c := 0; c < k; c++ {
			if dist := sqDist(row, centroids.RawRowView(c)); dist < bestDist {
				best, bestDist = c, dist
			}
		}
		labels[i] = best
		inertia += bestDist
	}
	return labels, inertia
}

// updateCentroids averages each cluster's members. A cluster that lost all
// members keeps its previous centroid.
func updateCentroids(x *mat.Dense, labels []int, prev *mat.Dense) *mat.Dense {
	k, d := prev.Dims()
	next := mat.NewDense(k, d, nil)
	counts := make([]int, k)
	for i, c := range labels {
		row := next.RawRowView(c)
		for j, v := range x.RawRowView(i) {
			row[j] += v
		}
		counts[c]++
	}
	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			next.SetRow(c, prev.RawRowView(c))
			continue
		}
		row := next.RawRowView(c)
		for j := range row {
			row[j] /= float64(counts[c])
		}
	}
	return next
}

func meanVariance(x *mat.Dense) float64 {
	n, d := x.Dims()
	col := make([]float64, n)
	total := 0.0
	for j := 0; j < d; j++ {
		mat.Col(col, j, x)
		_, v := stat.PopMeanVariance(col, nil)
		total += v
	}
	return total / float64(d)
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		diff := a[i] - b[i]
		s += diff * diff
	}
	return s
}
