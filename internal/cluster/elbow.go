package cluster

import (
	"fmt"
	"math"
	"sync"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// ElbowPoint is one row of the inertia curve. Slope is the first difference
// of inertia, SlopeChange its percent change, SlopeDiff and SlopeDiff2 the
// first and second differences of SlopeChange. Undefined entries are NaN.
type ElbowPoint struct {
	K           int     `json:"k"`
	Inertia     float64 `json:"sse"`
	Slope       float64 `json:"slope"`
	SlopeChange float64 `json:"slope_change"`
	SlopeDiff   float64 `json:"slope_diff"`
	SlopeDiff2  float64 `json:"slope_diff2"`
}

// Elbow fits k = 1..min(kMax, rows) concurrently and returns the curve in k order.
func Elbow(x *mat.Dense, kMax int, cfg Config) ([]ElbowPoint, error) {
	if kMax < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKMax, kMax)
	}
	n, _ := x.Dims()
	top := min(kMax, n)
	if top < 1 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidK)
	}

	points := make([]ElbowPoint, top)
	errs := make([]error, top)
	var wg sync.WaitGroup
	for k := 1; k <= top; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			fit, err := KMeans(x, k, cfg)
			if err != nil {
				errs[k-1] = err
				return
			}
			points[k-1] = ElbowPoint{K: k, Inertia: fit.Inertia}
		}(k)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	nan := math.NaN()
	for i := range points {
		points[i].Slope, points[i].SlopeChange = nan, nan
		points[i].SlopeDiff, points[i].SlopeDiff2 = nan, nan
		if i >= 1 {
			points[i].Slope = points[i].Inertia - points[i-1].Inertia
		}
		if i >= 2 {
			points[i].SlopeChange = (points[i].Slope - points[i-1].Slope) / points[i-1].Slope
		}
		if i >= 3 {
			points[i].SlopeDiff = points[i].SlopeChange - points[i-1].SlopeChange
		}
		if i >= 4 {
			points[i].SlopeDiff2 = points[i].SlopeDiff - points[i-1].SlopeDiff
		}
	}
	log.Debugf("Cluster: elbow curve over k=1..%d", top)
	return points, nil
}
