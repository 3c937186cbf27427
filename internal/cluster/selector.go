package cluster

import (
	"fmt"
	"math"
)

// KSelector picks the cluster count from an elbow curve.
type KSelector interface {
	SelectK(points []ElbowPoint) (int, error)
}

// ElbowSelector takes the k where the percent change of the inertia slope is
// smallest, i.e. where the curve bends hardest. It is a curvature heuristic,
// not a test for the true number of groups.
//
// A drop right after a flat step has a percent change of -Inf and wins;
// +Inf and NaN changes are skipped. When no change qualifies (fewer than
// three points, or flat slopes) it falls back to the k with the steepest
// drop in inertia.
type ElbowSelector struct{}

func (ElbowSelector) SelectK(points []ElbowPoint) (int, error) {
	if len(points) == 0 {
		return 0, fmt.Errorf("%w: empty elbow curve", ErrInvalidK)
	}
	best, bestVal := 0, math.Inf(1)
	for _, p := range points {
		if math.IsNaN(p.SlopeChange) || math.IsInf(p.SlopeChange, 1) {
			continue
		}
		if best == 0 || p.SlopeChange < bestVal {
			best, bestVal = p.K, p.SlopeChange
		}
	}
	if best > 0 {
		return best, nil
	}
	best, bestVal = points[len(points)-1].K, math.Inf(1)
	for _, p := range points {
		if isFinite(p.Slope) && p.Slope < bestVal {
			best, bestVal = p.K, p.Slope
		}
	}
	return best, nil
}

// FixedK always returns K, provided the curve reached it.
type FixedK struct {
	K int
}

func (f FixedK) SelectK(points []ElbowPoint) (int, error) {
	if f.K < 1 || (len(points) > 0 && f.K > points[len(points)-1].K) {
		return 0, fmt.Errorf("%w: fixed k=%d", ErrInvalidK, f.K)
	}
	return f.K, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
