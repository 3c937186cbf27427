package stats

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Pinv returns the Moore-Penrose pseudo-inverse of a using an SVD.
// Singular values below rcond * max(singular value) are treated as zero,
// which keeps collinear designs solvable.
func Pinv(a mat.Matrix) *mat.Dense {
	r, c := a.Dims()
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return mat.NewDense(c, r, nil)
	}
	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	limit := 0.0
	if len(values) > 0 {
		limit = 1e-15 * float64(max(r, c)) * values[0]
	}
	inv := make([]float64, len(values))
	for i, s := range values {
		if s > limit {
			inv[i] = 1 / s
		}
	}

	// pinv = V * diag(1/s) * U^T
	var vs mat.Dense
	vs.Apply(func(_, j int, x float64) float64 { return x * inv[j] }, &v)
	out := mat.NewDense(c, r, nil)
	out.Mul(&vs, u.T())
	return out
}

// NormalTwoSided returns the two-sided p-value of a z statistic.
func NormalTwoSided(z float64) float64 {
	if math.IsNaN(z) {
		return math.NaN()
	}
	return 2 * distuv.UnitNormal.Survival(math.Abs(z))
}

// NormalQuantile returns the standard normal quantile (1.959964 for 0.975).
func NormalQuantile(p float64) float64 {
	return distuv.UnitNormal.Quantile(p)
}

// StudentTwoSided returns the two-sided p-value of a t statistic.
func StudentTwoSided(t, df float64) float64 {
	if math.IsNaN(t) || df <= 0 {
		return math.NaN()
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * dist.Survival(math.Abs(t))
}

// StudentQuantile returns the t quantile for df degrees of freedom.
func StudentQuantile(p, df float64) float64 {
	if df <= 0 {
		return math.NaN()
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return dist.Quantile(p)
}

// Rank is the numerical rank of a, using the same cutoff as Pinv.
func Rank(a mat.Matrix) int {
	r, c := a.Dims()
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDNone) {
		return 0
	}
	values := svd.Values(nil)
	if len(values) == 0 {
		return 0
	}
	limit := 1e-15 * float64(max(r, c)) * values[0]
	rank := 0
	for _, s := range values {
		if s > limit {
			rank++
		}
	}
	return rank
}
