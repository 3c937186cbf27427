package regression

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/codyseavey/plebmtg/internal/stats"
	"github.com/codyseavey/plebmtg/internal/table"
)

// OLS fits ordinary least squares through the pseudo-inverse, so collinear
// designs still produce estimates. Terms whose standard error is zero or
// undefined get NaN test statistics.
func OLS(t *table.Table, f Formula) (*Model, error) {
	d, err := buildDesign(t, f)
	if err != nil {
		return nil, err
	}
	n, p := d.X.Dims()

	pinv := stats.Pinv(d.X)
	beta := mat.NewVecDense(p, nil)
	beta.MulVec(pinv, mat.NewVecDense(n, d.Y))

	resid := residuals(d.X, beta, d.Y)
	rss := floats.Dot(resid, resid)
	df := float64(n - stats.Rank(d.X))
	sigma2 := math.NaN()
	if df > 0 {
		sigma2 = rss / df
	}

	// (X'X)^+ = pinv(X) pinv(X)'
	var cov mat.Dense
	cov.Mul(pinv, pinv.T())
	cov.Scale(sigma2, &cov)
	exact := perfectFit(d.Y, resid)

	q := stats.StudentQuantile(0.975, df)
	coefs := make([]Coefficient, p)
	for j := 0; j < p; j++ {
		est := beta.AtVec(j)
		se := math.Sqrt(cov.At(j, j))
		c := Coefficient{Name: d.Names[j], Estimate: est, StdErr: se}
		if se > 0 && !math.IsNaN(se) && !exact {
			c.Statistic = est / se
			c.PValue = stats.StudentTwoSided(c.Statistic, df)
			c.Lower, c.Upper = est-q*se, est+q*se
		} else {
			c.Statistic, c.PValue = math.NaN(), math.NaN()
			c.Lower, c.Upper = math.NaN(), math.NaN()
		}
		coefs[j] = c
	}

	r2 := rSquared(d.Y, rss)
	return &Model{
		Kind:         KindOLS,
		Formula:      f,
		Family:       Gaussian,
		Coefficients: coefs,
		NObs:         n,
		DFResid:      df,
		Scale:        sigma2,
		RSquared:     r2,
		AdjRSquared:  1 - (1-r2)*float64(n-1)/df,
		Converged:    true,
	}, nil
}

func residuals(x *mat.Dense, beta *mat.VecDense, y []float64) []float64 {
	n, _ := x.Dims()
	fitted := mat.NewVecDense(n, nil)
	fitted.MulVec(x, beta)
	out := make([]float64, n)
	floats.SubTo(out, y, fitted.RawVector().Data)
	return out
}

// perfectFit reports residuals at rounding-error level relative to y, where
// standard errors carry no information.
func perfectFit(y, resid []float64) bool {
	scale := math.Max(1, floats.Norm(y, math.Inf(1)))
	return floats.Norm(resid, math.Inf(1)) <= 1e-10*scale
}

// rSquared is the centered R^2; NaN when y is constant.
func rSquared(y []float64, rss float64) float64 {
	mean := stat.Mean(y, nil)
	tss := 0.0
	for _, v := range y {
		tss += (v - mean) * (v - mean)
	}
	if tss == 0 {
		return math.NaN()
	}
	return 1 - rss/tss
}
