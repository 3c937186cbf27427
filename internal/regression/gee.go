package regression

import (
	"fmt"
	"math"
	"strings"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/codyseavey/plebmtg/internal/stats"
	"github.com/codyseavey/plebmtg/internal/table"
)

// Correlation is the GEE working correlation structure.
type Correlation string

const (
	Exchangeable Correlation = "exchangeable"
	Independence Correlation = "independence"
)

// ParseCorrelation is case-insensitive; empty means exchangeable.
func ParseCorrelation(s string) (Correlation, error) {
	switch c := Correlation(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return Exchangeable, nil
	case Exchangeable, Independence:
		return c, nil
	}
	return "", fmt.Errorf("regression: unknown working correlation %q", s)
}

// GEEOptions configures GEE.
type GEEOptions struct {
	Group       string
	Family      Family
	Correlation Correlation
	MaxIter     int
	Tol         float64
}

func (o GEEOptions) withDefaults() GEEOptions {
	if o.Family == "" {
		o.Family = Gaussian
	}
	if o.Correlation == "" {
		o.Correlation = Exchangeable
	}
	if o.MaxIter <= 0 {
		o.MaxIter = 60
	}
	if o.Tol <= 0 {
		o.Tol = 1e-6
	}
	return o
}

// GEE fits a generalized estimating equation with observations clustered by
// opts.Group. Standard errors come from the robust sandwich estimator and
// tests are Wald z tests.
func GEE(t *table.Table, f Formula, opts GEEOptions) (*Model, error) {
	opts = opts.withDefaults()
	if _, err := ParseFamily(string(opts.Family)); err != nil {
		return nil, err
	}
	if !t.Has(opts.Group) {
		return nil, &table.ColumnError{Column: opts.Group, Err: table.ErrColumnNotFound}
	}
	d, err := buildDesign(t, f)
	if err != nil {
		return nil, err
	}
	if err := opts.Family.checkResponse(d.Y); err != nil {
		return nil, err
	}
	keys, err := t.Strings(opts.Group)
	if err != nil {
		return nil, err
	}

	var clusters [][]int
	pos := map[string]int{}
	for i, r := range d.Rows {
		c, ok := pos[keys[r]]
		if !ok {
			c = len(clusters)
			pos[keys[r]] = c
			clusters = append(clusters, nil)
		}
		clusters[c] = append(clusters[c], i)
	}

	g := &geeFit{x: d.X, y: d.Y, clusters: clusters, family: opts.Family, corr: opts.Correlation}
	n, p := d.X.Dims()
	g.beta = g.start()

	converged := false
	iter := 0
	for iter < opts.MaxIter {
		iter++
		g.updateNuisance()
		bread, score, _ := g.accumulate()
		step := mat.NewVecDense(p, nil)
		step.MulVec(stats.Pinv(bread), score)
		floats.Add(g.beta, step.RawVector().Data)
		if floats.Norm(step.RawVector().Data, math.Inf(1)) < opts.Tol {
			converged = true
			break
		}
	}
	if !converged {
		log.Warnf("Regression: GEE did not converge after %d iterations", iter)
	}

	g.updateNuisance()
	bread, _, meat := g.accumulate()
	raw := make([]float64, n)
	floats.SubTo(raw, g.y, g.mu)
	exact := perfectFit(g.y, raw)
	inv := stats.Pinv(bread)
	var cov mat.Dense
	cov.Product(inv, meat, inv)

	z := stats.NormalQuantile(0.975)
	coefs := make([]Coefficient, p)
	for j := 0; j < p; j++ {
		est := g.beta[j]
		se := math.Sqrt(cov.At(j, j))
		c := Coefficient{Name: d.Names[j], Estimate: est, StdErr: se}
		if se > 0 && !math.IsNaN(se) && !exact {
			c.Statistic = est / se
			c.PValue = stats.NormalTwoSided(c.Statistic)
			c.Lower, c.Upper = est-z*se, est+z*se
		} else {
			c.Statistic, c.PValue = math.NaN(), math.NaN()
			c.Lower, c.Upper = math.NaN(), math.NaN()
		}
		coefs[j] = c
	}

	return &Model{
		Kind:         KindGEE,
		Formula:      f,
		Family:       opts.Family,
		Group:        opts.Group,
		Correlation:  opts.Correlation,
		Coefficients: coefs,
		NObs:         n,
		NGroups:      len(clusters),
		DFResid:      float64(n - p),
		Scale:        g.phi,
		Alpha:        g.alpha,
		RSquared:     math.NaN(),
		AdjRSquared:  math.NaN(),
		Iterations:   iter,
		Converged:    converged,
	}, nil
}

type geeFit struct {
	x        *mat.Dense
	y        []float64
	clusters [][]int
	family   Family
	corr     Correlation

	beta  []float64
	mu    []float64
	resid []float64 // Pearson residuals
	phi   float64
	alpha float64
}

func (g *geeFit) start() []float64 {
	n, p := g.x.Dims()
	if g.family == Gaussian {
		beta := mat.NewVecDense(p, nil)
		beta.MulVec(stats.Pinv(g.x), mat.NewVecDense(n, g.y))
		return beta.RawVector().Data
	}
	beta := make([]float64, p)
	beta[0] = g.family.link(floats.Sum(g.y) / float64(n))
	return beta
}

// updateNuisance refreshes the means, Pearson residuals, dispersion and
// working correlation at the current beta.
func (g *geeFit) updateNuisance() {
	n, p := g.x.Dims()
	g.mu = make([]float64, n)
	g.resid = make([]float64, n)
	for i := 0; i < n; i++ {
		eta := floats.Dot(g.x.RawRowView(i), g.beta)
		g.mu[i] = g.family.mean(eta)
		g.resid[i] = (g.y[i] - g.mu[i]) / math.Sqrt(g.family.variance(g.mu[i]))
	}

	dof := float64(n - p)
	if dof <= 0 {
		dof = float64(n)
	}
	g.phi = floats.Dot(g.resid, g.resid) / dof

	g.alpha = 0
	if g.corr != Exchangeable || g.phi == 0 {
		return
	}
	cross, pairs, largest := 0.0, 0.0, 0
	for _, members := range g.clusters {
		sum, sq := 0.0, 0.0
		for _, i := range members {
			sum += g.resid[i]
			sq += g.resid[i] * g.resid[i]
		}
		cross += (sum*sum - sq) / 2
		m := len(members)
		pairs += float64(m*(m-1)) / 2
		largest = max(largest, m)
	}
	if pairs == 0 {
		return
	}
	if pairs > float64(p) {
		pairs -= float64(p)
	}
	g.alpha = cross / (pairs * g.phi)
	lo := -0.999
	if largest > 1 {
		lo = -1/float64(largest-1) + 1e-6
	}
	g.alpha = math.Min(math.Max(g.alpha, lo), 0.999)
}

// accumulate returns the bread sum(Z' R^-1 Z), the score sum(Z' R^-1 e) and
// the meat sum(u u'), where Z = diag(dmu/deta / sd) X and e are the Pearson
// residuals. The exchangeable inverse is c1 (I - c2 J).
func (g *geeFit) accumulate() (*mat.Dense, *mat.VecDense, *mat.Dense) {
	_, p := g.x.Dims()
	bread := mat.NewDense(p, p, nil)
	score := mat.NewVecDense(p, nil)
	meat := mat.NewDense(p, p, nil)

	for _, members := range g.clusters {
		m := len(members)
		c1, c2 := 1.0, 0.0
		if g.corr == Exchangeable && g.alpha != 0 {
			c1 = 1 / (1 - g.alpha)
			c2 = g.alpha / (1 + float64(m-1)*g.alpha)
		}

		z := mat.NewDense(m, p, nil)
		e := make([]float64, m)
		colSum := make([]float64, p)
		for k, i := range members {
			mu := g.mu[i]
			scale := g.family.derivative(mu) / math.Sqrt(g.family.variance(mu))
			row := z.RawRowView(k)
			for j, v := range g.x.RawRowView(i) {
				row[j] = v * scale
			}
			floats.Add(colSum, row)
			e[k] = g.resid[i]
		}
		eSum := floats.Sum(e)

		var ztz mat.Dense
		ztz.Mul(z.T(), z)
		outer := mat.NewDense(p, p, nil)
		outer.Outer(c2, mat.NewVecDense(p, colSum), mat.NewVecDense(p, colSum))
		ztz.Sub(&ztz, outer)
		ztz.Scale(c1, &ztz)
		bread.Add(bread, &ztz)

		u := mat.NewVecDense(p, nil)
		u.MulVec(z.T(), mat.NewVecDense(m, e))
		u.AddScaledVec(u, -c2*eSum, mat.NewVecDense(p, colSum))
		u.ScaleVec(c1, u)
		score.AddVec(score, u)

		var uu mat.Dense
		uu.Outer(1, u, u)
		meat.Add(meat, &uu)
	}
	return bread, score, meat
}
