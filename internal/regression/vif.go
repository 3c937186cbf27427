package regression

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/codyseavey/plebmtg/internal/stats"
	"github.com/codyseavey/plebmtg/internal/table"
)

// DefaultVIFThreshold is the usual cutoff for problematic collinearity.
const DefaultVIFThreshold = 10.0

// DroppedCovariate records one elimination step.
type DroppedCovariate struct {
	Name string
	VIF  float64
}

// VIFReport is the outcome of iterative VIF elimination. VIF holds the last
// computed factor for each remaining column. Residual is set when two columns
// remain and at least one is still above the threshold.
type VIFReport struct {
	Rounds    int
	Remaining []string
	VIF       []float64
	Dropped   []DroppedCovariate
	Residual  bool
}

// VIF computes variance-inflation factors for cols and, while any exceeds
// threshold and more than two columns remain, drops the worst and recomputes.
// It runs at most len(cols)-1 rounds. Rows with a null in any column are
// ignored.
func VIF(t *table.Table, cols []string, threshold float64) (*VIFReport, error) {
	if len(cols) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewCovariates, len(cols))
	}
	if threshold <= 0 {
		threshold = DefaultVIFThreshold
	}
	data := make(map[string][]float64, len(cols))
	var complete []int
	for _, c := range cols {
		vals, err := t.Floats(c)
		if err != nil {
			return nil, err
		}
		data[c] = vals
	}
	for r := 0; r < t.Len(); r++ {
		ok := true
		for _, c := range cols {
			if math.IsNaN(data[c][r]) {
				ok = false
				break
			}
		}
		if ok {
			complete = append(complete, r)
		}
	}
	if dropped := t.Len() - len(complete); dropped > 0 {
		log.Warnf("Regression: VIF ignores %d rows with missing values", dropped)
	}

	report := &VIFReport{Remaining: append([]string{}, cols...)}
	for report.Rounds < len(cols)-1 {
		report.Rounds++
		report.VIF = vifs(data, report.Remaining, complete)
		worst := floats.MaxIdx(report.VIF)
		if report.VIF[worst] <= threshold {
			break
		}
		if len(report.Remaining) <= 2 {
			report.Residual = true
			log.Infof("Regression: no more covariates can be removed, VIF still above %.1f", threshold)
			break
		}
		name := report.Remaining[worst]
		report.Dropped = append(report.Dropped, DroppedCovariate{Name: name, VIF: report.VIF[worst]})
		report.Remaining = append(report.Remaining[:worst:worst], report.Remaining[worst+1:]...)
		log.Debugf("Regression: dropped %s with VIF %.3f", name, report.VIF[worst])
	}
	return report, nil
}

// vifs regresses each column on the others (with an intercept) and returns
// 1/(1-R^2). Perfect collinearity gives +Inf.
func vifs(data map[string][]float64, cols []string, rows []int) []float64 {
	out := make([]float64, len(cols))
	n := len(rows)
	for j, target := range cols {
		x := mat.NewDense(n, len(cols), nil)
		y := make([]float64, n)
		for i, r := range rows {
			y[i] = data[target][r]
			x.Set(i, 0, 1)
			col := 1
			for k, c := range cols {
				if k == j {
					continue
				}
				x.Set(i, col, data[c][r])
				col++
			}
		}
		beta := mat.NewVecDense(len(cols), nil)
		beta.MulVec(stats.Pinv(x), mat.NewVecDense(n, y))
		resid := residuals(x, beta, y)
		r2 := rSquared(y, floats.Dot(resid, resid))
		switch {
		case math.IsNaN(r2):
			out[j] = math.Inf(1)
		case r2 >= 1-1e-12:
			out[j] = math.Inf(1)
		default:
			out[j] = 1 / (1 - r2)
		}
	}
	return out
}
