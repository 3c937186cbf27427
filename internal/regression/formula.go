// Package regression fits OLS and GEE models from R-style formulas, prunes
// collinear covariates by VIF and explains the significant effects.
package regression

import (
	"errors"
	"fmt"
	"math"
	"strings"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/codyseavey/plebmtg/internal/table"
)

var (
	ErrBadFormula         = errors.New("malformed formula")
	ErrTooFewCovariates   = errors.New("need at least 2 covariates")
	ErrUnknownFamily      = errors.New("unknown family")
	ErrResponseDomain     = errors.New("response outside the family's domain")
	ErrTooFewObservations = errors.New("not enough complete observations")
)

// Intercept is the name of the constant term.
const Intercept = "Intercept"

// Formula is "response ~ term + term ...". An intercept is always fitted.
type Formula struct {
	Response string
	Terms    []string
}

// ParseFormula reads "y ~ a + b".
func ParseFormula(s string) (Formula, error) {
	lhs, rhs, ok := strings.Cut(s, "~")
	if !ok {
		return Formula{}, fmt.Errorf("%w: %q has no '~'", ErrBadFormula, s)
	}
	f := Formula{Response: strings.TrimSpace(lhs)}
	if f.Response == "" || strings.ContainsAny(f.Response, "+~") {
		return Formula{}, fmt.Errorf("%w: bad response in %q", ErrBadFormula, s)
	}
	seen := map[string]bool{}
	for _, term := range strings.Split(rhs, "+") {
		term = strings.TrimSpace(term)
		if term == "" || strings.Contains(term, "~") {
			return Formula{}, fmt.Errorf("%w: empty or invalid term in %q", ErrBadFormula, s)
		}
		if term == "1" || seen[term] {
			continue
		}
		seen[term] = true
		f.Terms = append(f.Terms, term)
	}
	return f, nil
}

func (f Formula) String() string {
	if len(f.Terms) == 0 {
		return f.Response + " ~ 1"
	}
	return f.Response + " ~ " + strings.Join(f.Terms, " + ")
}

// design is the numeric form of a formula over a table.
type design struct {
	X     *mat.Dense
	Y     []float64
	Names []string // Intercept first
	Rows  []int    // table rows used, after dropping incomplete ones
}

// buildDesign checks every formula column and drops rows with a null in any of them.
func buildDesign(t *table.Table, f Formula) (*design, error) {
	if t == nil {
		return nil, fmt.Errorf("regression: nil table")
	}
	cols := append([]string{f.Response}, f.Terms...)
	data := make([][]float64, len(cols))
	for j, c := range cols {
		if !t.Has(c) {
			return nil, &table.ColumnError{Column: c, Err: table.ErrColumnNotFound}
		}
		vals, err := t.Floats(c)
		if err != nil {
			return nil, err
		}
		data[j] = vals
	}

	var rows []int
	for r := 0; r < t.Len(); r++ {
		complete := true
		for j := range cols {
			if math.IsNaN(data[j][r]) {
				complete = false
				break
			}
		}
		if complete {
			rows = append(rows, r)
		}
	}
	if dropped := t.Len() - len(rows); dropped > 0 {
		log.Warnf("Regression: dropped %d rows with missing values", dropped)
	}
	p := len(f.Terms) + 1
	if len(rows) < p {
		return nil, fmt.Errorf("%w: %d rows for %d parameters", ErrTooFewObservations, len(rows), p)
	}

	d := &design{
		X:     mat.NewDense(len(rows), p, nil),
		Y:     make([]float64, len(rows)),
		Names: append([]string{Intercept}, f.Terms...),
		Rows:  rows,
	}
	for i, r := range rows {
		d.Y[i] = data[0][r]
		d.X.Set(i, 0, 1)
		for j := 1; j < p; j++ {
			d.X.Set(i, j, data[j][r])
		}
	}
	return d, nil
}
