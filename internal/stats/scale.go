// Package stats holds the numeric helpers shared by the clustering and
// regression engines: z-score scaling, pseudo-inverses and distributions.
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/codyseavey/plebmtg/internal/table"
)

// ZScale standardizes the named columns to zero mean and unit population
// variance. The result holds one column per input, named col+suffix, in the
// order given. Zero-variance columns scale to 0. Nulls are rejected.
func ZScale(t *table.Table, cols []string, suffix string) (*table.Table, error) {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c + suffix
	}
	out, err := table.New(names...)
	if err != nil {
		return nil, err
	}

	scaled := make([][]float64, len(cols))
	for j, c := range cols {
		vals, err := t.Floats(c)
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			if math.IsNaN(v) {
				return nil, &table.ColumnError{Column: c, Err: table.ErrNotNumeric}
			}
		}
		scaled[j] = ZScores(vals)
	}

	rows := make([][]any, t.Len())
	for r := range rows {
		row := make([]any, len(cols))
		for j := range cols {
			row[j] = scaled[j][r]
		}
		rows[r] = row
	}
	return out.Append(rows...)
}

// ZScores returns (x - mean) / std with the population standard deviation.
func ZScores(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	mean, variance := stat.PopMeanVariance(x, nil)
	sd := math.Sqrt(variance)
	if sd == 0 || math.IsNaN(sd) {
		return out
	}
	for i, v := range x {
		out[i] = (v - mean) / sd
	}
	return out
}
