package transform

import (
	"math"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/codyseavey/plebmtg/internal/table"
)

// WideToLong melts the day columns into (priceday, price) pairs. Every other
// column is carried along. Rows come out day-major: all cards for the first
// day, then all cards for the next. Missing prices become 0.
func WideToLong(cleaned *table.Table, schema Schema) (*table.Table, error) {
	if cleaned == nil {
		return nil, ErrNotTabular
	}
	dayPos := make([]int, len(schema.Days))
	for i, d := range schema.Days {
		pos, ok := cleaned.Index(d.Name)
		if !ok {
			return nil, &table.ColumnError{Column: d.Name, Err: table.ErrColumnNotFound}
		}
		dayPos[i] = pos
	}

	var idVars []string
	var idPos []int
	for i, c := range cleaned.Columns() {
		if !schema.isDay(c) {
			idVars = append(idVars, c)
			idPos = append(idPos, i)
		}
	}
	columns := append(append([]string{}, idVars...), schema.DayIndexColumn, schema.PriceColumn)

	rows := make([][]any, 0, len(schema.Days)*cleaned.Len())
	for i, d := range schema.Days {
		for r := 0; r < cleaned.Len(); r++ {
			row := make([]any, 0, len(columns))
			for _, p := range idPos {
				row = append(row, cleaned.At(r, p))
			}
			price := 0.0
			switch v := cleaned.At(r, dayPos[i]).(type) {
			case nil:
			case float64:
				if !math.IsNaN(v) {
					price = v
				}
			default:
				return nil, &table.ColumnError{Column: d.Name, Err: table.ErrNotNumeric}
			}
			row = append(row, float64(d.Index), price)
			rows = append(rows, row)
		}
	}
	return table.FromRows(columns, rows)
}

// Longitudinal is the panel view: one row per card and day with one price
// column per direction, ordered by (identifier, priceday).
func Longitudinal(cleaned *table.Table, schema Schema) (*table.Table, error) {
	long, err := WideToLong(cleaned, schema)
	if err != nil {
		return nil, err
	}
	return pivotDirections(long, schema)
}

func pivotDirections(long *table.Table, schema Schema) (*table.Table, error) {
	directions, err := long.Strings(schema.DirectionColumn)
	if err != nil {
		return nil, err
	}
	prices, err := long.Floats(schema.PriceColumn)
	if err != nil {
		return nil, err
	}
	dirs := distinctSorted(directions)

	var index []string
	for _, c := range long.Columns() {
		if c != schema.DirectionColumn && c != schema.PriceColumn {
			index = append(index, c)
		}
	}
	indexTable, err := long.Select(index...)
	if err != nil {
		return nil, err
	}

	type group struct {
		first  int
		values map[string]float64
	}
	groups := map[string]*group{}
	var order []string
	for r := 0; r < long.Len(); r++ {
		k := long.RowKey(r, index...)
		g, ok := groups[k]
		if !ok {
			g = &group{first: r, values: map[string]float64{}}
			groups[k] = g
			order = append(order, k)
		}
		if _, seen := g.values[directions[r]]; !seen {
			g.values[directions[r]] = prices[r]
		}
	}

	columns := append(append([]string{}, index...), dirs...)
	rows := make([][]any, 0, len(order))
	for _, k := range order {
		g := groups[k]
		row := indexTable.Row(g.first)
		for _, d := range dirs {
			row = append(row, g.values[d])
		}
		rows = append(rows, row)
	}
	wide, err := table.FromRows(columns, rows)
	if err != nil {
		return nil, err
	}
	out, err := wide.SortBy(schema.PriceKey, schema.DayIndexColumn)
	if err != nil {
		return nil, err
	}
	log.Infof("Longitudinal: %d card-day rows across %d directions", out.Len(), len(dirs))
	return out, nil
}

// LongToSummary collapses the long form to one row per card with
// <direction>_max, _min and _mean columns appended to the card attributes.
func LongToSummary(long *table.Table, schema Schema) (*table.Table, error) {
	if long == nil {
		return nil, ErrNotTabular
	}
	ids, err := long.Strings(schema.PriceKey)
	if err != nil {
		return nil, err
	}
	directions, err := long.Strings(schema.DirectionColumn)
	if err != nil {
		return nil, err
	}
	prices, err := long.Floats(schema.PriceColumn)
	if err != nil {
		return nil, err
	}
	if !long.Has(schema.DayIndexColumn) {
		return nil, &table.ColumnError{Column: schema.DayIndexColumn, Err: table.ErrColumnNotFound}
	}
	dirs := distinctSorted(directions)

	type agg struct {
		max, min, sum float64
		n             int
	}
	aggs := make(map[string]map[string]*agg, len(dirs))
	for _, d := range dirs {
		aggs[d] = map[string]*agg{}
	}
	for r := range ids {
		a, ok := aggs[directions[r]][ids[r]]
		if !ok {
			a = &agg{max: math.Inf(-1), min: math.Inf(1)}
			aggs[directions[r]][ids[r]] = a
		}
		p := prices[r]
		a.max = math.Max(a.max, p)
		a.min = math.Min(a.min, p)
		a.sum += p
		a.n++
	}

	base, err := long.Drop(schema.DayIndexColumn, schema.PriceColumn, schema.DirectionColumn).DropDuplicates()
	if err != nil {
		return nil, err
	}
	baseIDs, err := base.Strings(schema.PriceKey)
	if err != nil {
		return nil, err
	}

	out := base
	for _, d := range dirs {
		maxs := make([]float64, base.Len())
		mins := make([]float64, base.Len())
		means := make([]float64, base.Len())
		for r, id := range baseIDs {
			if a, ok := aggs[d][id]; ok {
				maxs[r], mins[r], means[r] = a.max, a.min, a.sum/float64(a.n)
			}
		}
		if out, err = out.WithFloats(d+"_max", maxs); err != nil {
			return nil, err
		}
		if out, err = out.WithFloats(d+"_min", mins); err != nil {
			return nil, err
		}
		if out, err = out.WithFloats(d+"_mean", means); err != nil {
			return nil, err
		}
	}
	log.Infof("Summary: %d cards with %d price directions", out.Len(), len(dirs))
	return out, nil
}

// Summary is LongToSummary(WideToLong(cleaned)).
func Summary(cleaned *table.Table, schema Schema) (*table.Table, error) {
	long, err := WideToLong(cleaned, schema)
	if err != nil {
		return nil, err
	}
	return LongToSummary(long, schema)
}

func distinctSorted(vals []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range vals {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
