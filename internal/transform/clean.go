package transform

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/codyseavey/plebmtg/internal/table"
)

const (
	// DefaultPercentKeep is the share of rows whose summed value a numeric
	// attribute column must reach to survive cleaning.
	DefaultPercentKeep = 0.03

	releaseLayout = "2006-01-02"
)

// CleanOptions tunes Clean.
type CleanOptions struct {
	PercentKeep float64
	// Now anchors days_since_release; defaults to time.Now.
	Now func() time.Time
}

func (o CleanOptions) withDefaults() CleanOptions {
	if o.PercentKeep <= 0 {
		o.PercentKeep = DefaultPercentKeep
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Clean turns merged rows into one numeric-ready row per (card name, price direction).
func Clean(merged *table.Table, schema Schema, opts CleanOptions) (*table.Table, error) {
	if merged == nil {
		return nil, ErrNotTabular
	}
	opts = opts.withDefaults()
	for _, c := range []string{schema.PriceKey, schema.NameColumn, schema.RarityColumn, schema.ReleaseColumn, schema.DirectionColumn} {
		if !merged.Has(c) {
			return nil, &table.ColumnError{Column: c, Err: table.ErrColumnNotFound}
		}
	}
	if merged.Len() == 0 {
		return nil, ErrEmptyResult
	}

	t := merged.Drop(schema.Irrelevant...)

	// Day columns stay even when empty: the melt needs every one of them and
	// reads nulls as 0.
	var empty []string
	for _, c := range t.Columns() {
		if !schema.isDay(c) && t.IsAllNull(c) {
			empty = append(empty, c)
		}
	}
	t = t.Drop(empty...)

	t, err := dropLowSignal(t, schema, opts.PercentKeep)
	if err != nil {
		return nil, err
	}

	log.Debug("Clean: recoding power, toughness and loyalty")
	for _, c := range schema.StatColumns {
		if !t.Has(c) {
			continue
		}
		if t, err = coerceNumeric(t, c); err != nil {
			return nil, err
		}
	}

	for _, c := range t.Columns() {
		if !t.IsBool(c) {
			continue
		}
		if t, err = boolToFloat(t, c); err != nil {
			return nil, err
		}
	}

	if t, err = rarityDummies(t, schema.RarityColumn); err != nil {
		return nil, err
	}

	log.Debug("Clean: recoding release date")
	if t, err = daysSinceRelease(t, schema, opts.Now()); err != nil {
		return nil, err
	}

	if t, err = Deduplicate(t, schema); err != nil {
		return nil, err
	}
	t = t.Drop(schema.ReleaseColumn)

	order := []string{schema.PriceKey}
	for _, c := range t.Columns() {
		if c != schema.PriceKey {
			order = append(order, c)
		}
	}
	if t, err = t.Select(order...); err != nil {
		return nil, err
	}
	if t.Len() == 0 {
		return nil, ErrEmptyResult
	}

	log.Infof("Clean: %d rows and %d columns after cleaning", t.Len(), t.Width())
	return t, nil
}

// Deduplicate keeps one row per (name, price direction): rows are sorted by
// (identifier, name, days since release, direction) and the first one wins.
func Deduplicate(t *table.Table, schema Schema) (*table.Table, error) {
	if t == nil {
		return nil, ErrNotTabular
	}
	sorted, err := t.SortBy(schema.PriceKey, schema.NameColumn, schema.DaysColumn, schema.DirectionColumn)
	if err != nil {
		return nil, err
	}
	return sorted.DropDuplicates(schema.NameColumn, schema.DirectionColumn)
}

func dropLowSignal(t *table.Table, schema Schema, percentKeep float64) (*table.Table, error) {
	threshold := float64(t.Len()) * percentKeep
	var err error
	for _, c := range t.Columns() {
		if schema.isDay(c) || !t.IsNumeric(c) {
			continue
		}
		vals, ferr := t.Floats(c)
		if ferr != nil {
			return nil, ferr
		}
		sum := 0.0
		for i, v := range vals {
			if math.IsNaN(v) {
				vals[i] = 0
				continue
			}
			sum += v
		}
		if sum < threshold {
			t = t.Drop(c)
			continue
		}
		if t, err = t.WithFloats(c, vals); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// coerceNumeric parses text stats such as "3" and maps anything else ("*", "1+*", null) to 0.
func coerceNumeric(t *table.Table, col string) (*table.Table, error) {
	cells, err := t.Column(col)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(cells))
	for i, v := range cells {
		switch x := v.(type) {
		case float64:
			if !math.IsNaN(x) {
				out[i] = x
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
				out[i] = f
			}
		}
	}
	return t.WithFloats(col, out)
}

func boolToFloat(t *table.Table, col string) (*table.Table, error) {
	cells, err := t.Column(col)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(cells))
	for i, v := range cells {
		if v.(bool) {
			out[i] = 1
		}
	}
	return t.WithFloats(col, out)
}

// rarityDummies one-hot encodes rarity and drops the lexicographically first
// category as the reference level.
func rarityDummies(t *table.Table, col string) (*table.Table, error) {
	values, err := t.Strings(col)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var cats []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			cats = append(cats, v)
		}
	}
	sort.Strings(cats)

	out := t.Drop(col)
	if len(cats) < 2 {
		return out, nil
	}
	for _, cat := range cats[1:] {
		dummy := make([]float64, len(values))
		for i, v := range values {
			if v == cat {
				dummy[i] = 1
			}
		}
		if out, err = out.WithFloats(col+"_"+cat, dummy); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func daysSinceRelease(t *table.Table, schema Schema, now time.Time) (*table.Table, error) {
	cells, err := t.Column(schema.ReleaseColumn)
	if err != nil {
		return nil, err
	}
	days := make([]float64, len(cells))
	for i, v := range cells {
		s, ok := v.(string)
		if !ok {
			return nil, &table.ColumnError{Column: schema.ReleaseColumn, Err: fmt.Errorf("row %d: release date %v is not a date string", i, v)}
		}
		released, err := time.ParseInLocation(releaseLayout, s, now.Location())
		if err != nil {
			return nil, &table.ColumnError{Column: schema.ReleaseColumn, Err: err}
		}
		days[i] = math.Floor(now.Sub(released).Hours() / 24)
	}
	return t.WithFloats(schema.DaysColumn, days)
}
