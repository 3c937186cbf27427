package transform

import (
	log "github.com/sirupsen/logrus"

	"github.com/codyseavey/plebmtg/internal/table"
)

// collisionSuffix is appended to price-side columns whose name already exists
// on the attribute side.
const collisionSuffix = "_price"

// Merge inner-joins attributes and prices on their identifier columns, keeps
// the four canonical rarities and drops rows without a release date.
func Merge(attrs, prices *table.Table, schema Schema) (*table.Table, error) {
	if attrs == nil || prices == nil {
		return nil, ErrNotTabular
	}
	leftKey, ok := attrs.Index(schema.AttributeKey)
	if !ok {
		return nil, &table.ColumnError{Column: schema.AttributeKey, Err: table.ErrColumnNotFound}
	}
	rightKey, ok := prices.Index(schema.PriceKey)
	if !ok {
		return nil, &table.ColumnError{Column: schema.PriceKey, Err: table.ErrColumnNotFound}
	}
	for _, c := range []string{schema.RarityColumn, schema.ReleaseColumn} {
		if !attrs.Has(c) && !prices.Has(c) {
			return nil, &table.ColumnError{Column: c, Err: table.ErrColumnNotFound}
		}
	}

	columns := attrs.Columns()
	taken := make(map[string]bool, len(columns))
	for _, c := range columns {
		taken[c] = true
	}
	for _, c := range prices.Columns() {
		name := c
		if taken[name] {
			name = c + collisionSuffix
			log.WithField("column", c).Debug("Merge: price column collides with attribute column, renamed")
		}
		taken[name] = true
		columns = append(columns, name)
	}

	byKey := make(map[string][]int, prices.Len())
	for r := 0; r < prices.Len(); r++ {
		k, ok := prices.At(r, rightKey).(string)
		if !ok {
			continue
		}
		byKey[k] = append(byKey[k], r)
	}

	var rows [][]any
	for l := 0; l < attrs.Len(); l++ {
		k, ok := attrs.At(l, leftKey).(string)
		if !ok {
			continue
		}
		for _, r := range byKey[k] {
			row := append(attrs.Row(l), prices.Row(r)...)
			rows = append(rows, row)
		}
	}

	joined, err := table.FromRows(columns, rows)
	if err != nil {
		return nil, err
	}

	rarity := make(map[string]bool, len(Rarities))
	for _, r := range Rarities {
		rarity[r] = true
	}
	merged := joined.Filter(func(r int) bool {
		rv, _ := joined.Value(r, schema.RarityColumn).(string)
		if !rarity[rv] {
			return false
		}
		switch d := joined.Value(r, schema.ReleaseColumn).(type) {
		case nil:
			return false
		case string:
			return d != ""
		}
		return true
	})

	log.Infof("Merge: joined %d attribute rows with %d price rows into %d rows (%d after filters)",
		attrs.Len(), prices.Len(), joined.Len(), merged.Len())
	return merged, nil
}
