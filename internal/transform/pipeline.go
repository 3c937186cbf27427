package transform

import (
	"fmt"

	"github.com/codyseavey/plebmtg/internal/table"
)

// Views are the tables produced by one pass over the raw inputs.
type Views struct {
	Merged       *table.Table
	Cleaned      *table.Table
	Longitudinal *table.Table
	Summary      *table.Table
}

// Pipeline runs merge, clean and both reshapes.
func Pipeline(attrs, prices *table.Table, schema Schema, opts CleanOptions) (*Views, error) {
	merged, err := Merge(attrs, prices, schema)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	cleaned, err := Clean(merged, schema, opts)
	if err != nil {
		return nil, fmt.Errorf("clean: %w", err)
	}
	long, err := WideToLong(cleaned, schema)
	if err != nil {
		return nil, fmt.Errorf("wide to long: %w", err)
	}
	panel, err := pivotDirections(long, schema)
	if err != nil {
		return nil, fmt.Errorf("longitudinal: %w", err)
	}
	summary, err := LongToSummary(long, schema)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	return &Views{
		Merged:       merged,
		Cleaned:      cleaned,
		Longitudinal: panel,
		Summary:      summary,
	}, nil
}
