package transform

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/codyseavey/plebmtg/internal/stats"
	"github.com/codyseavey/plebmtg/internal/table"
)

func fixedNow() time.Time {
	return time.Date(2020, 1, 11, 12, 0, 0, 0, time.UTC)
}

func testAttrs(t *testing.T) *table.Table {
	t.Helper()
	tb, err := table.FromRows(
		[]string{"id", "name", "rarity", "released_at", "cmc", "power", "ispromo", "oracle_text"},
		[][]any{
			{"a1", "Bolt", "common", "2020-01-01", 1, "3", false, "deal 3"},
			{"a2", "Bolt", "rare", "2021-01-01", 1, "*", false, "deal 3"},
			{"b1", "Giant", "mythic", "2019-06-01", 5, "5", false, "big"},
			{"c1", "Oddity", "special", "2019-06-01", 2, "1", false, "odd"},
			{"d1", "Nodate", "rare", nil, 2, "1", false, "none"},
			{"e1", "Orphan", "common", "2020-01-01", 3, "1", false, "alone"},
		})
	if err != nil {
		t.Fatalf("attrs: %v", err)
	}
	return tb
}

func testPrices(t *testing.T) *table.Table {
	t.Helper()
	tb, err := table.FromRows(
		[]string{"scryfallId", "uuid", "pricetype", "pd0", "pd1", "pd2"},
		[][]any{
			{"a1", "u1", "buy", 1, 2, 3},
			{"a1", "u1", "sell", 2, 3, 4},
			{"a2", "u2", "buy", 5, nil, 7},
			{"a2", "u2", "sell", 6, 7, 8},
			{"b1", "u3", "buy", nil, nil, nil},
			{"b1", "u3", "sell", 10, 20, 30},
			{"c1", "u4", "sell", 1, 1, 1},
			{"d1", "u5", "sell", 1, 1, 1},
		})
	if err != nil {
		t.Fatalf("prices: %v", err)
	}
	return tb
}

func testViews(t *testing.T) *Views {
	t.Helper()
	v, err := Pipeline(testAttrs(t), testPrices(t), DefaultSchema(3), CleanOptions{Now: fixedNow})
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	return v
}

func TestParseDayColumn(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"pd0", 0, false},
		{"pd12", 12, false},
		{"day_7", 7, false},
		{"price", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDayColumn(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDayColumn(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if !tt.wantErr && (got.Index != tt.want || got.Name != tt.name) {
				t.Errorf("ParseDayColumn(%q) = %+v, want index %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestSchemaFromColumns(t *testing.T) {
	schema, err := SchemaFromColumns([]string{"uuid", "scryfallId", "pd10", "pd2", "pd0", "pricetype", "minday"})
	if err != nil {
		t.Fatalf("SchemaFromColumns: %v", err)
	}
	want := []DayColumn{{"pd0", 0}, {"pd2", 2}, {"pd10", 10}}
	if len(schema.Days) != len(want) {
		t.Fatalf("days = %+v, want %+v", schema.Days, want)
	}
	for i := range want {
		if schema.Days[i] != want[i] {
			t.Errorf("day %d = %+v, want %+v", i, schema.Days[i], want[i])
		}
	}
	if schema.PriceKey != DefaultSchema(0).PriceKey {
		t.Errorf("price key = %q", schema.PriceKey)
	}

	tests := []struct {
		name    string
		columns []string
	}{
		{"no day columns", []string{"scryfallId", "pricetype"}},
		{"day column without index", []string{"pd0", "pdx"}},
		{"repeated day index", []string{"pd1", "pd01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SchemaFromColumns(tt.columns); err == nil {
				t.Errorf("SchemaFromColumns(%v) succeeded, want error", tt.columns)
			}
		})
	}
}

func TestSchemaFromColumnsMatchesPipeline(t *testing.T) {
	schema, err := SchemaFromColumns(testPrices(t).Columns())
	if err != nil {
		t.Fatalf("SchemaFromColumns: %v", err)
	}
	v, err := Pipeline(testAttrs(t), testPrices(t), schema, CleanOptions{Now: fixedNow})
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	a, _ := json.Marshal(v.Summary)
	b, _ := json.Marshal(testViews(t).Summary)
	if string(a) != string(b) {
		t.Error("header-derived schema produced a different summary than DefaultSchema(3)")
	}
}

func TestMergeFiltersRarityAndReleaseDate(t *testing.T) {
	schema := DefaultSchema(3)
	merged, err := Merge(testAttrs(t), testPrices(t), schema)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Len() != 6 {
		t.Fatalf("merged rows = %d, want 6", merged.Len())
	}
	allowed := map[string]bool{"common": true, "uncommon": true, "rare": true, "mythic": true}
	for r := 0; r < merged.Len(); r++ {
		if rv, _ := merged.Value(r, "rarity").(string); !allowed[rv] {
			t.Errorf("row %d has rarity %v", r, merged.Value(r, "rarity"))
		}
		if merged.Value(r, "released_at") == nil {
			t.Errorf("row %d has null release date", r)
		}
	}
	if merged.Value(0, "id") != "a1" || merged.Value(1, "pricetype") != "sell" {
		t.Errorf("unexpected row order: %v %v", merged.Row(0), merged.Row(1))
	}
}

func TestMergeRenamesCollidingColumns(t *testing.T) {
	attrs, _ := table.FromRows([]string{"id", "rarity", "released_at", "uuid"}, [][]any{{"a", "rare", "2020-01-01", "attr"}})
	prices, _ := table.FromRows([]string{"scryfallId", "uuid"}, [][]any{{"a", "price"}})
	merged, err := Merge(attrs, prices, DefaultSchema(0))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Value(0, "uuid") != "attr" || merged.Value(0, "uuid_price") != "price" {
		t.Errorf("collision handling: columns=%v row=%v", merged.Columns(), merged.Row(0))
	}
}

func TestMergeErrors(t *testing.T) {
	schema := DefaultSchema(3)
	noKey, _ := table.FromRows([]string{"name", "rarity", "released_at"}, [][]any{{"x", "rare", "2020-01-01"}})

	tests := []struct {
		name       string
		attrs      *table.Table
		prices     *table.Table
		want       error
		wantColumn string
	}{
		{"nil attributes", nil, testPrices(t), ErrNotTabular, ""},
		{"nil prices", testAttrs(t), nil, ErrNotTabular, ""},
		{"missing attribute key", noKey, testPrices(t), table.ErrColumnNotFound, "id"},
		{"missing price key", testAttrs(t), noKey, table.ErrColumnNotFound, "scryfallId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(tt.attrs, tt.prices, schema)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Merge error = %v, want %v", err, tt.want)
			}
			if tt.wantColumn == "" {
				return
			}
			var ce *table.ColumnError
			if !errors.As(err, &ce) || ce.Column != tt.wantColumn {
				t.Errorf("expected ColumnError for %s, got %v", tt.wantColumn, err)
			}
		})
	}
}

func TestCleanShape(t *testing.T) {
	v := testViews(t)
	c := v.Cleaned

	if c.Columns()[0] != "scryfallId" {
		t.Errorf("identifier not first: %v", c.Columns())
	}
	for _, gone := range []string{"id", "uuid", "oracle_text", "released_at", "rarity"} {
		if c.Has(gone) {
			t.Errorf("column %s should have been dropped", gone)
		}
	}
	for _, want := range []string{"rarity_mythic", "rarity_rare", "days_since_release", "power", "ispromo"} {
		if !c.Has(want) {
			t.Errorf("missing column %s in %v", want, c.Columns())
		}
	}
	if c.Has("rarity_common") {
		t.Error("reference rarity category should be dropped")
	}

	// One row per (name, pricetype): Bolt x2, Giant x2, with the a1 print winning.
	if c.Len() != 4 {
		t.Fatalf("cleaned rows = %d, want 4", c.Len())
	}
	ids, _ := c.Strings("scryfallId")
	want := []string{"a1", "a1", "b1", "b1"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
	days, _ := c.Floats("days_since_release")
	if days[0] != 10 {
		t.Errorf("days_since_release = %v, want 10", days[0])
	}
	power, _ := c.Floats("power")
	if power[0] != 3 || power[2] != 5 {
		t.Errorf("power = %v", power)
	}
	if !c.IsNumeric("ispromo") {
		t.Error("bool column should be cast to numbers")
	}
}

func TestCleanIsDeterministic(t *testing.T) {
	a, _ := json.Marshal(testViews(t).Cleaned)
	b, _ := json.Marshal(testViews(t).Cleaned)
	if string(a) != string(b) {
		t.Error("Clean produced different output for identical input")
	}
}

func TestDeduplicateIsIdempotent(t *testing.T) {
	schema := DefaultSchema(3)
	cleaned := testViews(t).Cleaned
	again, err := Deduplicate(cleaned, schema)
	if err != nil {
		t.Fatalf("Deduplicate: %v", err)
	}
	if again.Len() != cleaned.Len() {
		t.Fatalf("rows %d -> %d after second dedup", cleaned.Len(), again.Len())
	}
	a, _ := json.Marshal(cleaned)
	b, _ := json.Marshal(again)
	if string(a) != string(b) {
		t.Error("second dedup reordered or changed rows")
	}
}

func TestCleanDropsLowSignalColumns(t *testing.T) {
	attrs, _ := table.FromRows(
		[]string{"id", "name", "rarity", "released_at", "rare_flag", "cmc"},
		[][]any{
			{"a", "A", "rare", "2020-01-01", 0, 2},
			{"b", "B", "rare", "2020-01-01", 0, 3},
		})
	prices, _ := table.FromRows(
		[]string{"scryfallId", "pricetype", "pd0"},
		[][]any{{"a", "sell", 0}, {"b", "sell", 0}})
	v, err := Pipeline(attrs, prices, DefaultSchema(1), CleanOptions{Now: fixedNow})
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	if v.Cleaned.Has("rare_flag") {
		t.Error("zero-sum column should be dropped")
	}
	if !v.Cleaned.Has("cmc") || !v.Cleaned.Has("pd0") {
		t.Errorf("expected cmc and pd0 to survive, got %v", v.Cleaned.Columns())
	}
}

func TestPipelineKeepsNullDayColumns(t *testing.T) {
	tests := []struct {
		name   string
		attrs  [][]any
		prices [][]any
		want   map[string][]float64
	}{
		{
			name:   "single card with no prices",
			attrs:  [][]any{{"a", "A", "rare", "2020-01-01", 2}},
			prices: [][]any{{"a", "sell", nil, nil, nil}},
			want:   map[string][]float64{"sell_max": {0}, "sell_min": {0}, "sell_mean": {0}},
		},
		{
			name: "last day missing for every card",
			attrs: [][]any{
				{"a", "A", "rare", "2020-01-01", 2},
				{"b", "B", "common", "2020-01-01", 3},
			},
			prices: [][]any{
				{"a", "sell", 3, 6, nil},
				{"b", "sell", 1, 2, nil},
			},
			want: map[string][]float64{"sell_max": {6, 2}, "sell_min": {0, 0}, "sell_mean": {3, 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs, err := table.FromRows([]string{"id", "name", "rarity", "released_at", "cmc"}, tt.attrs)
			if err != nil {
				t.Fatal(err)
			}
			prices, err := table.FromRows([]string{"scryfallId", "pricetype", "pd0", "pd1", "pd2"}, tt.prices)
			if err != nil {
				t.Fatal(err)
			}
			schema := DefaultSchema(3)
			v, err := Pipeline(attrs, prices, schema, CleanOptions{Now: fixedNow})
			if err != nil {
				t.Fatalf("Pipeline: %v", err)
			}
			for _, d := range schema.DayNames() {
				if !v.Cleaned.Has(d) {
					t.Errorf("cleaned table lost day column %s", d)
				}
			}
			if v.Longitudinal.Len() != 3*len(tt.attrs) {
				t.Errorf("longitudinal rows = %d, want %d", v.Longitudinal.Len(), 3*len(tt.attrs))
			}
			for col, want := range tt.want {
				got, err := v.Summary.Floats(col)
				if err != nil {
					t.Fatalf("summary %s: %v", col, err)
				}
				for i := range want {
					if math.Abs(got[i]-want[i]) > 1e-9 {
						t.Errorf("%s[%d] = %v, want %v", col, i, got[i], want[i])
					}
				}
			}
		})
	}
}

func TestCleanEmptyResult(t *testing.T) {
	attrs, _ := table.FromRows([]string{"id", "name", "rarity", "released_at"}, [][]any{{"a", "A", "special", "2020-01-01"}})
	prices, _ := table.FromRows([]string{"scryfallId", "pricetype", "pd0"}, [][]any{{"a", "sell", 1}})
	_, err := Pipeline(attrs, prices, DefaultSchema(1), CleanOptions{Now: fixedNow})
	if !errors.Is(err, ErrEmptyResult) {
		t.Errorf("error = %v, want ErrEmptyResult", err)
	}
}

func TestCoerceNumeric(t *testing.T) {
	tb, _ := table.FromRows([]string{"power"}, [][]any{{"3"}, {"*"}, {"1+*"}, {nil}, {2.5}})
	out, err := coerceNumeric(tb, "power")
	if err != nil {
		t.Fatalf("coerceNumeric: %v", err)
	}
	got, _ := out.Floats("power")
	want := []float64{3, 0, 0, 0, 2.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("power[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWideToLongOrderAndNulls(t *testing.T) {
	schema := DefaultSchema(3)
	long, err := WideToLong(testViews(t).Cleaned, schema)
	if err != nil {
		t.Fatalf("WideToLong: %v", err)
	}
	if long.Len() != 12 {
		t.Fatalf("long rows = %d, want 12", long.Len())
	}
	days, _ := long.Floats("priceday")
	for r, d := range days {
		if d != float64(r/4) {
			t.Fatalf("row %d priceday = %v, want day-major order", r, d)
		}
	}
	prices, _ := long.Floats("price")
	for r, p := range prices {
		if math.IsNaN(p) {
			t.Errorf("row %d price is NaN", r)
		}
	}
	for _, d := range schema.DayNames() {
		if long.Has(d) {
			t.Errorf("day column %s survived the melt", d)
		}
	}
}

func TestWideToLongMissingDayColumn(t *testing.T) {
	_, err := WideToLong(testViews(t).Cleaned, DefaultSchema(5))
	var ce *table.ColumnError
	if !errors.As(err, &ce) || ce.Column != "pd3" {
		t.Errorf("error = %v, want ColumnError for pd3", err)
	}
}

func TestLongitudinalShape(t *testing.T) {
	panel := testViews(t).Longitudinal
	if panel.Len() != 6 {
		t.Fatalf("panel rows = %d, want 6", panel.Len())
	}
	for _, c := range []string{"buy", "sell", "priceday"} {
		if !panel.Has(c) {
			t.Fatalf("missing %s in %v", c, panel.Columns())
		}
	}
	if panel.Has("pricetype") || panel.Has("price") {
		t.Error("pivoted columns should be gone")
	}
	ids, _ := panel.Strings("scryfallId")
	days, _ := panel.Floats("priceday")
	for r := 1; r < panel.Len(); r++ {
		if ids[r] < ids[r-1] || (ids[r] == ids[r-1] && days[r] <= days[r-1]) {
			t.Fatalf("panel not ordered by (id, day) at row %d", r)
		}
	}
}

func TestLongitudinalSummaryRoundTrip(t *testing.T) {
	v := testViews(t)
	ids, _ := v.Longitudinal.Strings("scryfallId")
	sumIDs, _ := v.Summary.Strings("scryfallId")
	if len(sumIDs) != 2 {
		t.Fatalf("summary rows = %d, want 2", len(sumIDs))
	}

	for _, dir := range []string{"buy", "sell"} {
		vals, _ := v.Longitudinal.Floats(dir)
		maxs, _ := v.Summary.Floats(dir + "_max")
		mins, _ := v.Summary.Floats(dir + "_min")
		means, _ := v.Summary.Floats(dir + "_mean")
		for s, id := range sumIDs {
			hi, lo, sum, n := math.Inf(-1), math.Inf(1), 0.0, 0
			for r := range ids {
				if ids[r] != id {
					continue
				}
				hi, lo = math.Max(hi, vals[r]), math.Min(lo, vals[r])
				sum += vals[r]
				n++
			}
			if math.Abs(hi-maxs[s]) > 1e-9 || math.Abs(lo-mins[s]) > 1e-9 || math.Abs(sum/float64(n)-means[s]) > 1e-9 {
				t.Errorf("%s %s: panel (%v, %v, %v) vs summary (%v, %v, %v)",
					id, dir, hi, lo, sum/float64(n), maxs[s], mins[s], means[s])
			}
		}
	}
}

func TestSummaryAllNullSeries(t *testing.T) {
	s := testViews(t).Summary
	ids, _ := s.Strings("scryfallId")
	row := -1
	for i, id := range ids {
		if id == "b1" {
			row = i
		}
	}
	if row < 0 {
		t.Fatal("b1 missing from summary")
	}
	for _, c := range []string{"buy_max", "buy_min", "buy_mean"} {
		if v := s.Value(row, c); v != 0.0 {
			t.Errorf("%s = %v, want 0", c, v)
		}
	}
	if v := s.Value(row, "sell_mean"); v != 20.0 {
		t.Errorf("sell_mean = %v, want 20", v)
	}

	scaled, err := stats.ZScale(s, []string{"buy_max", "buy_min", "buy_mean", "sell_max"}, "_z")
	if err != nil {
		t.Fatalf("ZScale on summary: %v", err)
	}
	vals, _ := scaled.Floats("buy_max_z")
	for _, x := range vals {
		if math.IsNaN(x) {
			t.Error("z-score produced NaN")
		}
	}
}
