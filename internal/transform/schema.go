// Package transform reconciles the Scryfall attribute table and the MTGJSON
// price table into the cleaned, longitudinal and summary views used by the
// clustering and regression engines.
package transform

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/codyseavey/plebmtg/internal/table"
)

// DayPrefix starts every wide price column name.
const DayPrefix = "pd"

var (
	ErrNotTabular  = errors.New("input is not a table")
	ErrEmptyResult = errors.New("no rows left after cleaning")
)

// Canonical rarities kept by Merge.
var Rarities = []string{"common", "uncommon", "rare", "mythic"}

// DayColumn is one wide price column and the day offset it carries.
type DayColumn struct {
	Name  string
	Index int
}

// ParseDayColumn extracts the day offset from a column name by dropping every
// non-digit character ("pd12" -> 12).
func ParseDayColumn(name string) (DayColumn, error) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, name)
	idx, err := strconv.Atoi(digits)
	if err != nil {
		return DayColumn{}, fmt.Errorf("day column %q has no day index", name)
	}
	return DayColumn{Name: name, Index: idx}, nil
}

// Schema is the column contract between the upstream tables and the pipeline.
type Schema struct {
	AttributeKey    string // id on the Scryfall side
	PriceKey        string // scryfallId on the MTGJSON side
	NameColumn      string
	RarityColumn    string
	ReleaseColumn   string
	DirectionColumn string
	DaysColumn      string // produced by Clean
	DayIndexColumn  string // produced by WideToLong
	PriceColumn     string // produced by WideToLong
	ImageColumn     string
	StatColumns     []string
	Irrelevant      []string
	Days            []DayColumn
}

// DefaultSchema is the MTG schema with a days-long lookback window (pd0..pd{days-1}).
func DefaultSchema(days int) Schema {
	dayCols := make([]DayColumn, days)
	for i := range dayCols {
		dayCols[i] = DayColumn{Name: fmt.Sprintf("%s%d", DayPrefix, i), Index: i}
	}
	return Schema{
		AttributeKey:    "id",
		PriceKey:        "scryfallId",
		NameColumn:      "name",
		RarityColumn:    "rarity",
		ReleaseColumn:   "released_at",
		DirectionColumn: "pricetype",
		DaysColumn:      "days_since_release",
		DayIndexColumn:  "priceday",
		PriceColumn:     "price",
		ImageColumn:     "image_url",
		StatColumns:     []string{"power", "toughness", "loyalty"},
		Irrelevant: []string{
			"object", "id", "oracle_id", "mtgo_id", "mtgo_foil_id", "tcgplayer_id", "cardmarket_id", "lang",
			"highres_image", "image_status", "image_url", "type_line", "oracle_text", "reserved", "foil",
			"nonfoil", "oversized", "promo", "variation", "digital", "flavor_text", "artist", "border_color",
			"frame", "full_art", "textless", "booster", "watermark", "printed_name", "printed_type_line",
			"printed_text", "content_warning", "variation_of", "flavor_name", "uuid", "mtgjsonV4Id",
			"scryfallIllustrationId", "scryfallOracleId", "minday", "maxday", "layout", "set", "set_name",
			"set_type", "collector_number",
		},
		Days: dayCols,
	}
}

// SchemaFromColumns is DefaultSchema with the day columns taken from a price
// table header instead of a configured window: every pd* column, ordered by
// day index.
func SchemaFromColumns(columns []string) (Schema, error) {
	var days []DayColumn
	seen := map[int]string{}
	for _, c := range columns {
		if !strings.HasPrefix(c, DayPrefix) {
			continue
		}
		d, err := ParseDayColumn(c)
		if err != nil {
			return Schema{}, err
		}
		if prev, ok := seen[d.Index]; ok {
			return Schema{}, fmt.Errorf("day columns %q and %q share day index %d", prev, c, d.Index)
		}
		seen[d.Index] = c
		days = append(days, d)
	}
	if len(days) == 0 {
		return Schema{}, &table.ColumnError{Column: DayPrefix + "*", Err: table.ErrColumnNotFound}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Index < days[j].Index })

	s := DefaultSchema(0)
	s.Days = days
	return s, nil
}

// DayNames lists the wide price column names.
func (s Schema) DayNames() []string {
	out := make([]string, len(s.Days))
	for i, d := range s.Days {
		out[i] = d.Name
	}
	return out
}

func (s Schema) isDay(col string) bool {
	for _, d := range s.Days {
		if d.Name == col {
			return true
		}
	}
	return false
}

// Identifier is the key that survives cleaning (the price-side key).
func (s Schema) Identifier() string { return s.PriceKey }
