// Package table provides the small row-major table type that every stage of the
// analysis pipeline passes around. Cells are nil, float64, string or bool.
package table

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrColumnNotFound = errors.New("column not found")
	ErrNotNumeric     = errors.New("column is not numeric")
	ErrDuplicateName  = errors.New("duplicate column name")
	ErrBadCell        = errors.New("unsupported cell type")
	ErrRowWidth       = errors.New("row width does not match columns")
)

// ColumnError ties a schema failure to the offending column.
type ColumnError struct {
	Column string
	Err    error
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("column %q: %v", e.Column, e.Err)
}

func (e *ColumnError) Unwrap() error {
	return e.Err
}

// Table is an ordered set of named columns over rows of cells.
// Methods never modify the receiver.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]any
}

// New creates an empty table with the given columns.
func New(columns ...string) (*Table, error) {
	t := &Table{
		columns: make([]string, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	copy(t.columns, columns)
	for i, c := range columns {
		if _, ok := t.index[c]; ok {
			return nil, &ColumnError{Column: c, Err: ErrDuplicateName}
		}
		t.index[c] = i
	}
	return t, nil
}

// MustNew is New for static column lists; it panics on duplicates.
func MustNew(columns ...string) *Table {
	t, err := New(columns...)
	if err != nil {
		panic(err)
	}
	return t
}

// FromRows builds a table from columns and rows, normalizing every cell.
func FromRows(columns []string, rows [][]any) (*Table, error) {
	t, err := New(columns...)
	if err != nil {
		return nil, err
	}
	t.rows = make([][]any, 0, len(rows))
	for _, r := range rows {
		if err := t.appendRow(r); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Builder grows a table one row at a time, keeping each row it is handed
// instead of copying it.
type Builder struct {
	t *Table
}

// NewBuilder starts a table with room for capacity rows.
func NewBuilder(capacity int, columns ...string) (*Builder, error) {
	t, err := New(columns...)
	if err != nil {
		return nil, err
	}
	t.rows = make([][]any, 0, capacity)
	return &Builder{t: t}, nil
}

// Add normalizes row in place and appends it. The caller must not reuse row.
func (b *Builder) Add(row ...any) error {
	if len(row) != len(b.t.columns) {
		return fmt.Errorf("%w: got %d, want %d", ErrRowWidth, len(row), len(b.t.columns))
	}
	for i, v := range row {
		cell, err := Normalize(v)
		if err != nil {
			return &ColumnError{Column: b.t.columns[i], Err: err}
		}
		row[i] = cell
	}
	b.t.rows = append(b.t.rows, row)
	return nil
}

// Len is the number of rows added so far.
func (b *Builder) Len() int { return len(b.t.rows) }

// Table returns the built table. The builder must not be used afterwards.
func (b *Builder) Table() *Table { return b.t }

// Normalize converts a Go value into a supported cell.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case string:
		return x, nil
	case bool:
		return x, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadCell, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrBadCell, v)
	}
}

func (t *Table) appendRow(r []any) error {
	if len(r) != len(t.columns) {
		return fmt.Errorf("%w: got %d, want %d", ErrRowWidth, len(r), len(t.columns))
	}
	row := make([]any, len(r))
	for i, v := range r {
		cell, err := Normalize(v)
		if err != nil {
			return &ColumnError{Column: t.columns[i], Err: err}
		}
		row[i] = cell
	}
	t.rows = append(t.rows, row)
	return nil
}

// Columns returns a copy of the column names.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Len is the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Width is the number of columns.
func (t *Table) Width() int { return len(t.columns) }

// Has reports whether the column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Index returns the position of a column.
func (t *Table) Index(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

func (t *Table) mustIndex(name string) (int, error) {
	i, ok := t.index[name]
	if !ok {
		return 0, &ColumnError{Column: name, Err: ErrColumnNotFound}
	}
	return i, nil
}

// At returns the cell at row r, column c.
func (t *Table) At(r, c int) any { return t.rows[r][c] }

// Value returns the cell at row r in the named column, or nil if the column is missing.
func (t *Table) Value(r int, name string) any {
	i, ok := t.index[name]
	if !ok {
		return nil
	}
	return t.rows[r][i]
}

// Row returns a copy of row r.
func (t *Table) Row(r int) []any {
	out := make([]any, len(t.rows[r]))
	copy(out, t.rows[r])
	return out
}

// Column returns a copy of a column's cells.
func (t *Table) Column(name string) ([]any, error) {
	i, err := t.mustIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(t.rows))
	for r, row := range t.rows {
		out[r] = row[i]
	}
	return out, nil
}

// Floats returns a numeric column. Nulls become NaN; any other cell type fails.
func (t *Table) Floats(name string) ([]float64, error) {
	i, err := t.mustIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(t.rows))
	for r, row := range t.rows {
		switch v := row[i].(type) {
		case nil:
			out[r] = math.NaN()
		case float64:
			out[r] = v
		default:
			return nil, &ColumnError{Column: name, Err: ErrNotNumeric}
		}
	}
	return out, nil
}

// Strings returns a column rendered as strings; nulls become "".
func (t *Table) Strings(name string) ([]string, error) {
	i, err := t.mustIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(t.rows))
	for r, row := range t.rows {
		out[r] = CellString(row[i])
	}
	return out, nil
}

// IsNumeric reports whether every non-null cell of the column is a float64
// and at least one cell is not null.
func (t *Table) IsNumeric(name string) bool {
	return t.allOf(name, func(v any) bool { _, ok := v.(float64); return ok })
}

// IsBool reports whether every cell of the column is a bool (no nulls).
func (t *Table) IsBool(name string) bool {
	i, ok := t.index[name]
	if !ok || len(t.rows) == 0 {
		return false
	}
	for _, row := range t.rows {
		if _, ok := row[i].(bool); !ok {
			return false
		}
	}
	return true
}

// IsAllNull reports whether the column has no non-null cells.
func (t *Table) IsAllNull(name string) bool {
	i, ok := t.index[name]
	if !ok {
		return false
	}
	for _, row := range t.rows {
		if row[i] != nil {
			return false
		}
	}
	return true
}

func (t *Table) allOf(name string, pred func(any) bool) bool {
	i, ok := t.index[name]
	if !ok {
		return false
	}
	seen := false
	for _, row := range t.rows {
		if row[i] == nil {
			continue
		}
		if !pred(row[i]) {
			return false
		}
		seen = true
	}
	return seen
}

// Distinct counts distinct cells in a column, nulls included as one value.
func (t *Table) Distinct(name string) int {
	i, ok := t.index[name]
	if !ok {
		return 0
	}
	seen := make(map[any]struct{})
	for _, row := range t.rows {
		seen[row[i]] = struct{}{}
	}
	return len(seen)
}

// Select returns a table with only the named columns, in that order.
func (t *Table) Select(names ...string) (*Table, error) {
	idx := make([]int, len(names))
	for j, n := range names {
		i, err := t.mustIndex(n)
		if err != nil {
			return nil, err
		}
		idx[j] = i
	}
	out, err := New(names...)
	if err != nil {
		return nil, err
	}
	out.rows = make([][]any, len(t.rows))
	for r, row := range t.rows {
		nr := make([]any, len(idx))
		for j, i := range idx {
			nr[j] = row[i]
		}
		out.rows[r] = nr
	}
	return out, nil
}

// Drop returns a table without the named columns. Unknown names are ignored.
func (t *Table) Drop(names ...string) *Table {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	keep := make([]string, 0, len(t.columns))
	for _, c := range t.columns {
		if !skip[c] {
			keep = append(keep, c)
		}
	}
	out, _ := t.Select(keep...)
	return out
}

// WithColumn returns a table where the named column holds vals. An existing
// column is replaced in place, a new one is appended.
func (t *Table) WithColumn(name string, vals []any) (*Table, error) {
	if len(vals) != len(t.rows) {
		return nil, &ColumnError{Column: name, Err: ErrRowWidth}
	}
	cols := t.Columns()
	pos, exists := t.index[name]
	if !exists {
		cols = append(cols, name)
		pos = len(cols) - 1
	}
	out, err := New(cols...)
	if err != nil {
		return nil, err
	}
	out.rows = make([][]any, len(t.rows))
	for r, row := range t.rows {
		nr := make([]any, len(cols))
		copy(nr, row)
		cell, err := Normalize(vals[r])
		if err != nil {
			return nil, &ColumnError{Column: name, Err: err}
		}
		nr[pos] = cell
		out.rows[r] = nr
	}
	return out, nil
}

// WithFloats is WithColumn for numeric data.
func (t *Table) WithFloats(name string, vals []float64) (*Table, error) {
	cells := make([]any, len(vals))
	for i, v := range vals {
		cells[i] = v
	}
	return t.WithColumn(name, cells)
}

// Rename returns a table with columns renamed according to m.
func (t *Table) Rename(m map[string]string) (*Table, error) {
	cols := t.Columns()
	for i, c := range cols {
		if n, ok := m[c]; ok {
			cols[i] = n
		}
	}
	out, err := New(cols...)
	if err != nil {
		return nil, err
	}
	out.rows = t.cloneRows()
	return out, nil
}

// Filter keeps rows for which keep returns true.
func (t *Table) Filter(keep func(r int) bool) *Table {
	out := t.emptyLike()
	for r, row := range t.rows {
		if keep(r) {
			out.rows = append(out.rows, cloneRow(row))
		}
	}
	return out
}

// Take returns the rows at the given positions, in that order.
func (t *Table) Take(positions []int) *Table {
	out := t.emptyLike()
	out.rows = make([][]any, len(positions))
	for j, r := range positions {
		out.rows[j] = cloneRow(t.rows[r])
	}
	return out
}

// SortBy returns a stably sorted copy ordered by the given columns ascending.
// Nulls sort last, numbers before strings before bools.
func (t *Table) SortBy(keys ...string) (*Table, error) {
	idx := make([]int, len(keys))
	for j, k := range keys {
		i, err := t.mustIndex(k)
		if err != nil {
			return nil, err
		}
		idx[j] = i
	}
	order := make([]int, len(t.rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := t.rows[order[a]], t.rows[order[b]]
		for _, i := range idx {
			if c := Compare(ra[i], rb[i]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	return t.Take(order), nil
}

// DropDuplicates keeps the first row for each distinct combination of keys.
// With no keys the whole row is compared.
func (t *Table) DropDuplicates(keys ...string) (*Table, error) {
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		i, err := t.mustIndex(k)
		if err != nil {
			return nil, err
		}
		idx = append(idx, i)
	}
	if len(idx) == 0 {
		for i := range t.columns {
			idx = append(idx, i)
		}
	}
	seen := make(map[string]struct{}, len(t.rows))
	var keep []int
	for r, row := range t.rows {
		k := rowKey(row, idx)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keep = append(keep, r)
	}
	return t.Take(keep), nil
}

// Append adds rows to a copy of the table.
func (t *Table) Append(rows ...[]any) (*Table, error) {
	out := t.emptyLike()
	out.rows = t.cloneRows()
	for _, r := range rows {
		if err := out.appendRow(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := t.emptyLike()
	out.rows = t.cloneRows()
	return out
}

func (t *Table) emptyLike() *Table {
	out, _ := New(t.columns...)
	return out
}

func (t *Table) cloneRows() [][]any {
	rows := make([][]any, len(t.rows))
	for i, r := range t.rows {
		rows[i] = cloneRow(r)
	}
	return rows
}

func cloneRow(r []any) []any {
	out := make([]any, len(r))
	copy(out, r)
	return out
}

// RowKey renders the selected cells of a row as a map key.
func (t *Table) RowKey(r int, names ...string) string {
	idx := make([]int, 0, len(names))
	for _, n := range names {
		if i, ok := t.index[n]; ok {
			idx = append(idx, i)
		}
	}
	return rowKey(t.rows[r], idx)
}

func rowKey(row []any, idx []int) string {
	b := make([]byte, 0, 16*len(idx))
	for _, i := range idx {
		switch v := row[i].(type) {
		case nil:
			b = append(b, 'n')
		case float64:
			b = append(b, 'f')
			b = append(b, fmt.Sprintf("%v", v)...)
		case string:
			b = append(b, 's')
			b = append(b, v...)
		case bool:
			if v {
				b = append(b, 'T')
			} else {
				b = append(b, 'F')
			}
		}
		b = append(b, 0x1f)
	}
	return string(b)
}

// Compare orders two cells: numbers, then strings, then bools, then nulls.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch x := a.(type) {
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	case string:
		y := b.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	case bool:
		y := b.(bool)
		if x != y {
			if !x {
				return -1
			}
			return 1
		}
	}
	return 0
}

func rank(v any) int {
	switch v.(type) {
	case float64:
		return 0
	case string:
		return 1
	case bool:
		return 2
	default:
		return 3
	}
}

// CellString renders a cell for display and keys.
func CellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return fmt.Sprintf("%v", x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(x)
	}
}

type wireTable struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// MarshalJSON encodes the table as {"columns": [...], "rows": [[...]]}.
// NaN and Inf are not representable in JSON and are written as null.
func (t *Table) MarshalJSON() ([]byte, error) {
	rows := make([][]any, len(t.rows))
	for i, r := range t.rows {
		nr := make([]any, len(r))
		for j, v := range r {
			if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
				nr[j] = nil
				continue
			}
			nr[j] = v
		}
		rows[i] = nr
	}
	return json.Marshal(wireTable{Columns: t.columns, Rows: rows})
}

// UnmarshalJSON decodes the format written by MarshalJSON.
func (t *Table) UnmarshalJSON(data []byte) error {
	var w wireTable
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	nt, err := FromRows(w.Columns, w.Rows)
	if err != nil {
		return err
	}
	*t = *nt
	return nil
}
