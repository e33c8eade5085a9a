// Package table holds the tabular data model shared by the upload pipeline
// and the query engines: the as-loaded RawTable and the typed NormalizedTable.
package table

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the canonical type of a normalized column.
type Kind string

const (
	KindString   Kind = "string"
	KindNumeric  Kind = "numeric"
	KindDatetime Kind = "datetime"
	KindBool     Kind = "boolean"
)

// RawTable is the as-loaded tabular data for one sheet. Header may be nil when
// the source does not carry an unambiguous header row; cells are untyped text.
type RawTable struct {
	Sheet  string
	Header []string
	Rows   [][]string
}

// Column is a homogeneous typed column. Exactly one of the value slices is
// populated, matching Kind; Nulls is parallel to it and marks missing cells.
type Column struct {
	Name  string
	Kind  Kind
	Nulls []bool

	Strings []string
	Floats  []float64
	Times   []time.Time
	Bools   []bool

	// ParseConfidence is the fraction of non-null source cells that parsed
	// as Kind during normalization. 1.0 for columns kept as string.
	ParseConfidence float64
	// Promoted marks a column that was coerced to a different kind than its
	// source text suggested (string -> numeric, string -> datetime).
	Promoted bool
}

// Len returns the number of cells in the column.
func (c *Column) Len() int { return len(c.Nulls) }

// Value returns the cell at row as a native Go value, or nil when null.
func (c *Column) Value(row int) any {
	if row < 0 || row >= len(c.Nulls) || c.Nulls[row] {
		return nil
	}
	switch c.Kind {
	case KindNumeric:
		return c.Floats[row]
	case KindDatetime:
		return c.Times[row]
	case KindBool:
		return c.Bools[row]
	default:
		return c.Strings[row]
	}
}

// NullCount returns the number of null cells.
func (c *Column) NullCount() int {
	count := 0
	for _, isNull := range c.Nulls {
		if isNull {
			count++
		}
	}
	return count
}

// NormalizedTable is the canonical typed form of one sheet. Column names are
// unique, trimmed and non-empty; all columns have the same length.
type NormalizedTable struct {
	Sheet   string
	columns []*Column
	byName  map[string]int
	rows    int
}

// NewNormalizedTable builds a table from ordered columns. It enforces the
// structural invariants the normalizer guarantees and is the only constructor.
func NewNormalizedTable(sheet string, columns []*Column) (*NormalizedTable, error) {
	t := &NormalizedTable{
		Sheet:   sheet,
		columns: columns,
		byName:  make(map[string]int, len(columns)),
	}
	for i, col := range columns {
		name := strings.TrimSpace(col.Name)
		if name == "" {
			return nil, fmt.Errorf("column %d has an empty name", i)
		}
		if _, exists := t.byName[name]; exists {
			return nil, fmt.Errorf("duplicate column name %q", name)
		}
		col.Name = name
		t.byName[name] = i
		if i == 0 {
			t.rows = col.Len()
		} else if col.Len() != t.rows {
			return nil, fmt.Errorf("column %q has %d rows, want %d", name, col.Len(), t.rows)
		}
	}
	return t, nil
}

// NumRows returns the row count.
func (t *NormalizedTable) NumRows() int { return t.rows }

// NumColumns returns the column count.
func (t *NormalizedTable) NumColumns() int { return len(t.columns) }

// Columns returns the columns in order. Callers must not mutate them.
func (t *NormalizedTable) Columns() []*Column { return t.columns }

// ColumnNames returns the column names in order.
func (t *NormalizedTable) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, col := range t.columns {
		names[i] = col.Name
	}
	return names
}

// Column looks a column up by exact name.
func (t *NormalizedTable) Column(name string) (*Column, bool) {
	idx, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return t.columns[idx], true
}

// ColumnFold looks a column up by name, falling back to a case-insensitive
// match when no exact match exists.
func (t *NormalizedTable) ColumnFold(name string) (*Column, bool) {
	if col, ok := t.Column(name); ok {
		return col, true
	}
	for _, col := range t.columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return nil, false
}

// Value returns the cell at (column name, row) as a native Go value, nil when
// the column is unknown or the cell is null.
func (t *NormalizedTable) Value(name string, row int) any {
	col, ok := t.Column(name)
	if !ok {
		return nil
	}
	return col.Value(row)
}

var nullTokens = map[string]struct{}{
	"":      {},
	"nan":   {},
	"none":  {},
	"null":  {},
	"n/a":   {},
	"na":    {},
	"-":     {},
	"=":     {},
	"#n/a":  {},
	"#ref!": {},
}

// IsNullToken reports whether a raw cell spelling means "no value".
func IsNullToken(raw string) bool {
	_, ok := nullTokens[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}
