// Package normalize converts raw sheets into canonical typed tables. Column
// names are trimmed and must be unique and non-empty; cell types are inferred
// from bounded samples and coerced column-wide, with per-cell failures turning
// into nulls plus a column confidence statistic instead of aborting the load.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/sheetwise/sheetwise/internal/table"
)

// Options carries the inference thresholds. The cutoffs are heuristic and
// deliberately overridable through config instead of being inlined.
type Options struct {
	HeaderScanRows        int
	TypeSampleLimit       int
	NumericPromotionRatio float64
	DateHintedRatio       float64
	DateUnhintedRatio     float64
	LowConfidenceRatio    float64
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		HeaderScanRows:        5,
		TypeSampleLimit:       100,
		NumericPromotionRatio: 0.50,
		DateHintedRatio:       0.70,
		DateUnhintedRatio:     0.95,
		LowConfidenceRatio:    0.50,
	}
}

// StructuralError aborts normalization: duplicate or empty column names hide
// data corruption if silently renamed, so the upload fails with the offending
// labels spelled out.
type StructuralError struct {
	Sheet        string
	Duplicates   []string
	EmptyIndexes []int
}

func (e *StructuralError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Duplicates) > 0 {
		parts = append(parts, fmt.Sprintf("duplicate column names %q", e.Duplicates))
	}
	if len(e.EmptyIndexes) > 0 {
		parts = append(parts, fmt.Sprintf("empty column names at positions %v", e.EmptyIndexes))
	}
	return fmt.Sprintf("sheet %q has structural problems: %s", e.Sheet, strings.Join(parts, "; "))
}

// Warning codes attached to columns during normalization.
const (
	WarnLowConfidence = "low_confidence"
	WarnAllNull       = "all_null"
	WarnTypePromotion = "type_promotion"
)

// Warning is a non-fatal normalization finding, attached to the profile.
type Warning struct {
	Column  string  `json:"column"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Ratio   float64 `json:"ratio,omitempty"`
}

// Normalize converts a raw sheet into a NormalizedTable. When the raw table
// carries no header, the header row is detected by scoring the first few rows.
func Normalize(raw table.RawTable, opts Options) (*table.NormalizedTable, []Warning, error) {
	if opts.HeaderScanRows <= 0 {
		opts = DefaultOptions()
	}

	header := raw.Header
	rows := raw.Rows
	if header == nil {
		if len(rows) == 0 {
			return nil, nil, fmt.Errorf("sheet %q is empty", raw.Sheet)
		}
		idx := DetectHeaderRow(rows, opts.HeaderScanRows)
		header = rows[idx]
		rows = rows[idx+1:]
	}

	names := make([]string, len(header))
	structural := &StructuralError{Sheet: raw.Sheet}
	seen := make(map[string]bool, len(header))
	for i, label := range header {
		name := strings.TrimSpace(label)
		names[i] = name
		if name == "" {
			structural.EmptyIndexes = append(structural.EmptyIndexes, i)
			continue
		}
		if seen[name] {
			structural.Duplicates = append(structural.Duplicates, name)
		}
		seen[name] = true
	}
	if len(structural.Duplicates) > 0 || len(structural.EmptyIndexes) > 0 {
		return nil, nil, structural
	}

	columns := make([]*table.Column, len(names))
	warnings := make([]Warning, 0)
	for i, name := range names {
		cells := make([]string, len(rows))
		for r, row := range rows {
			if i < len(row) {
				cells[r] = row[i]
			}
		}
		col, colWarnings := inferColumn(name, cells, opts)
		columns[i] = col
		warnings = append(warnings, colWarnings...)
	}

	normalized, err := table.NewNormalizedTable(raw.Sheet, columns)
	if err != nil {
		return nil, nil, fmt.Errorf("build normalized table: %w", err)
	}
	return normalized, warnings, nil
}

// inferColumn types one column. Date detection runs first on non-numeric
// columns, then boolean, then numeric promotion; everything else stays string.
func inferColumn(name string, cells []string, opts Options) (*table.Column, []Warning) {
	nulls := make([]bool, len(cells))
	trimmed := make([]string, len(cells))
	nonNull := make([]string, 0, len(cells))
	for i, cell := range cells {
		value := strings.TrimSpace(cell)
		trimmed[i] = value
		if table.IsNullToken(value) {
			nulls[i] = true
			continue
		}
		nonNull = append(nonNull, value)
	}

	if len(nonNull) == 0 {
		col := stringColumn(name, trimmed, nulls)
		col.ParseConfidence = 0
		return col, []Warning{{
			Column:  name,
			Code:    WarnAllNull,
			Message: fmt.Sprintf("column %q has no non-null values; kept as string", name),
		}}
	}

	sample := nonNull
	if len(sample) > opts.TypeSampleLimit {
		sample = sample[:opts.TypeSampleLimit]
	}

	numericSampleRatio := parseRatio(sample, func(v string) bool {
		_, ok := parseNumeric(v)
		return ok
	})

	if numericSampleRatio <= opts.NumericPromotionRatio {
		if ok := dateDetected(name, sample, opts); ok {
			return dateColumn(name, trimmed, nulls, opts)
		}
	}

	if boolDetected(sample) {
		return boolColumn(name, trimmed, nulls), nil
	}

	if numericSampleRatio > opts.NumericPromotionRatio {
		return numericColumn(name, trimmed, nulls)
	}

	return stringColumn(name, trimmed, nulls), nil
}

func dateDetected(name string, sample []string, opts Options) bool {
	ratio := parseRatio(sample, func(v string) bool {
		_, ok := parseDate(v)
		return ok
	})
	if hasDateHint(name) {
		return ratio > opts.DateHintedRatio
	}
	if ratio <= opts.DateUnhintedRatio {
		return false
	}
	shaped := parseRatio(sample, looksDateShaped)
	return shaped > 0.5
}

func dateColumn(name string, cells []string, nulls []bool, opts Options) (*table.Column, []Warning) {
	col := &table.Column{
		Name:     name,
		Kind:     table.KindDatetime,
		Nulls:    make([]bool, len(cells)),
		Times:    make([]time.Time, len(cells)),
		Promoted: true,
	}
	parsed, total := 0, 0
	for i, cell := range cells {
		if nulls[i] {
			col.Nulls[i] = true
			continue
		}
		total++
		when, ok := parseDate(cell)
		if !ok {
			col.Nulls[i] = true
			continue
		}
		col.Times[i] = when
		parsed++
	}
	col.ParseConfidence = ratioOf(parsed, total)

	var warnings []Warning
	if col.ParseConfidence < opts.LowConfidenceRatio {
		warnings = append(warnings, Warning{
			Column:  name,
			Code:    WarnLowConfidence,
			Message: fmt.Sprintf("column %q converted to datetime with only %.0f%% parse success", name, col.ParseConfidence*100),
			Ratio:   col.ParseConfidence,
		})
	}
	return col, warnings
}

func numericColumn(name string, cells []string, nulls []bool) (*table.Column, []Warning) {
	col := &table.Column{
		Name:   name,
		Kind:   table.KindNumeric,
		Nulls:  make([]bool, len(cells)),
		Floats: make([]float64, len(cells)),
	}
	parsed, total := 0, 0
	for i, cell := range cells {
		if nulls[i] {
			col.Nulls[i] = true
			continue
		}
		total++
		value, ok := parseNumeric(cell)
		if !ok {
			col.Nulls[i] = true
			continue
		}
		col.Floats[i] = value
		parsed++
	}
	col.ParseConfidence = ratioOf(parsed, total)
	col.Promoted = parsed < total

	var warnings []Warning
	if col.Promoted {
		warnings = append(warnings, Warning{
			Column:  name,
			Code:    WarnTypePromotion,
			Message: fmt.Sprintf("column %q promoted to numeric; %d of %d values coerced to null", name, total-parsed, total),
			Ratio:   col.ParseConfidence,
		})
	}
	return col, warnings
}

func boolColumn(name string, cells []string, nulls []bool) *table.Column {
	col := &table.Column{
		Name:  name,
		Kind:  table.KindBool,
		Nulls: make([]bool, len(cells)),
		Bools: make([]bool, len(cells)),
	}
	for i, cell := range cells {
		if nulls[i] {
			col.Nulls[i] = true
			continue
		}
		value, ok := parseBool(cell)
		if !ok {
			col.Nulls[i] = true
			continue
		}
		col.Bools[i] = value
	}
	col.ParseConfidence = 1
	return col
}

func stringColumn(name string, cells []string, nulls []bool) *table.Column {
	col := &table.Column{
		Name:            name,
		Kind:            table.KindString,
		Nulls:           make([]bool, len(cells)),
		Strings:         make([]string, len(cells)),
		ParseConfidence: 1,
	}
	copy(col.Nulls, nulls)
	for i, cell := range cells {
		if !nulls[i] {
			col.Strings[i] = cell
		}
	}
	return col
}

func parseRatio(values []string, parse func(string) bool) float64 {
	if len(values) == 0 {
		return 0
	}
	hits := 0
	for _, v := range values {
		if parse(v) {
			hits++
		}
	}
	return float64(hits) / float64(len(values))
}

func ratioOf(hits, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
