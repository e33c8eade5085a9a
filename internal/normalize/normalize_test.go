package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/sheetwise/sheetwise/internal/table"
)

func rawWithHeader(header []string, rows [][]string) table.RawTable {
	return table.RawTable{Sheet: "Sheet1", Header: header, Rows: rows}
}

func TestNormalizeDuplicateColumnsFail(t *testing.T) {
	raw := rawWithHeader([]string{"Date ", "Date ", "Amount"}, [][]string{{"1", "2", "3"}})
	_, _, err := Normalize(raw, DefaultOptions())
	var structural *StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("err = %v, want StructuralError", err)
	}
	if len(structural.Duplicates) != 1 || structural.Duplicates[0] != "Date" {
		t.Fatalf("Duplicates = %v, want [Date]", structural.Duplicates)
	}
}

func TestNormalizeEmptyColumnNameFails(t *testing.T) {
	raw := rawWithHeader([]string{"Amount", "   "}, [][]string{{"1", "2"}})
	_, _, err := Normalize(raw, DefaultOptions())
	var structural *StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("err = %v, want StructuralError", err)
	}
	if len(structural.EmptyIndexes) != 1 || structural.EmptyIndexes[0] != 1 {
		t.Fatalf("EmptyIndexes = %v, want [1]", structural.EmptyIndexes)
	}
}

func TestNormalizeHintedDateColumn(t *testing.T) {
	raw := rawWithHeader([]string{"OrderDate"}, [][]string{{"1/6/2024"}, {"2/6/2024"}, {""}})
	normalized, warnings, err := Normalize(raw, DefaultOptions())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	col, ok := normalized.Column("OrderDate")
	if !ok {
		t.Fatal("missing OrderDate column")
	}
	if col.Kind != table.KindDatetime {
		t.Fatalf("Kind = %v, want datetime", col.Kind)
	}
	if col.NullCount() != 1 {
		t.Fatalf("NullCount = %d, want 1", col.NullCount())
	}
	if col.ParseConfidence != 1 {
		t.Fatalf("ParseConfidence = %v, want 1", col.ParseConfidence)
	}
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}
}

func TestNormalizeUnhintedDateNeedsHighRatioAndShape(t *testing.T) {
	// no date token in the name, all values parse and look date-shaped
	raw := rawWithHeader([]string{"Posted"}, [][]string{
		{"2024-01-02"}, {"2024-01-03"}, {"2024-01-04"}, {"2024-01-05"},
	})
	normalized, _, err := Normalize(raw, DefaultOptions())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	col, _ := normalized.Column("Posted")
	if col.Kind != table.KindDatetime {
		t.Fatalf("Kind = %v, want datetime", col.Kind)
	}
}

func TestNormalizeNumericPromotionCoercesFailuresToNull(t *testing.T) {
	raw := rawWithHeader([]string{"Budget"}, [][]string{{"100"}, {"200"}, {"not_a_number"}})
	normalized, warnings, err := Normalize(raw, DefaultOptions())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	col, _ := normalized.Column("Budget")
	if col.Kind != table.KindNumeric {
		t.Fatalf("Kind = %v, want numeric", col.Kind)
	}
	if col.NullCount() != 1 {
		t.Fatalf("NullCount = %d, want 1", col.NullCount())
	}
	if !col.Promoted {
		t.Fatal("expected promotion to be recorded")
	}
	found := false
	for _, w := range warnings {
		if w.Column == "Budget" && w.Code == WarnTypePromotion {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings = %v, want a type_promotion entry for Budget", warnings)
	}
}

func TestNormalizeBelowThresholdStaysString(t *testing.T) {
	raw := rawWithHeader([]string{"Notes"}, [][]string{{"100"}, {"alpha"}, {"beta"}})
	normalized, _, err := Normalize(raw, DefaultOptions())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	col, _ := normalized.Column("Notes")
	if col.Kind != table.KindString {
		t.Fatalf("Kind = %v, want string", col.Kind)
	}
}

func TestNormalizeAllNullColumnFlagged(t *testing.T) {
	raw := rawWithHeader([]string{"Empty"}, [][]string{{""}, {"N/A"}, {"null"}})
	normalized, warnings, err := Normalize(raw, DefaultOptions())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	col, _ := normalized.Column("Empty")
	if col.Kind != table.KindString {
		t.Fatalf("Kind = %v, want string", col.Kind)
	}
	if col.NullCount() != 3 {
		t.Fatalf("NullCount = %d, want 3", col.NullCount())
	}
	if len(warnings) != 1 || warnings[0].Code != WarnAllNull {
		t.Fatalf("warnings = %v, want one all_null entry", warnings)
	}
}

func TestNormalizeNullSpellingsUnified(t *testing.T) {
	raw := rawWithHeader([]string{"Region"}, [][]string{{"North"}, {"NaN"}, {"None"}, {"N/A"}, {""}})
	normalized, _, err := Normalize(raw, DefaultOptions())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	col, _ := normalized.Column("Region")
	if col.NullCount() != 4 {
		t.Fatalf("NullCount = %d, want 4", col.NullCount())
	}
}

func TestNormalizeBooleanColumn(t *testing.T) {
	raw := rawWithHeader([]string{"Active"}, [][]string{{"yes"}, {"no"}, {"yes"}})
	normalized, _, err := Normalize(raw, DefaultOptions())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	col, _ := normalized.Column("Active")
	if col.Kind != table.KindBool {
		t.Fatalf("Kind = %v, want boolean", col.Kind)
	}
	if col.Value(0) != true || col.Value(1) != false {
		t.Fatalf("values = %v, %v", col.Value(0), col.Value(1))
	}
}

func TestNormalizeCurrencyAndGroupedNumbers(t *testing.T) {
	raw := rawWithHeader([]string{"Revenue"}, [][]string{{"$1,200.50"}, {"(300)"}, {"2500"}})
	normalized, _, err := Normalize(raw, DefaultOptions())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	col, _ := normalized.Column("Revenue")
	if col.Kind != table.KindNumeric {
		t.Fatalf("Kind = %v, want numeric", col.Kind)
	}
	if col.Value(0) != 1200.50 {
		t.Fatalf("Value(0) = %v, want 1200.50", col.Value(0))
	}
	if col.Value(1) != -300.0 {
		t.Fatalf("Value(1) = %v, want -300", col.Value(1))
	}
}

func TestDetectHeaderRowSkipsBannerRows(t *testing.T) {
	rows := [][]string{
		{"Quarterly Report", "", ""},
		{"", "", ""},
		{"Region", "Revenue", "Units"},
		{"North", "100", "5"},
	}
	if got := DetectHeaderRow(rows, 5); got != 2 {
		t.Fatalf("DetectHeaderRow() = %d, want 2", got)
	}
}

func TestDetectHeaderRowPenalizesPlaceholders(t *testing.T) {
	rows := [][]string{
		{"column 1", "column 2", "column 3"},
		{"Region", "Revenue", "Units"},
		{"North", "100", "5"},
	}
	if got := DetectHeaderRow(rows, 5); got != 1 {
		t.Fatalf("DetectHeaderRow() = %d, want 1", got)
	}
}

func TestNormalizeHeaderlessSheetDetectsHeader(t *testing.T) {
	raw := table.RawTable{Sheet: "Data", Rows: [][]string{
		{"Annual Budget", "", ""},
		{"Region", "Budget", "Spent"},
		{"North", "100", "40"},
		{"South", "200", "90"},
	}}
	normalized, _, err := Normalize(raw, DefaultOptions())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := []string{"Region", "Budget", "Spent"}
	got := normalized.ColumnNames()
	if len(got) != len(want) {
		t.Fatalf("ColumnNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ColumnNames() = %v, want %v", got, want)
		}
	}
	if normalized.NumRows() != 2 {
		t.Fatalf("NumRows() = %d, want 2", normalized.NumRows())
	}
}

func TestParseDateLayouts(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2024-06-01", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"1/6/2024", time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)},
		{"2024/06/01", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"Jan 2, 2024", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, ok := parseDate(tc.in)
		if !ok {
			t.Fatalf("parseDate(%q) failed", tc.in)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("parseDate(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, ok := parseDate("not a date"); ok {
		t.Fatal("parseDate accepted garbage")
	}
}
