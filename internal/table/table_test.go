package table

import (
	"testing"
	"time"
)

func TestNewNormalizedTableRejectsDuplicateNames(t *testing.T) {
	_, err := NewNormalizedTable("Sheet1", []*Column{
		{Name: "Date", Kind: KindString, Nulls: []bool{false}, Strings: []string{"a"}},
		{Name: "Date ", Kind: KindString, Nulls: []bool{false}, Strings: []string{"b"}},
	})
	if err == nil {
		t.Fatal("expected error for duplicate column names")
	}
}

func TestNewNormalizedTableRejectsEmptyName(t *testing.T) {
	_, err := NewNormalizedTable("Sheet1", []*Column{
		{Name: "   ", Kind: KindString, Nulls: []bool{false}, Strings: []string{"a"}},
	})
	if err == nil {
		t.Fatal("expected error for empty column name")
	}
}

func TestNewNormalizedTableRejectsRaggedColumns(t *testing.T) {
	_, err := NewNormalizedTable("Sheet1", []*Column{
		{Name: "A", Kind: KindString, Nulls: []bool{false, false}, Strings: []string{"a", "b"}},
		{Name: "B", Kind: KindString, Nulls: []bool{false}, Strings: []string{"c"}},
	})
	if err == nil {
		t.Fatal("expected error for ragged columns")
	}
}

func TestColumnValueByKind(t *testing.T) {
	when := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tbl, err := NewNormalizedTable("Sheet1", []*Column{
		{Name: "Amount", Kind: KindNumeric, Nulls: []bool{false, true}, Floats: []float64{12.5, 0}},
		{Name: "When", Kind: KindDatetime, Nulls: []bool{false, false}, Times: []time.Time{when, when}},
		{Name: "Active", Kind: KindBool, Nulls: []bool{false, false}, Bools: []bool{true, false}},
	})
	if err != nil {
		t.Fatalf("NewNormalizedTable() error = %v", err)
	}

	if got := tbl.Value("Amount", 0); got != 12.5 {
		t.Fatalf("Amount[0] = %v, want 12.5", got)
	}
	if got := tbl.Value("Amount", 1); got != nil {
		t.Fatalf("Amount[1] = %v, want nil", got)
	}
	if got := tbl.Value("When", 0); got != when {
		t.Fatalf("When[0] = %v, want %v", got, when)
	}
	if got := tbl.Value("Active", 1); got != false {
		t.Fatalf("Active[1] = %v, want false", got)
	}
	if got := tbl.Value("Missing", 0); got != nil {
		t.Fatalf("unknown column value = %v, want nil", got)
	}
}

func TestColumnFold(t *testing.T) {
	tbl, err := NewNormalizedTable("Sheet1", []*Column{
		{Name: "Revenue", Kind: KindNumeric, Nulls: []bool{false}, Floats: []float64{1}},
	})
	if err != nil {
		t.Fatalf("NewNormalizedTable() error = %v", err)
	}
	if _, ok := tbl.ColumnFold("revenue"); !ok {
		t.Fatal("expected case-insensitive lookup to find Revenue")
	}
}

func TestIsNullToken(t *testing.T) {
	for _, raw := range []string{"", "  ", "NaN", "none", "NULL", "N/A", "na", "-", "=", "#N/A"} {
		if !IsNullToken(raw) {
			t.Fatalf("IsNullToken(%q) = false, want true", raw)
		}
	}
	for _, raw := range []string{"0", "false", "nope", "nan."} {
		if IsNullToken(raw) {
			t.Fatalf("IsNullToken(%q) = true, want false", raw)
		}
	}
}
