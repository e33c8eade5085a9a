package snapshot

import (
	"testing"
	"time"

	"github.com/sheetwise/sheetwise/internal/table"
)

func sampleTable(t *testing.T) *table.NormalizedTable {
	t.Helper()
	when := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tbl, err := table.NewNormalizedTable("Sales", []*table.Column{
		{Name: "Region", Kind: table.KindString,
			Nulls:   []bool{false, false, true},
			Strings: []string{"North", "South", ""}},
		{Name: "Revenue", Kind: table.KindNumeric,
			Nulls:  []bool{false, true, false},
			Floats: []float64{100.5, 0, 300}},
		{Name: "Closed", Kind: table.KindDatetime,
			Nulls: []bool{false, false, true},
			Times: []time.Time{when, when.AddDate(0, 1, 0), {}}},
		{Name: "Active", Kind: table.KindBool,
			Nulls: []bool{false, true, false},
			Bools: []bool{true, false, false}},
	})
	if err != nil {
		t.Fatalf("NewNormalizedTable() error = %v", err)
	}
	return tbl
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := sampleTable(t)
	data, err := Encode(src, "upload-1")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, uploadID, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if uploadID != "upload-1" {
		t.Fatalf("uploadID = %q, want upload-1", uploadID)
	}
	if decoded.Sheet != "Sales" {
		t.Fatalf("Sheet = %q, want Sales", decoded.Sheet)
	}
	if decoded.NumRows() != src.NumRows() || decoded.NumColumns() != src.NumColumns() {
		t.Fatalf("shape = %dx%d, want %dx%d", decoded.NumRows(), decoded.NumColumns(), src.NumRows(), src.NumColumns())
	}
	for _, name := range src.ColumnNames() {
		srcCol, _ := src.Column(name)
		dstCol, ok := decoded.Column(name)
		if !ok {
			t.Fatalf("decoded table is missing column %q", name)
		}
		if dstCol.Kind != srcCol.Kind {
			t.Fatalf("column %q kind = %v, want %v", name, dstCol.Kind, srcCol.Kind)
		}
		for row := 0; row < src.NumRows(); row++ {
			srcValue := srcCol.Value(row)
			dstValue := dstCol.Value(row)
			if srcWhen, isTime := srcValue.(time.Time); isTime {
				dstWhen, isAlso := dstValue.(time.Time)
				if !isAlso || !srcWhen.Equal(dstWhen) {
					t.Fatalf("column %q row %d = %v, want %v", name, row, dstValue, srcValue)
				}
				continue
			}
			if srcValue != dstValue {
				t.Fatalf("column %q row %d = %v, want %v", name, row, dstValue, srcValue)
			}
		}
	}
}

func TestEncodeRejectsReservedColumnName(t *testing.T) {
	tbl, err := table.NewNormalizedTable("Sheet1", []*table.Column{
		{Name: ScopeColumn, Kind: table.KindString, Nulls: []bool{false}, Strings: []string{"x"}},
	})
	if err != nil {
		t.Fatalf("NewNormalizedTable() error = %v", err)
	}
	if _, err := Encode(tbl, "upload-1"); err == nil {
		t.Fatal("expected error for reserved column name")
	}
}

func TestEncodeRequiresUploadID(t *testing.T) {
	if _, err := Encode(sampleTable(t), ""); err == nil {
		t.Fatal("expected error for empty upload id")
	}
}

func TestEncodeEmptyTable(t *testing.T) {
	tbl, err := table.NewNormalizedTable("Empty", []*table.Column{
		{Name: "Region", Kind: table.KindString},
	})
	if err != nil {
		t.Fatalf("NewNormalizedTable() error = %v", err)
	}
	data, err := Encode(tbl, "upload-1")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, _, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.NumRows() != 0 {
		t.Fatalf("NumRows() = %d, want 0", decoded.NumRows())
	}
}
