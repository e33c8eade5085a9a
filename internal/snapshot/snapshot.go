// Package snapshot serializes normalized tables to parquet and back. Every
// row carries the upload id as a real column, so SQL scoping is a predicate
// over data rather than a naming convention.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/sheetwise/sheetwise/internal/table"
)

// ScopeColumn is the injected per-row upload identifier column.
const ScopeColumn = "upload_id"

const (
	kindsMetadataKey  = "sheetwise.column_kinds"
	sheetMetadataKey  = "sheetwise.sheet"
	uploadMetadataKey = "sheetwise.upload_id"
)

type columnKind struct {
	Name string     `json:"name"`
	Kind table.Kind `json:"kind"`
}

// Encode writes one sheet as a parquet file.
func Encode(t *table.NormalizedTable, uploadID string) ([]byte, error) {
	if uploadID == "" {
		return nil, fmt.Errorf("upload id is required")
	}
	if _, exists := t.Column(ScopeColumn); exists {
		return nil, fmt.Errorf("column name %q is reserved", ScopeColumn)
	}

	group := parquet.Group{}
	group[ScopeColumn] = parquet.String()
	kinds := make([]columnKind, 0, t.NumColumns())
	for _, col := range t.Columns() {
		kinds = append(kinds, columnKind{Name: col.Name, Kind: col.Kind})
		switch col.Kind {
		case table.KindNumeric:
			group[col.Name] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
		case table.KindDatetime:
			group[col.Name] = parquet.Optional(parquet.Timestamp(parquet.Millisecond))
		case table.KindBool:
			group[col.Name] = parquet.Optional(parquet.Leaf(parquet.BooleanType))
		default:
			group[col.Name] = parquet.Optional(parquet.String())
		}
	}
	schema := parquet.NewSchema("sheet", group)

	rows := make([]map[string]any, t.NumRows())
	for r := 0; r < t.NumRows(); r++ {
		row := map[string]any{ScopeColumn: uploadID}
		for _, col := range t.Columns() {
			value := col.Value(r)
			if value == nil {
				continue
			}
			if when, ok := value.(time.Time); ok {
				row[col.Name] = when.UnixMilli()
				continue
			}
			row[col.Name] = value
		}
		rows[r] = row
	}

	kindsJSON, err := json.Marshal(kinds)
	if err != nil {
		return nil, fmt.Errorf("marshal column kinds: %w", err)
	}

	var buf bytes.Buffer
	if err := parquet.Write[map[string]any](&buf, rows,
		schema,
		parquet.KeyValueMetadata(kindsMetadataKey, string(kindsJSON)),
		parquet.KeyValueMetadata(sheetMetadataKey, t.Sheet),
		parquet.KeyValueMetadata(uploadMetadataKey, uploadID),
	); err != nil {
		return nil, fmt.Errorf("write parquet: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode rebuilds a NormalizedTable from a snapshot file, returning the
// upload id the snapshot was written for.
func Decode(data []byte) (*table.NormalizedTable, string, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", fmt.Errorf("open parquet: %w", err)
	}
	kindsJSON, ok := file.Lookup(kindsMetadataKey)
	if !ok {
		return nil, "", fmt.Errorf("snapshot is missing column kind metadata")
	}
	var kinds []columnKind
	if err := json.Unmarshal([]byte(kindsJSON), &kinds); err != nil {
		return nil, "", fmt.Errorf("parse column kinds: %w", err)
	}
	sheetName, _ := file.Lookup(sheetMetadataKey)
	uploadID, _ := file.Lookup(uploadMetadataKey)

	// parquet.Read cannot decode into map rows: it allocates nil maps that the
	// reader refuses to fill. Pre-allocate the maps and read through a
	// GenericReader instead.
	reader := parquet.NewGenericReader[map[string]any](bytes.NewReader(data), file.Schema())
	rows := make([]map[string]any, file.NumRows())
	for i := range rows {
		rows[i] = make(map[string]any, len(kinds)+1)
	}
	n, err := reader.Read(rows)
	reader.Close()
	if err != nil && err != io.EOF {
		return nil, "", fmt.Errorf("read parquet rows: %w", err)
	}
	rows = rows[:n]

	columns := make([]*table.Column, 0, len(kinds))
	for _, spec := range kinds {
		col := &table.Column{
			Name:            spec.Name,
			Kind:            spec.Kind,
			Nulls:           make([]bool, len(rows)),
			ParseConfidence: 1,
		}
		switch spec.Kind {
		case table.KindNumeric:
			col.Floats = make([]float64, len(rows))
		case table.KindDatetime:
			col.Times = make([]time.Time, len(rows))
		case table.KindBool:
			col.Bools = make([]bool, len(rows))
		default:
			col.Strings = make([]string, len(rows))
		}
		for r, row := range rows {
			raw, present := row[spec.Name]
			if !present || raw == nil {
				col.Nulls[r] = true
				continue
			}
			if err := setCell(col, r, raw); err != nil {
				return nil, "", fmt.Errorf("column %q row %d: %w", spec.Name, r, err)
			}
		}
		columns = append(columns, col)
	}

	t, err := table.NewNormalizedTable(sheetName, columns)
	if err != nil {
		return nil, "", fmt.Errorf("rebuild table: %w", err)
	}
	return t, uploadID, nil
}

func setCell(col *table.Column, row int, raw any) error {
	switch col.Kind {
	case table.KindNumeric:
		value, ok := raw.(float64)
		if !ok {
			return fmt.Errorf("want float64, got %T", raw)
		}
		col.Floats[row] = value
	case table.KindDatetime:
		switch typed := raw.(type) {
		case int64:
			col.Times[row] = time.UnixMilli(typed).UTC()
		case time.Time:
			col.Times[row] = typed.UTC()
		default:
			return fmt.Errorf("want timestamp, got %T", raw)
		}
	case table.KindBool:
		value, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", raw)
		}
		col.Bools[row] = value
	default:
		switch typed := raw.(type) {
		case string:
			col.Strings[row] = typed
		case []byte:
			col.Strings[row] = string(typed)
		default:
			return fmt.Errorf("want string, got %T", raw)
		}
	}
	return nil
}
