// Package sheet loads uploaded spreadsheet and CSV payloads into raw tables.
package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/sheetwise/sheetwise/internal/table"
)

// ErrUnsupportedFormat is returned for file extensions the loader cannot parse.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// DefaultCSVSheetName is the sheet name a CSV upload is wrapped under.
const DefaultCSVSheetName = "Sheet1"

// Load parses an uploaded payload by filename extension. Workbooks yield one
// RawTable per non-empty sheet; a CSV yields a single sheet. Header detection
// is left to the normalizer, so RawTable.Header stays nil for workbook sheets.
func Load(filename string, data []byte) ([]table.RawTable, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return LoadWorkbook(data)
	case ".csv":
		raw, err := LoadCSV(data)
		if err != nil {
			return nil, err
		}
		return []table.RawTable{raw}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// LoadWorkbook parses an xlsx payload into one RawTable per non-empty sheet.
func LoadWorkbook(data []byte) ([]table.RawTable, error) {
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = book.Close() }()

	tables := make([]table.RawTable, 0)
	for _, name := range book.GetSheetList() {
		rows, err := book.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		rows = padRows(rows)
		if len(rows) == 0 {
			continue
		}
		tables = append(tables, table.RawTable{Sheet: name, Rows: rows})
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("workbook has no non-empty sheets")
	}
	return tables, nil
}

// LoadCSV parses a CSV payload. The first record is taken as the header, the
// way every CSV source in practice ships one.
func LoadCSV(data []byte) (table.RawTable, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var header []string
	rows := make([][]string, 0)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return table.RawTable{}, fmt.Errorf("read csv: %w", err)
		}
		if header == nil {
			header = record
			continue
		}
		rows = append(rows, record)
	}
	if header == nil {
		return table.RawTable{}, fmt.Errorf("csv payload is empty")
	}
	return table.RawTable{Sheet: DefaultCSVSheetName, Header: header, Rows: padTo(rows, len(header))}, nil
}

// padRows right-pads ragged rows to the widest row, matching how a sheet grid
// looks rather than how the XML stores it.
func padRows(rows [][]string) [][]string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	if width == 0 {
		return nil
	}
	return padTo(rows, width)
}

func padTo(rows [][]string, width int) [][]string {
	padded := make([][]string, len(rows))
	for i, row := range rows {
		if len(row) >= width {
			padded[i] = row[:width]
			continue
		}
		cells := make([]string, width)
		copy(cells, row)
		padded[i] = cells
	}
	return padded
}
