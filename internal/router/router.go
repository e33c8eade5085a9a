// Package router resolves which sheet a candidate program runs against, or
// rejects queries whose columns are split across sheets.
package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sheetwise/sheetwise/internal/profile"
)

// Requirements is what a candidate program declares it needs.
type Requirements struct {
	Columns     []string
	TargetSheet string
}

// Target names the single sheet the query runs against.
type Target struct {
	Sheet string
}

// CrossSheetError rejects a query whose columns do not all live in one sheet.
// The message names which column lives where so the caller can rephrase.
type CrossSheetError struct {
	Placements map[string][]string
	JoinKeys   []string
}

func (e *CrossSheetError) Error() string {
	columns := make([]string, 0, len(e.Placements))
	for column := range e.Placements {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	parts := make([]string, 0, len(columns))
	for _, column := range columns {
		sheets := e.Placements[column]
		if len(sheets) == 0 {
			parts = append(parts, fmt.Sprintf("%q is in no sheet", column))
			continue
		}
		parts = append(parts, fmt.Sprintf("%q is only in %s", column, strings.Join(sheets, ", ")))
	}
	msg := "required columns span multiple sheets: " + strings.Join(parts, "; ")
	if len(e.JoinKeys) > 0 {
		msg += fmt.Sprintf(" (shared key %s exists but cross-sheet joins are not supported)", strings.Join(e.JoinKeys, ", "))
	}
	return msg
}

// Route picks the target sheet for a query. A single-sheet workbook always
// routes to that sheet. Otherwise the declared target wins when it covers the
// required columns; failing that, coverage is checked per sheet and exactly
// one covering sheet becomes the target. Columns split across sheets are
// rejected rather than joined.
func Route(req Requirements, wb profile.WorkbookProfile) (Target, error) {
	if len(wb.Sheets) == 0 {
		return Target{}, fmt.Errorf("workbook has no sheets")
	}
	if len(wb.Sheets) == 1 {
		return Target{Sheet: wb.Sheets[0].Sheet}, nil
	}

	if req.TargetSheet != "" {
		for _, sp := range wb.Sheets {
			if strings.EqualFold(sp.Sheet, req.TargetSheet) {
				if covers(sp, req.Columns) {
					return Target{Sheet: sp.Sheet}, nil
				}
				break
			}
		}
	}

	if len(req.Columns) == 0 {
		if req.TargetSheet != "" {
			return Target{}, fmt.Errorf("unknown target sheet %q", req.TargetSheet)
		}
		return Target{Sheet: wb.Sheets[0].Sheet}, nil
	}

	covering := make([]string, 0, 1)
	for _, sp := range wb.Sheets {
		if covers(sp, req.Columns) {
			covering = append(covering, sp.Sheet)
		}
	}
	if len(covering) >= 1 {
		return Target{Sheet: covering[0]}, nil
	}

	placements := make(map[string][]string, len(req.Columns))
	for _, column := range req.Columns {
		placements[column] = wb.ColumnToSheets[strings.ToLower(strings.TrimSpace(column))]
	}
	joinKeys := make([]string, 0)
	for _, key := range wb.JoinKeys {
		joinKeys = append(joinKeys, key.Column)
	}
	return Target{}, &CrossSheetError{Placements: placements, JoinKeys: joinKeys}
}

func covers(sp profile.SheetProfile, columns []string) bool {
	if len(columns) == 0 {
		return true
	}
	have := make(map[string]bool, len(sp.Columns))
	for _, cp := range sp.Columns {
		have[strings.ToLower(cp.Name)] = true
	}
	for _, column := range columns {
		if !have[strings.ToLower(strings.TrimSpace(column))] {
			return false
		}
	}
	return true
}
