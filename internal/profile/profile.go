// Package profile derives descriptive metadata from normalized tables: column
// statistics, business-entity tags, sequential column groups and the
// multi-sheet column map the router and translator work from.
package profile

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sheetwise/sheetwise/internal/normalize"
	"github.com/sheetwise/sheetwise/internal/table"
)

// SampleLimit bounds the per-column sample values carried in a profile.
const SampleLimit = 5

// EntityTag labels a column with a detected business role.
type EntityTag struct {
	Entity     string  `json:"entity"`
	Confidence float64 `json:"confidence"`
}

// ColumnProfile is the derived view of one column.
type ColumnProfile struct {
	Name        string      `json:"name"`
	Kind        table.Kind  `json:"kind"`
	NullCount   int         `json:"null_count"`
	NullRate    float64     `json:"null_rate"`
	UniqueCount int         `json:"unique_count"`
	UniqueRate  float64     `json:"unique_rate"`
	Samples     []string    `json:"samples"`
	Entities    []EntityTag `json:"entities,omitempty"`
	Summary     bool        `json:"summary,omitempty"`
}

// SequentialGroup is a run of columns sharing a stem with a suffix
// progression, e.g. Budget, Budget.1, ..., Budget.11.
type SequentialGroup struct {
	Stem    string   `json:"stem"`
	Columns []string `json:"columns"`
	Period  string   `json:"period,omitempty"`
}

// SheetProfile is the read-only snapshot over one NormalizedTable. It is
// regenerated whenever the table changes, never mutated in place.
type SheetProfile struct {
	Sheet          string              `json:"sheet"`
	Rows           int                 `json:"rows"`
	Columns        []ColumnProfile     `json:"columns"`
	Groups         []SequentialGroup   `json:"groups,omitempty"`
	SummaryColumns []string            `json:"summary_columns,omitempty"`
	Warnings       []normalize.Warning `json:"warnings,omitempty"`
}

// JoinKey is a column shared between two sheets that is unique in at least
// one of them.
type JoinKey struct {
	Column string   `json:"column"`
	Sheets []string `json:"sheets"`
}

// WorkbookProfile covers all sheets of one upload.
type WorkbookProfile struct {
	Sheets         []SheetProfile      `json:"sheets"`
	ColumnToSheets map[string][]string `json:"column_to_sheets"`
	JoinKeys       []JoinKey           `json:"join_keys,omitempty"`
}

// Sheet profiles one table. Pure function: identical input yields identical
// output.
func Sheet(t *table.NormalizedTable, warnings []normalize.Warning) SheetProfile {
	p := SheetProfile{
		Sheet:    t.Sheet,
		Rows:     t.NumRows(),
		Columns:  make([]ColumnProfile, 0, t.NumColumns()),
		Warnings: warnings,
	}
	for _, col := range t.Columns() {
		cp := profileColumn(col, t.NumRows())
		if cp.Summary {
			p.SummaryColumns = append(p.SummaryColumns, cp.Name)
		}
		p.Columns = append(p.Columns, cp)
	}
	p.Groups = detectSequentialGroups(t.ColumnNames())
	return p
}

// Workbook profiles every sheet and builds the cross-sheet column map.
func Workbook(tables []*table.NormalizedTable, warnings map[string][]normalize.Warning) WorkbookProfile {
	wb := WorkbookProfile{
		Sheets:         make([]SheetProfile, 0, len(tables)),
		ColumnToSheets: make(map[string][]string),
	}
	uniqueIn := make(map[string]map[string]bool)
	for _, t := range tables {
		sp := Sheet(t, warnings[t.Sheet])
		wb.Sheets = append(wb.Sheets, sp)
		for _, cp := range sp.Columns {
			key := strings.ToLower(cp.Name)
			wb.ColumnToSheets[key] = append(wb.ColumnToSheets[key], t.Sheet)
			if uniqueIn[key] == nil {
				uniqueIn[key] = make(map[string]bool)
			}
			uniqueIn[key][t.Sheet] = sp.Rows > 0 && cp.UniqueCount == sp.Rows
		}
	}
	for key, sheets := range wb.ColumnToSheets {
		if len(sheets) < 2 {
			continue
		}
		for _, sheetName := range sheets {
			if uniqueIn[key][sheetName] {
				wb.JoinKeys = append(wb.JoinKeys, JoinKey{Column: key, Sheets: sheets})
				break
			}
		}
	}
	sortJoinKeys(wb.JoinKeys)
	return wb
}

// FromSheets rebuilds the workbook view from already-computed sheet profiles,
// e.g. the profile JSON persisted with each upload sheet.
func FromSheets(sheets []SheetProfile) WorkbookProfile {
	wb := WorkbookProfile{
		Sheets:         sheets,
		ColumnToSheets: make(map[string][]string),
	}
	uniqueIn := make(map[string]map[string]bool)
	for _, sp := range sheets {
		for _, cp := range sp.Columns {
			key := strings.ToLower(cp.Name)
			wb.ColumnToSheets[key] = append(wb.ColumnToSheets[key], sp.Sheet)
			if uniqueIn[key] == nil {
				uniqueIn[key] = make(map[string]bool)
			}
			uniqueIn[key][sp.Sheet] = sp.Rows > 0 && cp.UniqueCount == sp.Rows
		}
	}
	for key, sheetNames := range wb.ColumnToSheets {
		if len(sheetNames) < 2 {
			continue
		}
		for _, sheetName := range sheetNames {
			if uniqueIn[key][sheetName] {
				wb.JoinKeys = append(wb.JoinKeys, JoinKey{Column: key, Sheets: sheetNames})
				break
			}
		}
	}
	sortJoinKeys(wb.JoinKeys)
	return wb
}

func profileColumn(col *table.Column, rows int) ColumnProfile {
	cp := ColumnProfile{
		Name:      col.Name,
		Kind:      col.Kind,
		NullCount: col.NullCount(),
		Summary:   isSummaryName(col.Name),
	}
	unique := make(map[string]struct{})
	for row := 0; row < rows; row++ {
		value := col.Value(row)
		if value == nil {
			continue
		}
		rendered := renderValue(value)
		unique[rendered] = struct{}{}
		if len(cp.Samples) < SampleLimit {
			cp.Samples = append(cp.Samples, rendered)
		}
	}
	cp.UniqueCount = len(unique)
	if rows > 0 {
		cp.NullRate = float64(cp.NullCount) / float64(rows)
		cp.UniqueRate = float64(cp.UniqueCount) / float64(rows)
	}
	cp.Entities = detectEntities(col, rows, cp.UniqueRate)
	return cp
}

func renderValue(value any) string {
	switch typed := value.(type) {
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case time.Time:
		return typed.Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

// Business-entity keywords, matched against the column name. The confidence
// starts at the keyword match and gets a type-consistency boost when the
// values back the tag up.
var entityKeywords = map[string][]string{
	"revenue":   {"revenue", "sales", "income", "turnover"},
	"cost":      {"cost", "expense", "spend", "budget"},
	"profit":    {"profit", "margin", "earnings"},
	"date":      {"date", "month", "year", "period", "time"},
	"geography": {"region", "country", "state", "city", "territory", "location"},
	"product":   {"product", "item", "sku", "category"},
	"customer":  {"customer", "client", "account", "vendor"},
	"quantity":  {"quantity", "units", "count", "volume", "qty"},
}

func detectEntities(col *table.Column, rows int, uniqueRate float64) []EntityTag {
	lower := strings.ToLower(col.Name)
	tags := make([]EntityTag, 0, 1)
	for _, entity := range []string{"revenue", "cost", "profit", "date", "geography", "product", "customer", "quantity"} {
		matched := false
		for _, keyword := range entityKeywords[entity] {
			if strings.Contains(lower, keyword) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		confidence := 0.5
		switch entity {
		case "revenue", "cost", "profit", "quantity":
			if col.Kind == table.KindNumeric && positiveRatio(col, rows) >= 0.8 {
				confidence += 0.3
			}
		case "date":
			if col.Kind == table.KindDatetime {
				confidence += 0.4
			}
		case "geography", "product", "customer":
			if col.Kind == table.KindString && uniqueRate > 0 && uniqueRate < 0.5 {
				confidence += 0.2
			}
		}
		if confidence > 1 {
			confidence = 1
		}
		tags = append(tags, EntityTag{Entity: entity, Confidence: confidence})
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

func positiveRatio(col *table.Column, rows int) float64 {
	positive, total := 0, 0
	for row := 0; row < rows; row++ {
		value, ok := col.Value(row).(float64)
		if !ok {
			continue
		}
		total++
		if value > 0 {
			positive++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(positive) / float64(total)
}

var summaryTokens = []string{"ytd", "total", "cumulative", "running", "to date"}

func isSummaryName(name string) bool {
	lower := strings.ToLower(name)
	for _, token := range summaryTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

var suffixPattern = regexp.MustCompile(`^(.*?)[._ ](\d+)$`)

// splitStem separates "Budget.3" style names into stem and ordinal. A bare
// stem counts as ordinal zero, matching how duplicated spreadsheet headers
// get suffixed on export.
func splitStem(name string) (string, int) {
	if m := suffixPattern.FindStringSubmatch(name); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil {
			return m[1], n
		}
	}
	return name, 0
}

// detectSequentialGroups scans column order for contiguous runs sharing a
// stem with an increasing suffix. Runs of 12 are tagged monthly, 4 quarterly.
func detectSequentialGroups(names []string) []SequentialGroup {
	groups := make([]SequentialGroup, 0)
	i := 0
	for i < len(names) {
		stem, first := splitStem(names[i])
		j := i + 1
		prev := first
		for j < len(names) {
			nextStem, ordinal := splitStem(names[j])
			if nextStem != stem || ordinal != prev+1 {
				break
			}
			prev = ordinal
			j++
		}
		if run := j - i; run >= 3 {
			group := SequentialGroup{Stem: stem, Columns: append([]string(nil), names[i:j]...)}
			switch run {
			case 12:
				group.Period = "monthly"
			case 4:
				group.Period = "quarterly"
			}
			groups = append(groups, group)
		}
		i = j
	}
	if len(groups) == 0 {
		return nil
	}
	return groups
}

func sortJoinKeys(keys []JoinKey) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j].Column < keys[j-1].Column; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}
