package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// DetectHeaderRow scores each of the first scan rows and returns the index of
// the most header-like one. Rows above it are treated as junk (titles, merged
// banners) and dropped by the caller.
func DetectHeaderRow(rows [][]string, scan int) int {
	limit := scan
	if limit > len(rows) {
		limit = len(rows)
	}
	best, bestScore := 0, -1<<31
	for i := 0; i < limit; i++ {
		score := scoreHeaderRow(rows[i])
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

var placeholderPattern = regexp.MustCompile(`(?i)^(column|col|field|unnamed)[ _]?\d*$`)

func scoreHeaderRow(row []string) int {
	nonNull := 0
	labelLike := 0
	placeholders := 0
	distinct := make(map[string]struct{}, len(row))
	for _, cell := range row {
		value := strings.TrimSpace(cell)
		if value == "" {
			continue
		}
		nonNull++
		distinct[strings.ToLower(value)] = struct{}{}
		if placeholderPattern.MatchString(value) {
			placeholders++
			continue
		}
		if isLabelLike(value) {
			labelLike++
		}
	}
	return nonNull + len(distinct) + labelLike - placeholders
}

// isLabelLike reports whether a cell reads as a column label rather than a
// data value: mostly letters, not a number, not a date.
func isLabelLike(value string) bool {
	if _, ok := parseNumeric(value); ok {
		return false
	}
	if _, ok := parseDate(value); ok {
		return false
	}
	letters, total := 0, 0
	for _, r := range value {
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return total > 0 && float64(letters)/float64(total) >= 0.3
}

var dateHintTokens = []string{"date", "time", "created", "modified", "timestamp", "day"}

func hasDateHint(name string) bool {
	lower := strings.ToLower(name)
	for _, token := range dateHintTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02/01/2006",
	"2/1/2006",
	"01/02/2006 15:04",
	"02-01-2006",
	"01-02-2006",
	"02.01.2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan-06",
	"Jan 2006",
}

func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if when, err := time.Parse(layout, value); err == nil {
			return when, true
		}
	}
	return time.Time{}, false
}

// looksDateShaped is a cheap shape check used to keep high-parse-rate but
// hint-less columns honest: real dates carry separators or a leading year.
func looksDateShaped(value string) bool {
	value = strings.TrimSpace(value)
	if strings.ContainsAny(value, "/-.:") {
		return true
	}
	if len(value) >= 5 {
		year := value[:4]
		if _, err := strconv.Atoi(year); err == nil {
			return true
		}
	}
	return false
}

var numericCleaner = strings.NewReplacer(",", "", "$", "", "€", "", "£", "", "¥", "", "%", "")

func parseNumeric(value string) (float64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	negative := false
	if strings.HasPrefix(value, "(") && strings.HasSuffix(value, ")") {
		negative = true
		value = value[1 : len(value)-1]
	}
	value = strings.TrimSpace(numericCleaner.Replace(value))
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		parsed = -parsed
	}
	return parsed, true
}

func parseBool(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "y":
		return true, true
	case "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}

// boolDetected requires every sampled value to read as a boolean. Bare 1/0
// columns stay numeric.
func boolDetected(sample []string) bool {
	if len(sample) == 0 {
		return false
	}
	for _, value := range sample {
		if _, ok := parseBool(value); !ok {
			return false
		}
	}
	return true
}
