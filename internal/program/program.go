// Package program defines the externally produced candidate programs and the
// static validator that screens them before execution. The validator is a
// deny-list first gate; the execution engines behind it are closed worlds of
// their own, so a miss here still has nothing dangerous to call.
package program

import (
	"fmt"
	"regexp"
	"strings"
)

// Mode selects the execution engine a candidate targets.
type Mode string

const (
	// ModeExpr is an expression program for the in-memory engine.
	ModeExpr Mode = "expr"
	// ModeSQL is a SELECT statement for the relational engine.
	ModeSQL Mode = "sql"
)

// Candidate is an externally generated analysis program. It is never trusted
// and always re-validated, regardless of author.
type Candidate struct {
	Mode            Mode     `json:"mode"`
	Text            string   `json:"text"`
	TargetSheet     string   `json:"target_sheet,omitempty"`
	RequiredColumns []string `json:"required_columns,omitempty"`
	// Explanation carries the author's reasoning, used verbatim when the
	// author declines to answer.
	Explanation string `json:"explanation,omitempty"`
}

// Rejection is the validator's fatal-for-this-query-only outcome.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("program rejected: %s", r.Reason)
}

// Options parameterizes validation per query.
type Options struct {
	// ScopeID is the upload identifier every SQL query must reference. The
	// expression engine resolves tables itself, so expr mode skips it.
	ScopeID string
	// SummaryColumns are precomputed running totals; aggregating over them
	// multiplies results, so SUM/AVG over them is denied.
	SummaryColumns []string
}

// Validate screens a candidate's text for disallowed operations. nil means
// accepted.
func Validate(text string, mode Mode, opts Options) error {
	switch mode {
	case ModeExpr:
		return validateExpr(text)
	case ModeSQL:
		return validateSQL(text, opts)
	default:
		return &Rejection{Reason: fmt.Sprintf("unknown program mode %q", mode)}
	}
}

// substring tokens checked after lowercasing
var exprDeniedSubstrings = []string{
	"open(",
	"file(",
	"eval(",
	"exec(",
	"__import__",
	"globals(",
	"locals(",
	"getattr(",
	"setattr(",
}

// bare identifiers checked on word boundaries so that e.g. "cost" is not
// caught by "os"
var exprDeniedWords = compileWordPatterns([]string{
	"os", "sys", "subprocess", "system", "popen",
})

func validateExpr(text string) error {
	lower := strings.ToLower(text)
	for _, token := range exprDeniedSubstrings {
		if strings.Contains(lower, token) {
			return &Rejection{Reason: fmt.Sprintf("forbidden token %q", strings.TrimSuffix(token, "("))}
		}
	}
	for i, pattern := range exprDeniedWords {
		if pattern.MatchString(lower) {
			return &Rejection{Reason: fmt.Sprintf("forbidden token %q", exprDeniedWordNames[i])}
		}
	}
	return nil
}

var sqlDeniedKeywords = compileWordPatterns([]string{
	"drop", "delete", "truncate", "alter", "create", "insert", "update", "grant", "revoke",
	"attach", "install", "copy", "pragma",
})

var exprDeniedWordNames = []string{"os", "sys", "subprocess", "system", "popen"}
var sqlDeniedKeywordNames = []string{
	"DROP", "DELETE", "TRUNCATE", "ALTER", "CREATE", "INSERT", "UPDATE", "GRANT", "REVOKE",
	"ATTACH", "INSTALL", "COPY", "PRAGMA",
}

func validateSQL(text string, opts Options) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &Rejection{Reason: "query is empty"}
	}
	lower := strings.ToLower(trimmed)

	if !strings.HasPrefix(lower, "select") {
		return &Rejection{Reason: "query must start with SELECT"}
	}
	if strings.Contains(lower, "--") || strings.Contains(lower, "/*") || strings.Contains(lower, "*/") {
		return &Rejection{Reason: "inline comments are not allowed"}
	}
	if strings.Count(lower, ";") > 1 {
		return &Rejection{Reason: "multiple statements are not allowed"}
	}
	for i, pattern := range sqlDeniedKeywords {
		if pattern.MatchString(lower) {
			return &Rejection{Reason: fmt.Sprintf("forbidden keyword %s", sqlDeniedKeywordNames[i])}
		}
	}
	if opts.ScopeID != "" && !strings.Contains(lower, strings.ToLower(opts.ScopeID)) {
		return &Rejection{Reason: "query must filter by scoping identifier"}
	}
	for _, column := range opts.SummaryColumns {
		if summaryAggregationPattern(column).MatchString(lower) {
			return &Rejection{Reason: fmt.Sprintf("aggregation over summary column %q is not allowed", column)}
		}
	}
	return nil
}

// StripImports removes import statement lines from an expression program. The
// executor supplies its own fixed arena, so imports are inert noise rather
// than a reason to reject.
func StripImports(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "from ") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func compileWordPatterns(words []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(words))
	for i, word := range words {
		patterns[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
	}
	return patterns
}

func summaryAggregationPattern(column string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(sum|avg|total)\s*\(\s*"?` + regexp.QuoteMeta(strings.ToLower(column)))
}
