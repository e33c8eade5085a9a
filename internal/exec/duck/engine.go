// Package duck executes validated SELECT statements against an upload's
// parquet snapshots in a throwaway in-memory DuckDB database. The database
// holds only the caller's own snapshot files, and the engine re-checks the
// upload scope itself rather than trusting that the validator ran.
package duck

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/sheetwise/sheetwise/internal/storage"
)

// SheetFile points at one sheet's snapshot in the object store.
type SheetFile struct {
	Sheet         string
	ObjectPath    string
	FileSizeBytes int64
}

// Request is one scoped SQL execution.
type Request struct {
	SQL      string
	UploadID string
	RowLimit int
	Files    []SheetFile
}

// Result carries the relational answer as a column list plus row values.
type Result struct {
	Columns      []string
	Rows         [][]any
	ScannedBytes int64
	Duration     time.Duration
}

type Engine struct {
	Store storage.ObjectStore
}

func NewEngine(store storage.ObjectStore) *Engine {
	return &Engine{Store: store}
}

// Execute fetches the upload's snapshots into a temp dir, exposes each sheet
// as a view, and runs the query with a row-limit wrap. The query text must
// reference the upload id; this duplicates the validator's check on purpose.
func (e *Engine) Execute(ctx context.Context, request Request) (Result, error) {
	if strings.TrimSpace(request.SQL) == "" {
		return Result{}, fmt.Errorf("sql is required")
	}
	if request.UploadID == "" {
		return Result{}, fmt.Errorf("upload id is required")
	}
	if err := CheckScope(request.SQL, request.UploadID); err != nil {
		return Result{}, err
	}
	if len(request.Files) == 0 {
		return Result{}, fmt.Errorf("no snapshot files for upload %q", request.UploadID)
	}
	if e.Store == nil {
		return Result{}, fmt.Errorf("object store is required")
	}

	start := time.Now()
	workDir, err := os.MkdirTemp("", "sheetwise-query-")
	if err != nil {
		return Result{}, fmt.Errorf("create query temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localPaths := make(map[string]string, len(request.Files))
	var scannedBytes int64
	for index, file := range request.Files {
		reader, err := e.Store.Get(ctx, file.ObjectPath)
		if err != nil {
			return Result{}, fmt.Errorf("get snapshot %q: %w", file.ObjectPath, err)
		}
		localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(file.Sheet), index))
		if err := writeFile(localPath, reader); err != nil {
			_ = reader.Close()
			return Result{}, fmt.Errorf("write local parquet file %q: %w", localPath, err)
		}
		if err := reader.Close(); err != nil {
			return Result{}, fmt.Errorf("close snapshot %q: %w", file.ObjectPath, err)
		}
		localPaths[file.Sheet] = localPath
		scannedBytes += file.FileSizeBytes
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return Result{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	for sheetName, localPath := range localPaths {
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`,
			quoteIdent(ViewName(sheetName)), quoteString(localPath))
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			return Result{}, fmt.Errorf("create view for sheet %q: %w", sheetName, err)
		}
	}
	// single-sheet uploads also answer to the generic name the translator
	// prefers
	if len(request.Files) == 1 {
		only := request.Files[0].Sheet
		aliasSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW data AS SELECT * FROM %s`, quoteIdent(ViewName(only)))
		if _, err := db.ExecContext(ctx, aliasSQL); err != nil {
			return Result{}, fmt.Errorf("create data alias view: %w", err)
		}
	}

	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return Result{}, fmt.Errorf("sql is required")
	}
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return Result{
		Columns:      columns,
		Rows:         resultRows,
		ScannedBytes: scannedBytes,
		Duration:     time.Since(start),
	}, nil
}

// CheckScope verifies the query text references the upload id. The validator
// performs the same check; running it here too keeps a bypassed or miswired
// validator from widening the blast radius.
func CheckScope(sqlText, uploadID string) error {
	if !strings.Contains(strings.ToLower(sqlText), strings.ToLower(uploadID)) {
		return fmt.Errorf("query does not reference upload %q", uploadID)
	}
	return nil
}

// ViewName maps a sheet name to a SQL-friendly view identifier.
func ViewName(sheetName string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(sheetName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r == ' ' || r == '-' || r == '.':
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" {
		return "sheet"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "s_" + name
	}
	return name
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "sheet"
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

func writeFile(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
