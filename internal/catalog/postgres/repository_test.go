package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/sheetwise/sheetwise/internal/catalog"
)

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestCreateTenant(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO tenant (tenant_id, name, status)
VALUES ($1, $2, $3)
RETURNING created_at`)).
		WithArgs("tenant-1", "Tenant One", "active").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	tenant, err := repo.CreateTenant(context.Background(), catalog.CreateTenantInput{
		TenantID: "tenant-1",
		Name:     "Tenant One",
	})
	if err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	if tenant.TenantID != "tenant-1" {
		t.Fatalf("TenantID = %q", tenant.TenantID)
	}
	if !tenant.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v, want %v", tenant.CreatedAt, now)
	}
	assertSQLMock(t, mock)
}

func TestGetTenantReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT tenant_id, name, status, created_at
FROM tenant
WHERE tenant_id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetTenant(context.Background(), "missing")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestCreateUpload(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
INSERT INTO upload (upload_id, tenant_id, filename, content_type, file_size_bytes, status, raw_object_path)
VALUES ($1, $2, $3, $4, $5, 'processing', $6)
RETURNING created_at`)).
		WithArgs("u1", "tenant-1", "sales.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", int64(2048), "uploads/tenant-1/u1/raw.xlsx").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	upload, err := repo.CreateUpload(context.Background(), catalog.CreateUploadInput{
		UploadID:      "u1",
		TenantID:      "tenant-1",
		Filename:      "sales.xlsx",
		ContentType:   "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		FileSizeBytes: 2048,
		RawObjectPath: "uploads/tenant-1/u1/raw.xlsx",
	})
	if err != nil {
		t.Fatalf("CreateUpload() error = %v", err)
	}
	if upload.Status != catalog.UploadStatusProcessing {
		t.Fatalf("Status = %q", upload.Status)
	}
	assertSQLMock(t, mock)
}

func TestGetUploadScopedByTenant(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT upload_id, tenant_id, filename, content_type, file_size_bytes, status, sheet_count, raw_object_path, created_at, profiled_at
FROM upload
WHERE tenant_id = $1 AND upload_id = $2`)).
		WithArgs("tenant-1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{
			"upload_id", "tenant_id", "filename", "content_type", "file_size_bytes",
			"status", "sheet_count", "raw_object_path", "created_at", "profiled_at",
		}).AddRow("u1", "tenant-1", "sales.xlsx", "text/csv", int64(10), "ready", 2, "uploads/tenant-1/u1/raw.xlsx", now, now))

	upload, err := repo.GetUpload(context.Background(), "tenant-1", "u1")
	if err != nil {
		t.Fatalf("GetUpload() error = %v", err)
	}
	if upload.SheetCount != 2 {
		t.Fatalf("SheetCount = %d", upload.SheetCount)
	}
	if upload.ProfiledAt == nil || !upload.ProfiledAt.Equal(now) {
		t.Fatalf("ProfiledAt = %v", upload.ProfiledAt)
	}
	assertSQLMock(t, mock)
}

func TestSetUploadStatusNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE upload
SET status = $2,
    sheet_count = $3,
    profiled_at = CASE WHEN $2 = 'ready' THEN now() ELSE profiled_at END
WHERE upload_id = $1`)).
		WithArgs("missing", "ready", 1).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetUploadStatus(context.Background(), "missing", "ready", 1)
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestDeleteUpload(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`
DELETE FROM upload
WHERE tenant_id = $1 AND upload_id = $2`)).
		WithArgs("tenant-1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.DeleteUpload(context.Background(), "tenant-1", "u1"); err != nil {
		t.Fatalf("DeleteUpload() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestUpsertSheetDefaultsProfileJSON(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO upload_sheet (upload_id, position, sheet_name, row_count, column_count, object_path, size_bytes, profile_json)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
ON CONFLICT (upload_id, position)
DO UPDATE SET sheet_name = EXCLUDED.sheet_name,
              row_count = EXCLUDED.row_count,
              column_count = EXCLUDED.column_count,
              object_path = EXCLUDED.object_path,
              size_bytes = EXCLUDED.size_bytes,
              profile_json = EXCLUDED.profile_json`)).
		WithArgs("u1", 0, "Sheet1", 10, 3, "uploads/tenant-1/u1/sheets/000.parquet", int64(512), "{}").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertSheet(context.Background(), catalog.UploadSheet{
		UploadID:    "u1",
		Position:    0,
		SheetName:   "Sheet1",
		RowCount:    10,
		ColumnCount: 3,
		ObjectPath:  "uploads/tenant-1/u1/sheets/000.parquet",
		SizeBytes:   512,
	})
	if err != nil {
		t.Fatalf("UpsertSheet() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestListSheetsOrdered(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT upload_id, position, sheet_name, row_count, column_count, object_path, size_bytes, profile_json
FROM upload_sheet
WHERE upload_id = $1
ORDER BY position ASC`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{
			"upload_id", "position", "sheet_name", "row_count", "column_count", "object_path", "size_bytes", "profile_json",
		}).
			AddRow("u1", 0, "Orders", 10, 3, "uploads/t/u1/sheets/000.parquet", int64(512), []byte(`{"sheet":"Orders"}`)).
			AddRow("u1", 1, "Customers", 5, 2, "uploads/t/u1/sheets/001.parquet", int64(256), []byte(`{"sheet":"Customers"}`)))

	sheets, err := repo.ListSheets(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListSheets() error = %v", err)
	}
	if len(sheets) != 2 {
		t.Fatalf("len = %d, want 2", len(sheets))
	}
	if sheets[0].SheetName != "Orders" || sheets[1].SheetName != "Customers" {
		t.Fatalf("sheets = %+v", sheets)
	}
	assertSQLMock(t, mock)
}
