package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sheetwise/sheetwise/internal/catalog"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

func (r *Repository) CreateTenant(ctx context.Context, in catalog.CreateTenantInput) (catalog.Tenant, error) {
	status := in.Status
	if status == "" {
		status = "active"
	}

	query := `
INSERT INTO tenant (tenant_id, name, status)
VALUES ($1, $2, $3)
RETURNING created_at`
	var createdAt time.Time
	if err := r.db.QueryRowContext(ctx, query, in.TenantID, in.Name, status).Scan(&createdAt); err != nil {
		return catalog.Tenant{}, fmt.Errorf("create tenant: %w", err)
	}
	return catalog.Tenant{
		TenantID:  in.TenantID,
		Name:      in.Name,
		Status:    status,
		CreatedAt: createdAt,
	}, nil
}

func (r *Repository) GetTenant(ctx context.Context, tenantID string) (catalog.Tenant, error) {
	query := `
SELECT tenant_id, name, status, created_at
FROM tenant
WHERE tenant_id = $1`

	var tenant catalog.Tenant
	if err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&tenant.TenantID,
		&tenant.Name,
		&tenant.Status,
		&tenant.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Tenant{}, catalog.ErrNotFound
		}
		return catalog.Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return tenant, nil
}

func (r *Repository) ListTenants(ctx context.Context) ([]catalog.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT tenant_id, name, status, created_at
FROM tenant
WHERE status = 'active'
ORDER BY tenant_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tenants := make([]catalog.Tenant, 0)
	for rows.Next() {
		var tenant catalog.Tenant
		if err := rows.Scan(&tenant.TenantID, &tenant.Name, &tenant.Status, &tenant.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant row: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenant rows: %w", err)
	}
	return tenants, nil
}

func (r *Repository) CreateAPIKey(ctx context.Context, in catalog.CreateAPIKeyInput) (catalog.APIKey, error) {
	query := `
INSERT INTO api_key (key_id, tenant_id, key_hash, role)
VALUES ($1, $2, $3, $4)
RETURNING created_at`

	key := catalog.APIKey{
		KeyID:    in.KeyID,
		TenantID: in.TenantID,
		KeyHash:  in.KeyHash,
		Role:     in.Role,
	}
	if err := r.db.QueryRowContext(ctx, query, in.KeyID, in.TenantID, in.KeyHash, in.Role).Scan(&key.CreatedAt); err != nil {
		return catalog.APIKey{}, fmt.Errorf("create api key: %w", err)
	}
	return key, nil
}

func (r *Repository) CreateUpload(ctx context.Context, in catalog.CreateUploadInput) (catalog.Upload, error) {
	query := `
INSERT INTO upload (upload_id, tenant_id, filename, content_type, file_size_bytes, status, raw_object_path)
VALUES ($1, $2, $3, $4, $5, 'processing', $6)
RETURNING created_at`

	upload := catalog.Upload{
		UploadID:      in.UploadID,
		TenantID:      in.TenantID,
		Filename:      in.Filename,
		ContentType:   in.ContentType,
		FileSizeBytes: in.FileSizeBytes,
		Status:        catalog.UploadStatusProcessing,
		RawObjectPath: in.RawObjectPath,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.UploadID, in.TenantID, in.Filename, in.ContentType, in.FileSizeBytes, in.RawObjectPath,
	).Scan(&upload.CreatedAt); err != nil {
		return catalog.Upload{}, fmt.Errorf("create upload: %w", err)
	}
	return upload, nil
}

func (r *Repository) GetUpload(ctx context.Context, tenantID, uploadID string) (catalog.Upload, error) {
	query := `
SELECT upload_id, tenant_id, filename, content_type, file_size_bytes, status, sheet_count, raw_object_path, created_at, profiled_at
FROM upload
WHERE tenant_id = $1 AND upload_id = $2`

	var upload catalog.Upload
	var profiledAt sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, tenantID, uploadID).Scan(
		&upload.UploadID,
		&upload.TenantID,
		&upload.Filename,
		&upload.ContentType,
		&upload.FileSizeBytes,
		&upload.Status,
		&upload.SheetCount,
		&upload.RawObjectPath,
		&upload.CreatedAt,
		&profiledAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Upload{}, catalog.ErrNotFound
		}
		return catalog.Upload{}, fmt.Errorf("get upload: %w", err)
	}
	if profiledAt.Valid {
		upload.ProfiledAt = &profiledAt.Time
	}
	return upload, nil
}

func (r *Repository) ListUploads(ctx context.Context, tenantID string) ([]catalog.Upload, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT upload_id, tenant_id, filename, content_type, file_size_bytes, status, sheet_count, raw_object_path, created_at, profiled_at
FROM upload
WHERE tenant_id = $1
ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanUploads(rows)
}

func (r *Repository) SetUploadStatus(ctx context.Context, uploadID, status string, sheetCount int) error {
	query := `
UPDATE upload
SET status = $2,
    sheet_count = $3,
    profiled_at = CASE WHEN $2 = 'ready' THEN now() ELSE profiled_at END
WHERE upload_id = $1`

	result, err := r.db.ExecContext(ctx, query, uploadID, status, sheetCount)
	if err != nil {
		return fmt.Errorf("set upload status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set upload status rows affected: %w", err)
	}
	if affected == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// DeleteUpload removes the upload row; sheet rows go with it via the foreign
// key cascade. Object deletion is the caller's follow-up.
func (r *Repository) DeleteUpload(ctx context.Context, tenantID, uploadID string) error {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM upload
WHERE tenant_id = $1 AND upload_id = $2`, tenantID, uploadID)
	if err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete upload rows affected: %w", err)
	}
	if affected == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (r *Repository) ListExpiredUploads(ctx context.Context, olderThan time.Time, limit int) ([]catalog.Upload, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT upload_id, tenant_id, filename, content_type, file_size_bytes, status, sheet_count, raw_object_path, created_at, profiled_at
FROM upload
WHERE created_at < $1
ORDER BY created_at ASC
LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired uploads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanUploads(rows)
}

func scanUploads(rows *sql.Rows) ([]catalog.Upload, error) {
	uploads := make([]catalog.Upload, 0)
	for rows.Next() {
		var upload catalog.Upload
		var profiledAt sql.NullTime
		if err := rows.Scan(
			&upload.UploadID,
			&upload.TenantID,
			&upload.Filename,
			&upload.ContentType,
			&upload.FileSizeBytes,
			&upload.Status,
			&upload.SheetCount,
			&upload.RawObjectPath,
			&upload.CreatedAt,
			&profiledAt,
		); err != nil {
			return nil, fmt.Errorf("scan upload row: %w", err)
		}
		if profiledAt.Valid {
			upload.ProfiledAt = &profiledAt.Time
		}
		uploads = append(uploads, upload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload rows: %w", err)
	}
	return uploads, nil
}

func (r *Repository) UpsertSheet(ctx context.Context, sheet catalog.UploadSheet) error {
	query := `
INSERT INTO upload_sheet (upload_id, position, sheet_name, row_count, column_count, object_path, size_bytes, profile_json)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
ON CONFLICT (upload_id, position)
DO UPDATE SET sheet_name = EXCLUDED.sheet_name,
              row_count = EXCLUDED.row_count,
              column_count = EXCLUDED.column_count,
              object_path = EXCLUDED.object_path,
              size_bytes = EXCLUDED.size_bytes,
              profile_json = EXCLUDED.profile_json`

	profileJSON := sheet.ProfileJSON
	if len(profileJSON) == 0 {
		profileJSON = []byte("{}")
	}
	if _, err := r.db.ExecContext(ctx, query,
		sheet.UploadID, sheet.Position, sheet.SheetName, sheet.RowCount, sheet.ColumnCount,
		sheet.ObjectPath, sheet.SizeBytes, string(profileJSON),
	); err != nil {
		return fmt.Errorf("upsert sheet: %w", err)
	}
	return nil
}

func (r *Repository) ListSheets(ctx context.Context, uploadID string) ([]catalog.UploadSheet, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT upload_id, position, sheet_name, row_count, column_count, object_path, size_bytes, profile_json
FROM upload_sheet
WHERE upload_id = $1
ORDER BY position ASC`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("list sheets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sheets := make([]catalog.UploadSheet, 0)
	for rows.Next() {
		var sheet catalog.UploadSheet
		if err := rows.Scan(
			&sheet.UploadID,
			&sheet.Position,
			&sheet.SheetName,
			&sheet.RowCount,
			&sheet.ColumnCount,
			&sheet.ObjectPath,
			&sheet.SizeBytes,
			&sheet.ProfileJSON,
		); err != nil {
			return nil, fmt.Errorf("scan sheet row: %w", err)
		}
		sheets = append(sheets, sheet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sheet rows: %w", err)
	}
	return sheets, nil
}
