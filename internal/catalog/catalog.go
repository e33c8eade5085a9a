// Package catalog defines the control-plane records: tenants, API keys,
// uploads and their per-sheet snapshot entries. Upload rows and sheet rows
// live and die together; deleting an upload removes both plus the stored
// profile JSON.
package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("catalog record not found")

type Tenant struct {
	TenantID  string
	Name      string
	Status    string
	CreatedAt time.Time
}

type CreateTenantInput struct {
	TenantID string
	Name     string
	Status   string
}

type APIKey struct {
	KeyID     string
	TenantID  string
	KeyHash   string
	Role      string
	CreatedAt time.Time
	RevokedAt *time.Time
}

type CreateAPIKeyInput struct {
	KeyID    string
	TenantID string
	KeyHash  string
	Role     string
}

// Upload statuses.
const (
	UploadStatusProcessing = "processing"
	UploadStatusReady      = "ready"
	UploadStatusFailed     = "failed"
)

type Upload struct {
	UploadID      string
	TenantID      string
	Filename      string
	ContentType   string
	FileSizeBytes int64
	Status        string
	SheetCount    int
	RawObjectPath string
	CreatedAt     time.Time
	ProfiledAt    *time.Time
}

type CreateUploadInput struct {
	UploadID      string
	TenantID      string
	Filename      string
	ContentType   string
	FileSizeBytes int64
	RawObjectPath string
}

// UploadSheet is one normalized sheet of an upload. ProfileJSON holds the
// serialized SheetProfile.
type UploadSheet struct {
	UploadID    string
	Position    int
	SheetName   string
	RowCount    int
	ColumnCount int
	ObjectPath  string
	SizeBytes   int64
	ProfileJSON []byte
}

type Repository interface {
	HealthCheck(ctx context.Context) error

	CreateTenant(ctx context.Context, in CreateTenantInput) (Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
	CreateAPIKey(ctx context.Context, in CreateAPIKeyInput) (APIKey, error)

	CreateUpload(ctx context.Context, in CreateUploadInput) (Upload, error)
	GetUpload(ctx context.Context, tenantID, uploadID string) (Upload, error)
	ListUploads(ctx context.Context, tenantID string) ([]Upload, error)
	SetUploadStatus(ctx context.Context, uploadID, status string, sheetCount int) error
	DeleteUpload(ctx context.Context, tenantID, uploadID string) error
	ListExpiredUploads(ctx context.Context, olderThan time.Time, limit int) ([]Upload, error)

	UpsertSheet(ctx context.Context, sheet UploadSheet) error
	ListSheets(ctx context.Context, uploadID string) ([]UploadSheet, error)
}
