package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sheetwise/sheetwise/internal/auth"
	"github.com/sheetwise/sheetwise/internal/catalog"
	"github.com/sheetwise/sheetwise/internal/normalize"
	"github.com/sheetwise/sheetwise/internal/profile"
	"github.com/sheetwise/sheetwise/internal/sheet"
	"github.com/sheetwise/sheetwise/internal/upload"
)

type uploadResponse struct {
	UploadID      string     `json:"upload_id"`
	Filename      string     `json:"filename"`
	ContentType   string     `json:"content_type"`
	FileSizeBytes int64      `json:"file_size_bytes"`
	Status        string     `json:"status"`
	SheetCount    int        `json:"sheet_count"`
	CreatedAt     time.Time  `json:"created_at"`
	ProfiledAt    *time.Time `json:"profiled_at,omitempty"`
}

func toUploadResponse(row catalog.Upload) uploadResponse {
	return uploadResponse{
		UploadID:      row.UploadID,
		Filename:      row.Filename,
		ContentType:   row.ContentType,
		FileSizeBytes: row.FileSizeBytes,
		Status:        row.Status,
		SheetCount:    row.SheetCount,
		CreatedAt:     row.CreatedAt,
		ProfiledAt:    row.ProfiledAt,
	}
}

func handleCreateUpload(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Uploads == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "UPLOADS_NOT_CONFIGURED", "upload dependencies are not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleUploadWriter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	maxBytes := deps.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "multipart field \"file\" is required", false, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "upload exceeds the size limit", false, map[string]any{"limit_bytes": maxBytes})
		return
	}

	contentType := header.Header.Get("Content-Type")
	result, err := deps.Uploads.Ingest(r.Context(), upload.IngestInput{
		TenantID:    tenantID,
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		writeIngestError(deps, w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"upload": toUploadResponse(result.Upload),
		"sheets": result.Sheets,
	})
}

func writeIngestError(deps Dependencies, w http.ResponseWriter, r *http.Request, err error) {
	var structural *normalize.StructuralError
	switch {
	case errors.As(err, &structural):
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "SHEET_STRUCTURE_INVALID", structural.Error(), false, map[string]any{
			"sheet":      structural.Sheet,
			"duplicates": structural.Duplicates,
		})
	case errors.Is(err, sheet.ErrUnsupportedFormat):
		writeError(r.Context(), w, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", err.Error(), false, nil)
	default:
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "upload ingest failed", "error", err.Error())
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "UPLOAD_FAILED", "upload could not be processed", true, map[string]any{"details": err.Error()})
	}
}

func handleListUploads(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "UPLOADS_NOT_CONFIGURED", "catalog is not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	rows, err := deps.Catalog.ListUploads(r.Context(), tenantID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list uploads", true, map[string]any{"details": err.Error()})
		return
	}
	uploads := make([]uploadResponse, 0, len(rows))
	for _, row := range rows {
		uploads = append(uploads, toUploadResponse(row))
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": uploads})
}

func handleGetUpload(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "UPLOADS_NOT_CONFIGURED", "catalog is not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	row, err := deps.Catalog.GetUpload(r.Context(), tenantID, r.PathValue("upload"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "UPLOAD_NOT_FOUND", "upload was not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to load upload", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"upload": toUploadResponse(row)})
}

func handleDeleteUpload(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Uploads == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "UPLOADS_NOT_CONFIGURED", "upload dependencies are not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleUploadWriter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	uploadID := r.PathValue("upload")
	if err := deps.Uploads.Delete(r.Context(), tenantID, uploadID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "UPLOAD_NOT_FOUND", "upload was not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "DELETE_FAILED", "upload could not be deleted", true, map[string]any{"details": err.Error()})
		return
	}
	if deps.Sessions != nil {
		deps.Sessions.Clear(sessionKey(tenantID, uploadID))
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleGetProfile(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Uploads == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "UPLOADS_NOT_CONFIGURED", "upload dependencies are not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	row, entries, err := deps.Uploads.Profiles(r.Context(), tenantID, r.PathValue("upload"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "UPLOAD_NOT_FOUND", "upload was not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "PROFILE_FAILED", "profile could not be loaded", true, map[string]any{"details": err.Error()})
		return
	}
	if row.Status != catalog.UploadStatusReady {
		writeError(r.Context(), w, http.StatusConflict, "UPLOAD_NOT_READY", "upload is not ready", false, map[string]any{"status": row.Status})
		return
	}

	sheets := make([]profile.SheetProfile, 0, len(entries))
	for _, entry := range entries {
		sheets = append(sheets, entry.Profile)
	}
	workbook := profile.FromSheets(sheets)
	writeJSON(w, http.StatusOK, map[string]any{
		"upload":           toUploadResponse(row),
		"sheets":           workbook.Sheets,
		"column_to_sheets": workbook.ColumnToSheets,
		"join_keys":        workbook.JoinKeys,
	})
}
