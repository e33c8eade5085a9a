// Package upload runs the ingest pipeline: parse the file into raw sheets,
// normalize and profile each one, snapshot them to the object store, and
// record everything in the catalog. The upload row is created first in
// status processing and flipped to ready or failed at the end, so readers
// never see a half-ingested upload as queryable.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/sheetwise/sheetwise/internal/catalog"
	"github.com/sheetwise/sheetwise/internal/normalize"
	"github.com/sheetwise/sheetwise/internal/observability"
	"github.com/sheetwise/sheetwise/internal/profile"
	"github.com/sheetwise/sheetwise/internal/sheet"
	"github.com/sheetwise/sheetwise/internal/snapshot"
	"github.com/sheetwise/sheetwise/internal/storage"
	"github.com/sheetwise/sheetwise/internal/table"
)

type Service struct {
	logger    *slog.Logger
	repo      catalog.Repository
	store     storage.ObjectStore
	normalize normalize.Options

	// newID is swappable for tests.
	newID func() string
}

func NewService(logger *slog.Logger, repo catalog.Repository, store storage.ObjectStore, opts normalize.Options) *Service {
	return &Service{
		logger:    logger,
		repo:      repo,
		store:     store,
		normalize: opts,
		newID:     uuid.NewString,
	}
}

// Result is what a finished ingest hands back to the API layer.
type Result struct {
	Upload   catalog.Upload
	Sheets   []profile.SheetProfile
	Workbook profile.WorkbookProfile
}

type IngestInput struct {
	TenantID    string
	Filename    string
	ContentType string
	Data        []byte
}

func (s *Service) Ingest(ctx context.Context, in IngestInput) (Result, error) {
	if in.TenantID == "" {
		return Result{}, fmt.Errorf("tenant id is required")
	}
	if len(in.Data) == 0 {
		return Result{}, fmt.Errorf("upload body is empty")
	}

	uploadID := s.newID()
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(in.Filename), "."))
	rawPath, err := storage.BuildRawFilePath(in.TenantID, uploadID, ext)
	if err != nil {
		return Result{}, err
	}

	uploadRow, err := s.repo.CreateUpload(ctx, catalog.CreateUploadInput{
		UploadID:      uploadID,
		TenantID:      in.TenantID,
		Filename:      in.Filename,
		ContentType:   in.ContentType,
		FileSizeBytes: int64(len(in.Data)),
		RawObjectPath: rawPath,
	})
	if err != nil {
		return Result{}, fmt.Errorf("record upload: %w", err)
	}

	result, err := s.process(ctx, uploadRow, rawPath, in)
	if err != nil {
		if statusErr := s.repo.SetUploadStatus(ctx, uploadID, catalog.UploadStatusFailed, 0); statusErr != nil {
			s.logger.ErrorContext(ctx, "mark upload failed",
				slog.String("upload_id", uploadID),
				slog.String("error", statusErr.Error()),
			)
		}
		observability.ObserveUpload("failed", 0)
		return Result{}, err
	}

	observability.ObserveUpload("ready", len(result.Sheets))
	return result, nil
}

func (s *Service) process(ctx context.Context, uploadRow catalog.Upload, rawPath string, in IngestInput) (Result, error) {
	if _, err := s.store.Put(ctx, rawPath, bytes.NewReader(in.Data), int64(len(in.Data)), storage.PutOptions{
		ContentType: in.ContentType,
	}); err != nil {
		return Result{}, fmt.Errorf("store raw file: %w", err)
	}

	rawTables, err := sheet.Load(in.Filename, in.Data)
	if err != nil {
		return Result{}, fmt.Errorf("parse %s: %w", in.Filename, err)
	}
	if len(rawTables) == 0 {
		return Result{}, fmt.Errorf("file %s contains no non-empty sheets", in.Filename)
	}

	tables := make([]*table.NormalizedTable, 0, len(rawTables))
	warningsBySheet := make(map[string][]normalize.Warning, len(rawTables))
	for _, raw := range rawTables {
		normalized, warnings, err := normalize.Normalize(raw, s.normalize)
		if err != nil {
			var structural *normalize.StructuralError
			if errors.As(err, &structural) {
				// StructuralError already names the sheet and columns.
				return Result{}, err
			}
			return Result{}, fmt.Errorf("normalize sheet %q: %w", raw.Sheet, err)
		}
		for _, warning := range warnings {
			observability.IncrementNormalizeWarning(warning.Code)
		}
		tables = append(tables, normalized)
		warningsBySheet[normalized.Sheet] = warnings
	}

	workbook := profile.Workbook(tables, warningsBySheet)

	for position, normalized := range tables {
		sheetProfile := workbook.Sheets[position]

		encoded, err := snapshot.Encode(normalized, uploadRow.UploadID)
		if err != nil {
			return Result{}, fmt.Errorf("snapshot sheet %q: %w", normalized.Sheet, err)
		}
		objectPath, err := storage.BuildSheetSnapshotPath(in.TenantID, uploadRow.UploadID, position)
		if err != nil {
			return Result{}, err
		}
		if _, err := s.store.Put(ctx, objectPath, bytes.NewReader(encoded), int64(len(encoded)), storage.PutOptions{
			ContentType: "application/vnd.apache.parquet",
		}); err != nil {
			return Result{}, fmt.Errorf("store snapshot %q: %w", objectPath, err)
		}

		profileJSON, err := json.Marshal(sheetProfile)
		if err != nil {
			return Result{}, fmt.Errorf("marshal profile for sheet %q: %w", normalized.Sheet, err)
		}
		if err := s.repo.UpsertSheet(ctx, catalog.UploadSheet{
			UploadID:    uploadRow.UploadID,
			Position:    position,
			SheetName:   normalized.Sheet,
			RowCount:    normalized.NumRows(),
			ColumnCount: normalized.NumColumns(),
			ObjectPath:  objectPath,
			SizeBytes:   int64(len(encoded)),
			ProfileJSON: profileJSON,
		}); err != nil {
			return Result{}, fmt.Errorf("record sheet %q: %w", normalized.Sheet, err)
		}
	}

	if err := s.repo.SetUploadStatus(ctx, uploadRow.UploadID, catalog.UploadStatusReady, len(tables)); err != nil {
		return Result{}, fmt.Errorf("mark upload ready: %w", err)
	}
	uploadRow.Status = catalog.UploadStatusReady
	uploadRow.SheetCount = len(tables)

	s.logger.InfoContext(ctx, "upload ingested",
		slog.String("tenant_id", in.TenantID),
		slog.String("upload_id", uploadRow.UploadID),
		slog.Int("sheets", len(tables)),
	)

	return Result{Upload: uploadRow, Sheets: workbook.Sheets, Workbook: workbook}, nil
}

// Delete removes the catalog rows first, then the stored objects best-effort.
// A dangling object is garbage to sweep later; a dangling catalog row would be
// a queryable upload without data.
func (s *Service) Delete(ctx context.Context, tenantID, uploadID string) error {
	uploadRow, err := s.repo.GetUpload(ctx, tenantID, uploadID)
	if err != nil {
		return err
	}
	sheets, err := s.repo.ListSheets(ctx, uploadID)
	if err != nil {
		return fmt.Errorf("list sheets for delete: %w", err)
	}

	if err := s.repo.DeleteUpload(ctx, tenantID, uploadID); err != nil {
		return err
	}

	paths := make([]string, 0, len(sheets)+1)
	if uploadRow.RawObjectPath != "" {
		paths = append(paths, uploadRow.RawObjectPath)
	}
	for _, entry := range sheets {
		paths = append(paths, entry.ObjectPath)
	}
	for _, path := range paths {
		if err := s.store.Delete(ctx, path); err != nil {
			s.logger.WarnContext(ctx, "delete upload object",
				slog.String("upload_id", uploadID),
				slog.String("key", path),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// SheetEntry pairs the catalog row with its decoded profile.
type SheetEntry struct {
	Sheet   catalog.UploadSheet
	Profile profile.SheetProfile
}

// Profiles returns the stored per-sheet profiles for a ready upload.
func (s *Service) Profiles(ctx context.Context, tenantID, uploadID string) (catalog.Upload, []SheetEntry, error) {
	uploadRow, err := s.repo.GetUpload(ctx, tenantID, uploadID)
	if err != nil {
		return catalog.Upload{}, nil, err
	}
	sheets, err := s.repo.ListSheets(ctx, uploadID)
	if err != nil {
		return catalog.Upload{}, nil, fmt.Errorf("list sheets: %w", err)
	}

	entries := make([]SheetEntry, 0, len(sheets))
	for _, row := range sheets {
		entry := SheetEntry{Sheet: row}
		if len(row.ProfileJSON) > 0 {
			if err := json.Unmarshal(row.ProfileJSON, &entry.Profile); err != nil {
				return catalog.Upload{}, nil, fmt.Errorf("decode profile for sheet %q: %w", row.SheetName, err)
			}
		}
		entries = append(entries, entry)
	}
	return uploadRow, entries, nil
}

// Tables fetches and decodes every sheet snapshot of an upload, keyed by
// sheet name. This is the expression engine's working set.
func (s *Service) Tables(ctx context.Context, tenantID, uploadID string) (map[string]*table.NormalizedTable, error) {
	if _, err := s.repo.GetUpload(ctx, tenantID, uploadID); err != nil {
		return nil, err
	}
	sheets, err := s.repo.ListSheets(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("list sheets: %w", err)
	}

	tables := make(map[string]*table.NormalizedTable, len(sheets))
	for _, entry := range sheets {
		body, err := s.store.Get(ctx, entry.ObjectPath)
		if err != nil {
			return nil, fmt.Errorf("fetch snapshot %q: %w", entry.ObjectPath, err)
		}
		data, err := readAll(body)
		if err != nil {
			return nil, fmt.Errorf("read snapshot %q: %w", entry.ObjectPath, err)
		}
		decoded, _, err := snapshot.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decode snapshot %q: %w", entry.ObjectPath, err)
		}
		tables[decoded.Sheet] = decoded
	}
	return tables, nil
}

func readAll(body io.ReadCloser) ([]byte, error) {
	defer func() { _ = body.Close() }()
	return io.ReadAll(body)
}
