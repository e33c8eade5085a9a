package storage

import (
	"fmt"
	"path"
	"regexp"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildRawFilePath returns the key the original uploaded file is stored
// under: uploads/<tenant>/<upload>/raw.<ext>.
func BuildRawFilePath(tenantID, uploadID, ext string) (string, error) {
	if err := validatePathComponent(tenantID, "tenant id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(uploadID, "upload id"); err != nil {
		return "", err
	}
	if !regexp.MustCompile(`^[a-z0-9]{1,8}$`).MatchString(ext) {
		return "", fmt.Errorf("invalid file extension: %q", ext)
	}
	return path.Join("uploads", tenantID, uploadID, "raw."+ext), nil
}

// BuildSheetSnapshotPath returns the key for one sheet's parquet snapshot:
// uploads/<tenant>/<upload>/sheets/<position>.parquet.
func BuildSheetSnapshotPath(tenantID, uploadID string, position int) (string, error) {
	if err := validatePathComponent(tenantID, "tenant id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(uploadID, "upload id"); err != nil {
		return "", err
	}
	if position < 0 {
		return "", fmt.Errorf("sheet position must be >= 0")
	}
	return path.Join("uploads", tenantID, uploadID, "sheets", fmt.Sprintf("%03d.parquet", position)), nil
}

// UploadPrefix returns the key prefix shared by all of one upload's objects.
func UploadPrefix(tenantID, uploadID string) (string, error) {
	if err := validatePathComponent(tenantID, "tenant id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(uploadID, "upload id"); err != nil {
		return "", err
	}
	return path.Join("uploads", tenantID, uploadID), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
