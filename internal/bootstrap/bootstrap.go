// Package bootstrap provisions a tenant with an initial API key. The
// generated key is printed once; only its hash is stored in the catalog.
package bootstrap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sheetwise/sheetwise/internal/auth"
	"github.com/sheetwise/sheetwise/internal/catalog"
)

type Input struct {
	TenantID string
	Name     string
	// Roles granted to the initial key, e.g. "upload_writer|query_reader".
	Roles string
}

type Result struct {
	Tenant catalog.Tenant
	Key    catalog.APIKey
	// PlainKey is the generated key material, shown once and never stored.
	PlainKey string
	// StaticKeySpec is the key:tenant:roles entry for
	// SHEETWISE_AUTH_STATIC_KEYS.
	StaticKeySpec string
}

// Tenant creates the tenant row and its first API key. An existing tenant is
// reused so the command is safe to re-run for key rotation.
func Tenant(ctx context.Context, repo catalog.Repository, in Input) (Result, error) {
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" {
		return Result{}, fmt.Errorf("tenant id is required")
	}
	roles := strings.TrimSpace(in.Roles)
	if roles == "" {
		roles = auth.RoleUploadWriter + "|" + auth.RoleQueryReader
	}

	tenant, err := repo.GetTenant(ctx, tenantID)
	if err != nil {
		if err != catalog.ErrNotFound {
			return Result{}, fmt.Errorf("look up tenant %q: %w", tenantID, err)
		}
		name := strings.TrimSpace(in.Name)
		if name == "" {
			name = tenantID
		}
		tenant, err = repo.CreateTenant(ctx, catalog.CreateTenantInput{
			TenantID: tenantID,
			Name:     name,
			Status:   "active",
		})
		if err != nil {
			return Result{}, fmt.Errorf("create tenant %q: %w", tenantID, err)
		}
	}

	plainKey := uuid.NewString()
	hash := sha256.Sum256([]byte(plainKey))
	key, err := repo.CreateAPIKey(ctx, catalog.CreateAPIKeyInput{
		KeyID:    uuid.NewString(),
		TenantID: tenantID,
		KeyHash:  hex.EncodeToString(hash[:]),
		Role:     roles,
	})
	if err != nil {
		return Result{}, fmt.Errorf("create api key for %q: %w", tenantID, err)
	}

	return Result{
		Tenant:        tenant,
		Key:           key,
		PlainKey:      plainKey,
		StaticKeySpec: plainKey + ":" + tenantID + ":" + roles,
	}, nil
}
