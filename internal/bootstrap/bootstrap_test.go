package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sheetwise/sheetwise/internal/catalog"
)

type fakeRepo struct {
	catalog.Repository

	tenants map[string]catalog.Tenant
	keys    []catalog.CreateAPIKeyInput

	createTenantErr error
	createKeyErr    error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{tenants: map[string]catalog.Tenant{}}
}

func (f *fakeRepo) GetTenant(_ context.Context, tenantID string) (catalog.Tenant, error) {
	tenant, ok := f.tenants[tenantID]
	if !ok {
		return catalog.Tenant{}, catalog.ErrNotFound
	}
	return tenant, nil
}

func (f *fakeRepo) CreateTenant(_ context.Context, in catalog.CreateTenantInput) (catalog.Tenant, error) {
	if f.createTenantErr != nil {
		return catalog.Tenant{}, f.createTenantErr
	}
	tenant := catalog.Tenant{TenantID: in.TenantID, Name: in.Name, Status: in.Status, CreatedAt: time.Now().UTC()}
	f.tenants[in.TenantID] = tenant
	return tenant, nil
}

func (f *fakeRepo) CreateAPIKey(_ context.Context, in catalog.CreateAPIKeyInput) (catalog.APIKey, error) {
	if f.createKeyErr != nil {
		return catalog.APIKey{}, f.createKeyErr
	}
	f.keys = append(f.keys, in)
	return catalog.APIKey{KeyID: in.KeyID, TenantID: in.TenantID, KeyHash: in.KeyHash, Role: in.Role}, nil
}

func TestTenantCreatesTenantAndKey(t *testing.T) {
	repo := newFakeRepo()

	result, err := Tenant(context.Background(), repo, Input{TenantID: "acme", Name: "Acme Inc"})
	if err != nil {
		t.Fatalf("Tenant() error = %v", err)
	}
	if result.Tenant.TenantID != "acme" || result.Tenant.Status != "active" {
		t.Fatalf("tenant = %+v", result.Tenant)
	}
	if result.PlainKey == "" {
		t.Fatal("expected generated key material")
	}
	if len(repo.keys) != 1 {
		t.Fatalf("keys = %d", len(repo.keys))
	}
	if repo.keys[0].KeyHash == result.PlainKey {
		t.Fatal("stored hash must not equal the plain key")
	}
	want := result.PlainKey + ":acme:upload_writer|query_reader"
	if result.StaticKeySpec != want {
		t.Fatalf("static key spec = %q, want %q", result.StaticKeySpec, want)
	}
}

func TestTenantReusesExistingTenant(t *testing.T) {
	repo := newFakeRepo()
	repo.tenants["acme"] = catalog.Tenant{TenantID: "acme", Name: "Acme Inc", Status: "active"}
	repo.createTenantErr = errors.New("should not be called")

	result, err := Tenant(context.Background(), repo, Input{TenantID: "acme", Roles: "query_reader"})
	if err != nil {
		t.Fatalf("Tenant() error = %v", err)
	}
	if result.Key.Role != "query_reader" {
		t.Fatalf("role = %q", result.Key.Role)
	}
	if len(repo.keys) != 1 {
		t.Fatalf("keys = %d", len(repo.keys))
	}
}

func TestTenantRequiresTenantID(t *testing.T) {
	if _, err := Tenant(context.Background(), newFakeRepo(), Input{}); err == nil {
		t.Fatal("expected error without tenant id")
	}
}

func TestTenantKeyCreateFailureSurfaces(t *testing.T) {
	repo := newFakeRepo()
	repo.createKeyErr = errors.New("db down")

	if _, err := Tenant(context.Background(), repo, Input{TenantID: "acme"}); err == nil {
		t.Fatal("expected key create error to surface")
	}
}
