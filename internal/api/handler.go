// Package api is the HTTP surface: upload management, schema profiles, and
// the ask flow that turns questions into validated, sandboxed executions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sheetwise/sheetwise/internal/auth"
	"github.com/sheetwise/sheetwise/internal/catalog"
	"github.com/sheetwise/sheetwise/internal/config"
	"github.com/sheetwise/sheetwise/internal/exec"
	"github.com/sheetwise/sheetwise/internal/exec/duck"
	"github.com/sheetwise/sheetwise/internal/observability"
	"github.com/sheetwise/sheetwise/internal/session"
	"github.com/sheetwise/sheetwise/internal/table"
	"github.com/sheetwise/sheetwise/internal/translate"
	"github.com/sheetwise/sheetwise/internal/upload"
)

type ReadinessCheck func(ctx context.Context) error

// UploadPipeline is the slice of the upload service the handlers call.
type UploadPipeline interface {
	Ingest(ctx context.Context, in upload.IngestInput) (upload.Result, error)
	Delete(ctx context.Context, tenantID, uploadID string) error
	Profiles(ctx context.Context, tenantID, uploadID string) (catalog.Upload, []upload.SheetEntry, error)
	Tables(ctx context.Context, tenantID, uploadID string) (map[string]*table.NormalizedTable, error)
}

type CatalogLookup interface {
	GetUpload(ctx context.Context, tenantID, uploadID string) (catalog.Upload, error)
	ListUploads(ctx context.Context, tenantID string) ([]catalog.Upload, error)
}

type ExprEngine interface {
	Execute(ctx context.Context, tables map[string]*table.NormalizedTable, target, text string) exec.Result
}

type SQLEngine interface {
	Execute(ctx context.Context, request duck.Request) (duck.Result, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration

	Uploads    UploadPipeline
	Catalog    CatalogLookup
	Expr       ExprEngine
	SQL        SQLEngine
	Translator translate.Translator
	Sessions   session.Store

	QueryTimeout    time.Duration
	DefaultRowLimit int
	MaxUploadBytes  int64
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/uploads", func(w http.ResponseWriter, r *http.Request) {
		handleCreateUpload(deps, w, r)
	})
	protected.HandleFunc("GET /v1/uploads", func(w http.ResponseWriter, r *http.Request) {
		handleListUploads(deps, w, r)
	})
	protected.HandleFunc("GET /v1/uploads/{upload}", func(w http.ResponseWriter, r *http.Request) {
		handleGetUpload(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/uploads/{upload}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteUpload(deps, w, r)
	})
	protected.HandleFunc("GET /v1/uploads/{upload}/profile", func(w http.ResponseWriter, r *http.Request) {
		handleGetProfile(deps, w, r)
	})
	protected.HandleFunc("POST /v1/uploads/{upload}/ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})
	protected.HandleFunc("GET /v1/uploads/{upload}/history", func(w http.ResponseWriter, r *http.Request) {
		handleGetHistory(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/uploads/{upload}/history", func(w http.ResponseWriter, r *http.Request) {
		handleClearHistory(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/uploads", protectedHandler)
	mux.Handle("GET /v1/uploads", protectedHandler)
	mux.Handle("GET /v1/uploads/{upload}", protectedHandler)
	mux.Handle("DELETE /v1/uploads/{upload}", protectedHandler)
	mux.Handle("GET /v1/uploads/{upload}/profile", protectedHandler)
	mux.Handle("POST /v1/uploads/{upload}/ask", protectedHandler)
	mux.Handle("GET /v1/uploads/{upload}/history", protectedHandler)
	mux.Handle("DELETE /v1/uploads/{upload}/history", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckCatalogDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Catalog.DSN == "" {
			return errors.New("catalog dsn is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func tenantFromRequest(r *http.Request) (string, error) {
	tenant := auth.ResolveTenant(r)
	if tenant == "" {
		return "", errors.New("tenant could not be resolved from API key or X-Tenant-ID header")
	}
	return tenant, nil
}

// requireRole enforces a role only when an identity is present; with auth
// disabled there is nothing to check against.
func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if !identity.HasRole(role) {
		return fmt.Errorf("role %s is required", role)
	}
	return nil
}

func sessionKey(tenantID, uploadID string) string {
	return tenantID + "/" + uploadID
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
