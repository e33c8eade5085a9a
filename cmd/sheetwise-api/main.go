package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sheetwise/sheetwise/internal/api"
	"github.com/sheetwise/sheetwise/internal/auth"
	catalogpostgres "github.com/sheetwise/sheetwise/internal/catalog/postgres"
	"github.com/sheetwise/sheetwise/internal/config"
	duckengine "github.com/sheetwise/sheetwise/internal/exec/duck"
	exprengine "github.com/sheetwise/sheetwise/internal/exec/expr"
	"github.com/sheetwise/sheetwise/internal/maintenance"
	"github.com/sheetwise/sheetwise/internal/normalize"
	"github.com/sheetwise/sheetwise/internal/observability"
	"github.com/sheetwise/sheetwise/internal/session"
	s3store "github.com/sheetwise/sheetwise/internal/storage/s3"
	"github.com/sheetwise/sheetwise/internal/translate"
	"github.com/sheetwise/sheetwise/internal/upload"
)

func main() {
	cfg, err := config.LoadFromEnv("sheetwise-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	catalogDB, err := catalogpostgres.Open(context.Background(), catalogpostgres.DBConfig{
		DSN:             cfg.Catalog.DSN,
		MaxOpenConns:    cfg.Catalog.MaxOpenConns,
		MaxIdleConns:    cfg.Catalog.MaxIdleConns,
		ConnMaxIdleTime: cfg.Catalog.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Catalog.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open catalog db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = catalogDB.Close() }()

	catalogRepo := catalogpostgres.NewRepository(catalogDB)
	objectStore, err := s3store.New(context.Background(), s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	uploads := upload.NewService(logger, catalogRepo, objectStore, normalize.Options{
		HeaderScanRows:        cfg.Normalize.HeaderScanRows,
		TypeSampleLimit:       cfg.Normalize.TypeSampleLimit,
		NumericPromotionRatio: cfg.Normalize.NumericPromotionRatio,
		DateHintedRatio:       cfg.Normalize.DateHintedRatio,
		DateUnhintedRatio:     cfg.Normalize.DateUnhintedRatio,
		LowConfidenceRatio:    cfg.Normalize.LowConfidenceRatio,
	})

	var translator translate.Translator
	if cfg.AI.TranslateEnabled {
		translator, err = translate.NewOpenAITranslator(translate.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize question translator", slog.Any("error", err))
			os.Exit(1)
		}
	}

	deps := api.Dependencies{
		Logger:     logger,
		Uploads:    uploads,
		Catalog:    catalogRepo,
		Expr:       exprengine.New(),
		SQL:        duckengine.NewEngine(objectStore),
		Translator: translator,
		Sessions:   session.NewMemoryStore(cfg.Query.HistoryLimit),
		Readiness: api.CombineReadinessChecks(
			catalogRepo.HealthCheck,
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
		QueryTimeout:      cfg.Query.Timeout,
		DefaultRowLimit:   cfg.Query.DefaultRowLimit,
		MaxUploadBytes:    cfg.HTTP.MaxUploadBytes,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Retention.Enabled {
		sweeper := &maintenance.Service{
			Catalog: catalogRepo,
			Deleter: uploads,
			Config: maintenance.Config{
				MaxAge:     cfg.Retention.MaxAge,
				Interval:   cfg.Retention.Interval,
				BatchLimit: cfg.Retention.BatchLimit,
			},
			Logger: logger,
		}
		go func() {
			if err := sweeper.Run(ctx); err != nil {
				logger.Error("retention sweep stopped", slog.Any("error", err))
			}
		}()
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
