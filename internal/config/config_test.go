package config

import (
	"log/slog"
	"testing"
	"time"
)

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("sheetwise-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Normalize.NumericPromotionRatio != 0.50 {
		t.Fatalf("NumericPromotionRatio = %v", cfg.Normalize.NumericPromotionRatio)
	}
	if cfg.Normalize.DateHintedRatio != 0.70 || cfg.Normalize.DateUnhintedRatio != 0.95 {
		t.Fatalf("date ratios = %v / %v", cfg.Normalize.DateHintedRatio, cfg.Normalize.DateUnhintedRatio)
	}
	if cfg.Normalize.HeaderScanRows != 5 || cfg.Normalize.TypeSampleLimit != 100 {
		t.Fatalf("header scan / sample = %d / %d", cfg.Normalize.HeaderScanRows, cfg.Normalize.TypeSampleLimit)
	}
	if cfg.Query.Timeout != 90*time.Second {
		t.Fatalf("Query.Timeout = %v", cfg.Query.Timeout)
	}
	if cfg.Query.DefaultRowLimit != 1000 || cfg.Query.HistoryLimit != 10 {
		t.Fatalf("row limit / history = %d / %d", cfg.Query.DefaultRowLimit, cfg.Query.HistoryLimit)
	}
	if cfg.Retention.Enabled {
		t.Fatal("Retention.Enabled should default to false")
	}
	if cfg.AI.TranslateEnabled {
		t.Fatal("AI.TranslateEnabled should default to false")
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"SHEETWISE_PROFILE": "prod"})
	cfg, err := Load("sheetwise-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"SHEETWISE_HTTP_ADDR":                         ":9999",
		"SHEETWISE_QUERY_TIMEOUT":                     "45s",
		"SHEETWISE_NORMALIZE_NUMERIC_PROMOTION_RATIO": "0.6",
		"SHEETWISE_QUERY_HISTORY_LIMIT":               "25",
		"SHEETWISE_AUTH_REQUIRED":                     "true",
		"SHEETWISE_AUTH_STATIC_KEYS":                  "k1:t1:query_reader",
	})
	cfg, err := Load("sheetwise-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Query.Timeout != 45*time.Second {
		t.Fatalf("Query.Timeout = %v", cfg.Query.Timeout)
	}
	if cfg.Normalize.NumericPromotionRatio != 0.6 {
		t.Fatalf("NumericPromotionRatio = %v", cfg.Normalize.NumericPromotionRatio)
	}
	if cfg.Query.HistoryLimit != 25 {
		t.Fatalf("HistoryLimit = %d", cfg.Query.HistoryLimit)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys == "" {
		t.Fatalf("auth config not applied: %+v", cfg.Auth)
	}
}

func TestLoadRejectsInvalidProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{"SHEETWISE_PROFILE": "staging"})
	if _, err := Load("sheetwise-api", lookup); err == nil {
		t.Fatal("expected error for invalid profile")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	lookup := mapLookup(map[string]string{"SHEETWISE_QUERY_TIMEOUT": "ninety"})
	if _, err := Load("sheetwise-api", lookup); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestLoadRequiresMaxAgeWhenRetentionEnabled(t *testing.T) {
	lookup := mapLookup(map[string]string{"SHEETWISE_RETENTION_ENABLED": "true"})
	if _, err := Load("sheetwise-api", lookup); err == nil {
		t.Fatal("expected error when retention enabled without max age")
	}
}
