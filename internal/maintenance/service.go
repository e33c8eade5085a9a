// Package maintenance runs the optional upload retention sweep: uploads older
// than the configured age are deleted, catalog rows and objects alike.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sheetwise/sheetwise/internal/catalog"
)

// Catalog is the slice of the repository the sweeper needs.
type Catalog interface {
	ListExpiredUploads(ctx context.Context, olderThan time.Time, limit int) ([]catalog.Upload, error)
}

// Deleter removes one upload end to end. The upload service satisfies it.
type Deleter interface {
	Delete(ctx context.Context, tenantID, uploadID string) error
}

type Config struct {
	MaxAge     time.Duration
	Interval   time.Duration
	BatchLimit int
}

type Service struct {
	Catalog Catalog
	Deleter Deleter
	Config  Config
	Logger  *slog.Logger
	Clock   func() time.Time
}

type SweepSummary struct {
	Scanned  int `json:"scanned"`
	Deleted  int `json:"deleted"`
	Failures int `json:"failures"`
}

// Run sweeps on a ticker until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()
	if s.Config.MaxAge <= 0 {
		return fmt.Errorf("retention max age is required")
	}

	ticker := time.NewTicker(s.Config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			summary, err := s.RunSweepOnce(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "retention sweep failed", slog.Any("error", err), slog.Any("summary", summary))
				}
				continue
			}
			if s.Logger != nil && (summary.Scanned > 0 || summary.Failures > 0) {
				s.Logger.InfoContext(ctx, "retention sweep completed", slog.Any("summary", summary))
			}
		}
	}
}

// RunSweepOnce deletes one batch of expired uploads. Per-upload failures are
// counted and logged, not fatal, so one stuck upload cannot wedge the sweep.
func (s *Service) RunSweepOnce(ctx context.Context) (SweepSummary, error) {
	s.ensureDefaults()
	if s.Catalog == nil || s.Deleter == nil {
		return SweepSummary{}, fmt.Errorf("catalog and deleter are required")
	}
	if s.Config.MaxAge <= 0 {
		return SweepSummary{}, fmt.Errorf("retention max age is required")
	}

	cutoff := s.Clock().Add(-s.Config.MaxAge)
	expired, err := s.Catalog.ListExpiredUploads(ctx, cutoff, s.Config.BatchLimit)
	if err != nil {
		return SweepSummary{}, fmt.Errorf("list expired uploads: %w", err)
	}

	summary := SweepSummary{Scanned: len(expired)}
	for _, row := range expired {
		if err := s.Deleter.Delete(ctx, row.TenantID, row.UploadID); err != nil {
			summary.Failures++
			if s.Logger != nil {
				s.Logger.WarnContext(ctx, "delete expired upload",
					slog.String("tenant_id", row.TenantID),
					slog.String("upload_id", row.UploadID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		summary.Deleted++
	}
	return summary, nil
}

func (s *Service) ensureDefaults() {
	if s.Config.Interval <= 0 {
		s.Config.Interval = 10 * time.Minute
	}
	if s.Config.BatchLimit <= 0 {
		s.Config.BatchLimit = 50
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
}
