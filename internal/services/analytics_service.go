package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/visite/visite-admin/internal/models"
)

// SubmissionLogReader is the read side of the audit trail
type SubmissionLogReader interface {
	ListLogs(ctx context.Context, formUUID string, limit, offset int) ([]models.SubmissionLog, error)
	Summary(ctx context.Context) (*models.SubmissionSummary, error)
	PurgeLogs(ctx context.Context, cutoff time.Time) (int, error)
}

// AnalyticsService reports on past submission attempts
type AnalyticsService struct {
	logs   SubmissionLogReader
	logger zerolog.Logger
}

func NewAnalyticsService(logs SubmissionLogReader, logger zerolog.Logger) *AnalyticsService {
	return &AnalyticsService{
		logs:   logs,
		logger: logger.With().Str("service", "analytics").Logger(),
	}
}

func (as *AnalyticsService) GetSubmissionSummary(ctx context.Context) (*models.SubmissionSummary, error) {
	return as.logs.Summary(ctx)
}

func (as *AnalyticsService) GetSubmissions(ctx context.Context, formUUID string, limit, offset int) ([]models.SubmissionLog, error) {
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return as.logs.ListLogs(ctx, formUUID, limit, offset)
}

// CleanupOldSubmissions drops audit rows older than daysThreshold days
func (as *AnalyticsService) CleanupOldSubmissions(ctx context.Context, daysThreshold int) (int, error) {
	if daysThreshold < 1 {
		return 0, invalidField("older_than_days", "must be at least 1")
	}
	cutoff := time.Now().UTC().Add(-time.Duration(daysThreshold) * 24 * time.Hour)

	n, err := as.logs.PurgeLogs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup submission logs: %w", err)
	}

	as.logger.Info().Int("deleted", n).Int("days", daysThreshold).Msg("cleaned up old submission logs")
	return n, nil
}
