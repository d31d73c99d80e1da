package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/breakroom-labs/sentinel/internal/domain"
	"github.com/breakroom-labs/sentinel/internal/observability"
	"github.com/breakroom-labs/sentinel/internal/repository"
)

var ErrInvalidTimeframe = errors.New("invalid metrics timeframe")

// AuditRecorder is the write side of the audit log, consumed by the other
// services so tests can substitute a fake.
type AuditRecorder interface {
	Record(ctx context.Context, e *domain.AuditEvent) error
}

type AuditMetrics struct {
	Timeframe  string                  `json:"timeframe"`
	Total      int64                   `json:"total"`
	ByCategory map[string]int64        `json:"by_category"`
	BySeverity map[string]int64        `json:"by_severity"`
	Trend      []repository.TrendPoint `json:"trend"`
}

type AuditService struct {
	repo   repository.AuditRepository
	logger *slog.Logger
}

func NewAuditService(repo repository.AuditRepository, logger *slog.Logger) *AuditService {
	return &AuditService{repo: repo, logger: logger}
}

// Record persists a security event. Write failures are surfaced to the
// caller; a security-relevant event is never silently dropped.
func (s *AuditService) Record(ctx context.Context, e *domain.AuditEvent) error {
	if e.Severity == "" {
		e.Severity = domain.AuditSeverityInfo
	}
	if e.RiskScore < 0 {
		e.RiskScore = 0
	}
	if e.RiskScore > 100 {
		e.RiskScore = 100
	}
	if err := s.repo.Insert(ctx, e); err != nil {
		observability.RecordAuditWrite(ctx, e.Category, "error")
		s.logger.ErrorContext(ctx, "audit write failed",
			"event_type", e.EventType, "category", e.Category, "error", err)
		return fmt.Errorf("record audit event: %w", err)
	}
	observability.RecordAuditWrite(ctx, e.Category, "success")
	s.logger.InfoContext(ctx, "audit",
		"event_type", e.EventType,
		"category", e.Category,
		"severity", e.Severity,
		"risk_score", e.RiskScore,
		"ip", e.IP,
	)
	return nil
}

func (s *AuditService) Query(ctx context.Context, f repository.AuditFilter, page repository.PageRequest) ([]domain.AuditEvent, int64, error) {
	return s.repo.Query(ctx, f, page)
}

// Metrics aggregates the audit log over a fixed timeframe: 24h buckets
// hourly, 7d and 30d bucket daily.
func (s *AuditService) Metrics(ctx context.Context, timeframe string) (*AuditMetrics, error) {
	var span, bucket time.Duration
	switch timeframe {
	case "24h":
		span, bucket = 24*time.Hour, time.Hour
	case "7d":
		span, bucket = 7*24*time.Hour, 24*time.Hour
	case "30d":
		span, bucket = 30*24*time.Hour, 24*time.Hour
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeframe, timeframe)
	}

	since := time.Now().Add(-span)
	byCategory, bySeverity, err := s.repo.CountsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	trend, err := s.repo.TrendSince(ctx, since, bucket)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, n := range byCategory {
		total += n
	}
	return &AuditMetrics{
		Timeframe:  timeframe,
		Total:      total,
		ByCategory: byCategory,
		BySeverity: bySeverity,
		Trend:      trend,
	}, nil
}
