package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/breakroom-labs/sentinel/internal/domain"
	"github.com/breakroom-labs/sentinel/internal/observability"
)

// AuditFilter combines with AND semantics; zero values mean "no constraint".
type AuditFilter struct {
	UserID    *uint
	EventType string
	Category  string
	Severity  string
	MinRisk   *int
	From      *time.Time
	To        *time.Time
}

// TrendPoint is one bucket of the audit event trend.
type TrendPoint struct {
	Bucket time.Time `json:"bucket"`
	Count  int64     `json:"count"`
}

type AuditRepository interface {
	Insert(ctx context.Context, e *domain.AuditEvent) error
	Query(ctx context.Context, f AuditFilter, page PageRequest) ([]domain.AuditEvent, int64, error)
	CountsSince(ctx context.Context, since time.Time) (byCategory, bySeverity map[string]int64, err error)
	TrendSince(ctx context.Context, since time.Time, bucket time.Duration) ([]TrendPoint, error)
}

type GormAuditRepository struct{ db *gorm.DB }

func NewAuditRepository(db *gorm.DB) AuditRepository { return &GormAuditRepository{db: db} }

func (r *GormAuditRepository) Insert(ctx context.Context, e *domain.AuditEvent) error {
	err := r.db.WithContext(ctx).Create(e).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_event", "insert", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "audit_event", "insert", "success")
	return nil
}

func (r *GormAuditRepository) Query(ctx context.Context, f AuditFilter, page PageRequest) ([]domain.AuditEvent, int64, error) {
	page = normalizePageRequest(page)
	q := r.applyFilter(r.db.WithContext(ctx).Model(&domain.AuditEvent{}), f)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_event", "query", "error")
		return nil, 0, err
	}

	var events []domain.AuditEvent
	err := q.Order("created_at DESC, id DESC").
		Offset(page.Offset).
		Limit(page.Limit).
		Find(&events).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_event", "query", "error")
		return nil, 0, err
	}
	observability.RecordRepositoryOperation(ctx, "audit_event", "query", "success")
	return events, total, nil
}

func (r *GormAuditRepository) CountsSince(ctx context.Context, since time.Time) (map[string]int64, map[string]int64, error) {
	type row struct {
		Key   string
		Count int64
	}

	byCategory := make(map[string]int64)
	var categoryRows []row
	err := r.db.WithContext(ctx).Model(&domain.AuditEvent{}).
		Select("category AS key, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("category").
		Scan(&categoryRows).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_event", "counts_since", "error")
		return nil, nil, err
	}
	for _, cr := range categoryRows {
		byCategory[cr.Key] = cr.Count
	}

	bySeverity := make(map[string]int64)
	var severityRows []row
	err = r.db.WithContext(ctx).Model(&domain.AuditEvent{}).
		Select("severity AS key, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("severity").
		Scan(&severityRows).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_event", "counts_since", "error")
		return nil, nil, err
	}
	for _, sr := range severityRows {
		bySeverity[sr.Key] = sr.Count
	}

	observability.RecordRepositoryOperation(ctx, "audit_event", "counts_since", "success")
	return byCategory, bySeverity, nil
}

// TrendSince buckets event timestamps in Go rather than SQL so the query
// stays portable across sqlite and postgres.
func (r *GormAuditRepository) TrendSince(ctx context.Context, since time.Time, bucket time.Duration) ([]TrendPoint, error) {
	var stamps []time.Time
	err := r.db.WithContext(ctx).Model(&domain.AuditEvent{}).
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Pluck("created_at", &stamps).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_event", "trend_since", "error")
		return nil, err
	}

	counts := make(map[int64]int64)
	for _, ts := range stamps {
		counts[ts.UTC().Truncate(bucket).Unix()]++
	}
	points := make([]TrendPoint, 0, len(counts))
	for start := since.UTC().Truncate(bucket); !start.After(time.Now()); start = start.Add(bucket) {
		points = append(points, TrendPoint{Bucket: start, Count: counts[start.Unix()]})
	}

	observability.RecordRepositoryOperation(ctx, "audit_event", "trend_since", "success")
	return points, nil
}

func (r *GormAuditRepository) applyFilter(q *gorm.DB, f AuditFilter) *gorm.DB {
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.MinRisk != nil {
		q = q.Where("risk_score >= ?", *f.MinRisk)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}
	return q
}
