package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/breakroom-labs/sentinel/internal/domain"
	"github.com/breakroom-labs/sentinel/internal/repository"
)

type fakeAuditRepo struct {
	inserted   []domain.AuditEvent
	insertErr  error
	lastSince  time.Time
	lastBucket time.Duration
}

func (r *fakeAuditRepo) Insert(_ context.Context, e *domain.AuditEvent) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.inserted = append(r.inserted, *e)
	return nil
}

func (r *fakeAuditRepo) Query(_ context.Context, _ repository.AuditFilter, _ repository.PageRequest) ([]domain.AuditEvent, int64, error) {
	return r.inserted, int64(len(r.inserted)), nil
}

func (r *fakeAuditRepo) CountsSince(_ context.Context, since time.Time) (map[string]int64, map[string]int64, error) {
	r.lastSince = since
	return map[string]int64{domain.AuditCategoryAuthentication: 3, domain.AuditCategoryMFA: 2},
		map[string]int64{domain.AuditSeverityInfo: 4, domain.AuditSeverityWarning: 1}, nil
}

func (r *fakeAuditRepo) TrendSince(_ context.Context, _ time.Time, bucket time.Duration) ([]repository.TrendPoint, error) {
	r.lastBucket = bucket
	return []repository.TrendPoint{{Bucket: time.Now().Truncate(bucket), Count: 5}}, nil
}

func newTestAuditService(repo *fakeAuditRepo) *AuditService {
	return NewAuditService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecordDefaultsAndClamps(t *testing.T) {
	ctx := context.Background()
	repo := &fakeAuditRepo{}
	svc := newTestAuditService(repo)

	if err := svc.Record(ctx, &domain.AuditEvent{
		EventType: "login_failed",
		Category:  domain.AuditCategoryAuthentication,
		RiskScore: 150,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := svc.Record(ctx, &domain.AuditEvent{
		EventType: "login_success",
		Category:  domain.AuditCategoryAuthentication,
		RiskScore: -5,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	if repo.inserted[0].Severity != domain.AuditSeverityInfo {
		t.Fatalf("expected default info severity, got %q", repo.inserted[0].Severity)
	}
	if repo.inserted[0].RiskScore != 100 || repo.inserted[1].RiskScore != 0 {
		t.Fatalf("expected clamped risk scores, got %d and %d",
			repo.inserted[0].RiskScore, repo.inserted[1].RiskScore)
	}
}

func TestRecordSurfacesStoreError(t *testing.T) {
	ctx := context.Background()
	repo := &fakeAuditRepo{insertErr: errStoreDown}
	svc := newTestAuditService(repo)

	err := svc.Record(ctx, &domain.AuditEvent{EventType: "login_failed"})
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected store error surfaced, got %v", err)
	}
}

func TestMetricsTimeframes(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		timeframe  string
		wantBucket time.Duration
		maxAge     time.Duration
	}{
		{"24h", time.Hour, 24 * time.Hour},
		{"7d", 24 * time.Hour, 7 * 24 * time.Hour},
		{"30d", 24 * time.Hour, 30 * 24 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.timeframe, func(t *testing.T) {
			repo := &fakeAuditRepo{}
			svc := newTestAuditService(repo)

			m, err := svc.Metrics(ctx, tc.timeframe)
			if err != nil {
				t.Fatalf("metrics: %v", err)
			}
			if repo.lastBucket != tc.wantBucket {
				t.Fatalf("expected %s bucket, got %s", tc.wantBucket, repo.lastBucket)
			}
			age := time.Since(repo.lastSince)
			if age < tc.maxAge-time.Minute || age > tc.maxAge+time.Minute {
				t.Fatalf("unexpected since for %s: %s ago", tc.timeframe, age)
			}
			if m.Total != 5 {
				t.Fatalf("expected total 5 from category counts, got %d", m.Total)
			}
			if len(m.Trend) != 1 {
				t.Fatalf("expected trend points, got %+v", m.Trend)
			}
		})
	}
}

func TestMetricsRejectsUnknownTimeframe(t *testing.T) {
	svc := newTestAuditService(&fakeAuditRepo{})
	if _, err := svc.Metrics(context.Background(), "90d"); !errors.Is(err, ErrInvalidTimeframe) {
		t.Fatalf("expected ErrInvalidTimeframe, got %v", err)
	}
}
