package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/breakroom-labs/sentinel/internal/domain"
	"github.com/breakroom-labs/sentinel/internal/observability"
	"github.com/breakroom-labs/sentinel/internal/ratelimit"
	"github.com/breakroom-labs/sentinel/internal/repository"
)

var (
	ErrEnvironmentInactive = errors.New("sandbox environment is not active")
	ErrNotSessionOwner     = errors.New("sandbox session belongs to another user")
	ErrInvalidEnvironment  = errors.New("invalid environment definition")
)

// RateLimitError carries back-off guidance for a throttled caller.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return "rate limit exceeded" }

type CreateEnvironmentInput struct {
	Name              string `json:"name"`
	EnvType           string `json:"env_type"`
	TargetServices    string `json:"target_services"`
	AllowedTools      string `json:"allowed_tools"`
	RestrictionPolicy string `json:"restriction_policy"`
	MaxSessionSecs    int    `json:"max_session_secs"`
}

type SandboxService struct {
	repo    repository.SandboxRepository
	audit   AuditRecorder
	limiter ratelimit.Limiter
	class   ratelimit.Class
}

func NewSandboxService(repo repository.SandboxRepository, audit AuditRecorder, limiter ratelimit.Limiter, class ratelimit.Class) *SandboxService {
	return &SandboxService{repo: repo, audit: audit, limiter: limiter, class: class}
}

func (s *SandboxService) ListEnvironments(ctx context.Context, envType string) ([]domain.SandboxEnvironment, error) {
	return s.repo.ListEnvironments(ctx, envType, true)
}

func (s *SandboxService) CreateEnvironment(ctx context.Context, in CreateEnvironmentInput, creatorID uint) (*domain.SandboxEnvironment, error) {
	switch {
	case in.Name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidEnvironment)
	case in.EnvType == "":
		return nil, fmt.Errorf("%w: env_type is required", ErrInvalidEnvironment)
	case in.MaxSessionSecs < 0:
		return nil, fmt.Errorf("%w: max_session_secs must not be negative", ErrInvalidEnvironment)
	}
	if in.MaxSessionSecs == 0 {
		in.MaxSessionSecs = 3600
	}

	env := &domain.SandboxEnvironment{
		Name:              in.Name,
		EnvType:           in.EnvType,
		TargetServices:    in.TargetServices,
		AllowedTools:      in.AllowedTools,
		RestrictionPolicy: in.RestrictionPolicy,
		MaxSessionSecs:    in.MaxSessionSecs,
		Active:            true,
		CreatedBy:         creatorID,
	}
	if err := s.repo.CreateEnvironment(ctx, env); err != nil {
		return nil, err
	}
	if err := s.audit.Record(ctx, &domain.AuditEvent{
		UserID:    &creatorID,
		EventType: "sandbox_environment_created",
		Category:  domain.AuditCategoryAdmin,
		Severity:  domain.AuditSeverityInfo,
		RiskScore: 10,
		Detail:    fmt.Sprintf("environment_id=%d name=%q", env.ID, env.Name),
	}); err != nil {
		return nil, err
	}
	return env, nil
}

// StartSession begins a time-bounded hold on an environment. Rate-limited
// per user; at most one non-terminal session per user and environment.
func (s *SandboxService) StartSession(ctx context.Context, identity domain.Identity, envID uint, ua, ip string) (*domain.SandboxSession, error) {
	key := strconv.FormatUint(uint64(identity.UserID), 10)
	allowed, err := s.limiter.Allow(ctx, key, s.class)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		observability.RecordRateLimitDecision(ctx, s.class.Name, "deny")
		retry, _ := s.limiter.RemainingTime(ctx, key, s.class)
		return nil, &RateLimitError{RetryAfter: retry}
	}
	observability.RecordRateLimitDecision(ctx, s.class.Name, "allow")

	env, err := s.repo.FindEnvironment(ctx, envID)
	if err != nil {
		return nil, err
	}
	if !env.Active {
		return nil, ErrEnvironmentInactive
	}

	now := time.Now().UTC()
	session := &domain.SandboxSession{
		EnvironmentID:  env.ID,
		UserID:         identity.UserID,
		Status:         domain.SandboxStatusRunning,
		StartedAt:      now,
		ExpiresAt:      now.Add(time.Duration(env.MaxSessionSecs) * time.Second),
		ConnectionInfo: uuid.NewString(),
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	observability.RecordSandboxTransition(ctx, "running")
	if err := s.audit.Record(ctx, &domain.AuditEvent{
		UserID:    &identity.UserID,
		EventType: "sandbox_started",
		Category:  domain.AuditCategorySandbox,
		Severity:  domain.AuditSeverityInfo,
		RiskScore: 20,
		IP:        ip,
		UserAgent: ua,
		Detail:    fmt.Sprintf("environment_id=%d session_id=%d", env.ID, session.ID),
	}); err != nil {
		return nil, err
	}
	return session, nil
}

// StopSession moves a session to its terminal stopped state. Stopping an
// already-terminal session is a successful no-op.
func (s *SandboxService) StopSession(ctx context.Context, identity domain.Identity, sessionID uint, ip string) error {
	session, err := s.repo.FindSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != identity.UserID && !identity.IsAdmin {
		return ErrNotSessionOwner
	}
	if session.Terminal() {
		return nil
	}

	changed, err := s.repo.MarkStopped(ctx, session.ID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	observability.RecordSandboxTransition(ctx, "stopped")
	return s.audit.Record(ctx, &domain.AuditEvent{
		UserID:    &identity.UserID,
		EventType: "sandbox_stopped",
		Category:  domain.AuditCategorySandbox,
		Severity:  domain.AuditSeverityInfo,
		RiskScore: 10,
		IP:        ip,
		Detail:    fmt.Sprintf("session_id=%d", session.ID),
	})
}

// UserHistory lists a user's sessions newest-first. Overdue sessions are
// lazily flipped to expired before the read so callers never see a running
// session past its deadline.
func (s *SandboxService) UserHistory(ctx context.Context, userID uint, limit int) ([]domain.SandboxSession, error) {
	if _, err := s.repo.ExpireOverdue(ctx, time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

// ExpireOverdue is the background sweep entry point.
func (s *SandboxService) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireOverdue(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		observability.RecordSandboxTransition(ctx, "expired")
	}
	return n, nil
}
