package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/breakroom-labs/sentinel/internal/domain"
	"github.com/breakroom-labs/sentinel/internal/observability"
)

var (
	ErrEnvironmentNotFound = errors.New("sandbox environment not found")
	ErrSandboxNotFound     = errors.New("sandbox session not found")
	ErrActiveSessionExists = errors.New("an active sandbox session already exists for this environment")
)

type SandboxRepository interface {
	CreateEnvironment(ctx context.Context, env *domain.SandboxEnvironment) error
	FindEnvironment(ctx context.Context, id uint) (*domain.SandboxEnvironment, error)
	ListEnvironments(ctx context.Context, envType string, activeOnly bool) ([]domain.SandboxEnvironment, error)
	// CreateSession inserts a session only if the user holds no non-terminal
	// session for the environment; the check and the insert share one
	// transaction so concurrent starts cannot both succeed.
	CreateSession(ctx context.Context, s *domain.SandboxSession) error
	FindSession(ctx context.Context, id uint) (*domain.SandboxSession, error)
	// MarkStopped transitions a non-terminal session to stopped. Returns
	// false when the session was already terminal.
	MarkStopped(ctx context.Context, id uint, endedAt time.Time) (bool, error)
	// ExpireOverdue flips non-terminal sessions whose deadline has passed to
	// expired. Called lazily before reads and by the background sweep.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
	ListByUser(ctx context.Context, userID uint, limit int) ([]domain.SandboxSession, error)
}

type GormSandboxRepository struct{ db *gorm.DB }

func NewSandboxRepository(db *gorm.DB) SandboxRepository { return &GormSandboxRepository{db: db} }

func (r *GormSandboxRepository) CreateEnvironment(ctx context.Context, env *domain.SandboxEnvironment) error {
	err := r.db.WithContext(ctx).Create(env).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "sandbox_environment", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "sandbox_environment", "create", "success")
	return nil
}

func (r *GormSandboxRepository) FindEnvironment(ctx context.Context, id uint) (*domain.SandboxEnvironment, error) {
	var env domain.SandboxEnvironment
	err := r.db.WithContext(ctx).First(&env, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "sandbox_environment", "find_by_id", "not_found")
			return nil, ErrEnvironmentNotFound
		}
		observability.RecordRepositoryOperation(ctx, "sandbox_environment", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "sandbox_environment", "find_by_id", "success")
	return &env, nil
}

func (r *GormSandboxRepository) ListEnvironments(ctx context.Context, envType string, activeOnly bool) ([]domain.SandboxEnvironment, error) {
	q := r.db.WithContext(ctx).Model(&domain.SandboxEnvironment{})
	if envType != "" {
		q = q.Where("env_type = ?", envType)
	}
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var envs []domain.SandboxEnvironment
	err := q.Order("id ASC").Find(&envs).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "sandbox_environment", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "sandbox_environment", "list", "success")
	return envs, nil
}

func (r *GormSandboxRepository) CreateSession(ctx context.Context, s *domain.SandboxSession) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		err := tx.Model(&domain.SandboxSession{}).
			Where("environment_id = ? AND user_id = ? AND status IN ? AND expires_at > ?",
				s.EnvironmentID, s.UserID,
				[]string{domain.SandboxStatusStarting, domain.SandboxStatusRunning},
				time.Now()).
			Count(&active).Error
		if err != nil {
			return err
		}
		if active > 0 {
			return ErrActiveSessionExists
		}
		return tx.Create(s).Error
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrActiveSessionExists) {
			outcome = "conflict"
		}
		observability.RecordRepositoryOperation(ctx, "sandbox_session", "create", outcome)
		return err
	}
	observability.RecordRepositoryOperation(ctx, "sandbox_session", "create", "success")
	return nil
}

func (r *GormSandboxRepository) FindSession(ctx context.Context, id uint) (*domain.SandboxSession, error) {
	var s domain.SandboxSession
	err := r.db.WithContext(ctx).First(&s, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "sandbox_session", "find_by_id", "not_found")
			return nil, ErrSandboxNotFound
		}
		observability.RecordRepositoryOperation(ctx, "sandbox_session", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "sandbox_session", "find_by_id", "success")
	return &s, nil
}

func (r *GormSandboxRepository) MarkStopped(ctx context.Context, id uint, endedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.SandboxSession{}).
		Where("id = ? AND status IN ?", id,
			[]string{domain.SandboxStatusStarting, domain.SandboxStatusRunning}).
		Updates(map[string]any{"status": domain.SandboxStatusStopped, "ended_at": endedAt})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "sandbox_session", "mark_stopped", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "sandbox_session", "mark_stopped", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSandboxRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.SandboxSession{}).
		Where("status IN ? AND expires_at <= ?",
			[]string{domain.SandboxStatusStarting, domain.SandboxStatusRunning}, now).
		Updates(map[string]any{"status": domain.SandboxStatusExpired, "ended_at": now})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "sandbox_session", "expire_overdue", "error")
		return 0, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "sandbox_session", "expire_overdue", "success")
	return res.RowsAffected, nil
}

func (r *GormSandboxRepository) ListByUser(ctx context.Context, userID uint, limit int) ([]domain.SandboxSession, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	var sessions []domain.SandboxSession
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "sandbox_session", "list_by_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "sandbox_session", "list_by_user", "success")
	return sessions, nil
}
