package service

import (
	"context"
	"errors"
	"time"

	"github.com/breakroom-labs/sentinel/internal/domain"
	"github.com/breakroom-labs/sentinel/internal/repository"
)

type fakeAudit struct {
	events []domain.AuditEvent
	err    error
}

func (f *fakeAudit) Record(_ context.Context, e *domain.AuditEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeAudit) lastType() string {
	if len(f.events) == 0 {
		return ""
	}
	return f.events[len(f.events)-1].EventType
}

type fakeSessionRepo struct {
	records map[string]*domain.SessionRecord
	nextID  uint
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{records: make(map[string]*domain.SessionRecord)}
}

func (r *fakeSessionRepo) Create(_ context.Context, s *domain.SessionRecord) error {
	r.nextID++
	s.ID = r.nextID
	s.CreatedAt = time.Now()
	cp := *s
	r.records[s.TokenID] = &cp
	return nil
}

func (r *fakeSessionRepo) FindByTokenID(_ context.Context, tokenID string) (*domain.SessionRecord, error) {
	rec, ok := r.records[tokenID]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeSessionRepo) RevokeByTokenID(_ context.Context, tokenID, reason string) (bool, error) {
	rec, ok := r.records[tokenID]
	if !ok || rec.RevokedAt != nil {
		return false, nil
	}
	now := time.Now()
	rec.RevokedAt = &now
	rec.RevokedReason = &reason
	return true, nil
}

func (r *fakeSessionRepo) ListActiveByUserID(_ context.Context, userID uint) ([]domain.SessionRecord, error) {
	var out []domain.SessionRecord
	now := time.Now()
	for _, rec := range r.records {
		if rec.UserID == userID && rec.RevokedAt == nil && rec.ExpiresAt.After(now) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) CleanupExpired(_ context.Context) (int64, error) {
	var removed int64
	now := time.Now()
	for id, rec := range r.records {
		if rec.ExpiresAt.Before(now) {
			delete(r.records, id)
			removed++
		}
	}
	return removed, nil
}

type fakeMFARepo struct {
	enrollment *domain.MFAEnrollment
	codes      []domain.BackupCode
	nextCodeID uint
}

func (r *fakeMFARepo) ReplacePending(_ context.Context, e *domain.MFAEnrollment, hashes []string) error {
	cp := *e
	r.enrollment = &cp
	r.codes = nil
	for _, h := range hashes {
		r.nextCodeID++
		r.codes = append(r.codes, domain.BackupCode{ID: r.nextCodeID, UserID: e.UserID, CodeHash: h})
	}
	return nil
}

func (r *fakeMFARepo) FindByUserID(_ context.Context, userID uint) (*domain.MFAEnrollment, error) {
	if r.enrollment == nil || r.enrollment.UserID != userID {
		return nil, repository.ErrEnrollmentNotFound
	}
	cp := *r.enrollment
	return &cp, nil
}

func (r *fakeMFARepo) Enable(_ context.Context, userID uint, at time.Time) error {
	if r.enrollment == nil || r.enrollment.UserID != userID {
		return repository.ErrEnrollmentNotFound
	}
	r.enrollment.Enabled = true
	r.enrollment.LastVerifiedAt = &at
	return nil
}

func (r *fakeMFARepo) TouchVerified(_ context.Context, userID uint, at time.Time) error {
	if r.enrollment != nil && r.enrollment.UserID == userID {
		r.enrollment.LastVerifiedAt = &at
	}
	return nil
}

func (r *fakeMFARepo) Delete(_ context.Context, userID uint) error {
	if r.enrollment != nil && r.enrollment.UserID == userID {
		r.enrollment = nil
		r.codes = nil
	}
	return nil
}

func (r *fakeMFARepo) ReplaceBackupCodes(_ context.Context, userID uint, hashes []string) error {
	r.codes = nil
	for _, h := range hashes {
		r.nextCodeID++
		r.codes = append(r.codes, domain.BackupCode{ID: r.nextCodeID, UserID: userID, CodeHash: h})
	}
	return nil
}

func (r *fakeMFARepo) ListUnusedBackupCodes(_ context.Context, userID uint) ([]domain.BackupCode, error) {
	var out []domain.BackupCode
	for _, c := range r.codes {
		if c.UserID == userID && !c.Used {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeMFARepo) CountUnusedBackupCodes(_ context.Context, userID uint) (int64, error) {
	codes, _ := r.ListUnusedBackupCodes(context.Background(), userID)
	return int64(len(codes)), nil
}

func (r *fakeMFARepo) ConsumeBackupCode(_ context.Context, codeID uint, at time.Time) (bool, error) {
	for i := range r.codes {
		if r.codes[i].ID == codeID && !r.codes[i].Used {
			r.codes[i].Used = true
			r.codes[i].UsedAt = &at
			return true, nil
		}
	}
	return false, nil
}

type fakeChallengeRepo struct {
	challenges map[uint]*domain.Challenge
	nextID     uint
	attempts   []domain.ChallengeAttempt
	solves     map[[2]uint]uint
	recordErr  error
}

func newFakeChallengeRepo() *fakeChallengeRepo {
	return &fakeChallengeRepo{
		challenges: make(map[uint]*domain.Challenge),
		solves:     make(map[[2]uint]uint),
	}
}

func (r *fakeChallengeRepo) Create(_ context.Context, c *domain.Challenge) error {
	r.nextID++
	c.ID = r.nextID
	cp := *c
	r.challenges[c.ID] = &cp
	return nil
}

func (r *fakeChallengeRepo) FindByID(_ context.Context, id uint) (*domain.Challenge, error) {
	c, ok := r.challenges[id]
	if !ok {
		return nil, repository.ErrChallengeNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeChallengeRepo) List(_ context.Context, f repository.ChallengeFilter) ([]domain.Challenge, error) {
	var out []domain.Challenge
	for _, c := range r.challenges {
		if f.ActiveOnly && !c.Active {
			continue
		}
		if f.Category != "" && c.Category != f.Category {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (r *fakeChallengeRepo) SolvedChallengeIDs(_ context.Context, userID uint) (map[uint]bool, error) {
	out := make(map[uint]bool)
	for key := range r.solves {
		if key[1] == userID {
			out[key[0]] = true
		}
	}
	return out, nil
}

func (r *fakeChallengeRepo) RecordAttempt(_ context.Context, ch *domain.Challenge, attempt *domain.ChallengeAttempt) (*repository.AttemptOutcome, error) {
	if r.recordErr != nil {
		return nil, r.recordErr
	}
	r.attempts = append(r.attempts, *attempt)
	outcome := &repository.AttemptOutcome{Attempt: attempt}
	key := [2]uint{ch.ID, attempt.UserID}
	if attempt.Correct {
		if _, solved := r.solves[key]; !solved {
			r.solves[key] = ch.Points
			outcome.Awarded = true
			outcome.Points = ch.Points
		}
	}
	return outcome, nil
}

func (r *fakeChallengeRepo) UserStats(_ context.Context, userID uint) (*repository.UserChallengeStats, error) {
	stats := &repository.UserChallengeStats{UserID: userID}
	for _, a := range r.attempts {
		if a.UserID != userID {
			continue
		}
		stats.Attempts++
		if a.Correct {
			stats.Correct++
		}
	}
	for key, points := range r.solves {
		if key[1] == userID {
			stats.Solved++
			stats.TotalPoints += points
		}
	}
	return stats, nil
}

func (r *fakeChallengeRepo) Leaderboard(_ context.Context, _ int) ([]repository.LeaderboardEntry, error) {
	return nil, nil
}

type fakeSandboxRepo struct {
	envs        map[uint]*domain.SandboxEnvironment
	sessions    map[uint]*domain.SandboxSession
	nextID      uint
	expireCalls int
}

func newFakeSandboxRepo() *fakeSandboxRepo {
	return &fakeSandboxRepo{
		envs:     make(map[uint]*domain.SandboxEnvironment),
		sessions: make(map[uint]*domain.SandboxSession),
	}
}

func (r *fakeSandboxRepo) CreateEnvironment(_ context.Context, env *domain.SandboxEnvironment) error {
	r.nextID++
	env.ID = r.nextID
	cp := *env
	r.envs[env.ID] = &cp
	return nil
}

func (r *fakeSandboxRepo) FindEnvironment(_ context.Context, id uint) (*domain.SandboxEnvironment, error) {
	env, ok := r.envs[id]
	if !ok {
		return nil, repository.ErrEnvironmentNotFound
	}
	cp := *env
	return &cp, nil
}

func (r *fakeSandboxRepo) ListEnvironments(_ context.Context, envType string, activeOnly bool) ([]domain.SandboxEnvironment, error) {
	var out []domain.SandboxEnvironment
	for _, env := range r.envs {
		if activeOnly && !env.Active {
			continue
		}
		if envType != "" && env.EnvType != envType {
			continue
		}
		out = append(out, *env)
	}
	return out, nil
}

func (r *fakeSandboxRepo) CreateSession(_ context.Context, s *domain.SandboxSession) error {
	for _, existing := range r.sessions {
		if existing.EnvironmentID == s.EnvironmentID && existing.UserID == s.UserID &&
			!existing.Terminal() && existing.ExpiresAt.After(time.Now()) {
			return repository.ErrActiveSessionExists
		}
	}
	r.nextID++
	s.ID = r.nextID
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *fakeSandboxRepo) FindSession(_ context.Context, id uint) (*domain.SandboxSession, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, repository.ErrSandboxNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSandboxRepo) MarkStopped(_ context.Context, id uint, endedAt time.Time) (bool, error) {
	s, ok := r.sessions[id]
	if !ok || s.Terminal() {
		return false, nil
	}
	s.Status = domain.SandboxStatusStopped
	s.EndedAt = &endedAt
	return true, nil
}

func (r *fakeSandboxRepo) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	r.expireCalls++
	var n int64
	for _, s := range r.sessions {
		if !s.Terminal() && !s.ExpiresAt.After(now) {
			s.Status = domain.SandboxStatusExpired
			s.EndedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *fakeSandboxRepo) ListByUser(_ context.Context, userID uint, _ int) ([]domain.SandboxSession, error) {
	var out []domain.SandboxSession
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

var errStoreDown = errors.New("store down")
