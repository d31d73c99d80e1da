package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/breakroom-labs/sentinel/internal/domain"
	"github.com/breakroom-labs/sentinel/internal/observability"
	"github.com/breakroom-labs/sentinel/internal/repository"
	"github.com/breakroom-labs/sentinel/internal/security"
)

var (
	ErrChallengeInactive = errors.New("challenge is not active")
	ErrInvalidChallenge  = errors.New("invalid challenge definition")
)

// ChallengeView is a challenge as shown to players: the flag digest is never
// serialized and a per-user solved marker is attached.
type ChallengeView struct {
	domain.Challenge
	Solved bool `json:"solved"`
}

type CreateChallengeInput struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	Difficulty    string `json:"difficulty"`
	Points        uint   `json:"points"`
	Flag          string `json:"flag"`
	MaxAttempts   int    `json:"max_attempts"`
	TimeLimitSecs int    `json:"time_limit_secs"`
}

type SubmissionResult struct {
	Correct bool `json:"correct"`
	Awarded bool `json:"awarded"`
	Points  uint `json:"points"`
}

type ChallengeService struct {
	repo  repository.ChallengeRepository
	audit AuditRecorder
}

func NewChallengeService(repo repository.ChallengeRepository, audit AuditRecorder) *ChallengeService {
	return &ChallengeService{repo: repo, audit: audit}
}

func (s *ChallengeService) List(ctx context.Context, f repository.ChallengeFilter, userID uint) ([]ChallengeView, error) {
	challenges, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	solved, err := s.repo.SolvedChallengeIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]ChallengeView, 0, len(challenges))
	for _, ch := range challenges {
		views = append(views, ChallengeView{Challenge: ch, Solved: solved[ch.ID]})
	}
	return views, nil
}

func (s *ChallengeService) Get(ctx context.Context, id uint) (*domain.Challenge, error) {
	return s.repo.FindByID(ctx, id)
}

// Create stores a new challenge. The raw flag is hashed immediately and
// never persisted.
func (s *ChallengeService) Create(ctx context.Context, in CreateChallengeInput, creatorID uint) (*domain.Challenge, error) {
	switch {
	case in.Title == "":
		return nil, fmt.Errorf("%w: title is required", ErrInvalidChallenge)
	case in.Category == "":
		return nil, fmt.Errorf("%w: category is required", ErrInvalidChallenge)
	case in.Points == 0:
		return nil, fmt.Errorf("%w: points must be positive", ErrInvalidChallenge)
	case in.Flag == "":
		return nil, fmt.Errorf("%w: flag is required", ErrInvalidChallenge)
	case in.MaxAttempts < 0 || in.TimeLimitSecs < 0:
		return nil, fmt.Errorf("%w: limits must not be negative", ErrInvalidChallenge)
	}

	ch := &domain.Challenge{
		Title:         in.Title,
		Description:   in.Description,
		Category:      in.Category,
		Difficulty:    in.Difficulty,
		Points:        in.Points,
		FlagHash:      security.HashFlag(in.Flag),
		Active:        true,
		MaxAttempts:   in.MaxAttempts,
		TimeLimitSecs: in.TimeLimitSecs,
		CreatedBy:     creatorID,
	}
	if err := s.repo.Create(ctx, ch); err != nil {
		return nil, err
	}
	if err := s.audit.Record(ctx, &domain.AuditEvent{
		UserID:    &creatorID,
		EventType: "challenge_created",
		Category:  domain.AuditCategoryAdmin,
		Severity:  domain.AuditSeverityInfo,
		RiskScore: 10,
		Detail:    fmt.Sprintf("challenge_id=%d title=%q", ch.ID, ch.Title),
	}); err != nil {
		return nil, err
	}
	return ch, nil
}

// Submit scores one flag submission. The comparison is constant-time, the
// attempt is recorded whether or not it is correct, and the first correct
// submission per user awards the points exactly once.
func (s *ChallengeService) Submit(ctx context.Context, identity domain.Identity, challengeID uint, flag, ua, ip string) (*SubmissionResult, error) {
	ch, err := s.repo.FindByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if !ch.Active {
		return nil, ErrChallengeInactive
	}

	correct := security.VerifyFlag(ch.FlagHash, flag)
	attempt := &domain.ChallengeAttempt{
		ChallengeID: ch.ID,
		UserID:      identity.UserID,
		Correct:     correct,
		IP:          ip,
		UserAgent:   ua,
	}
	outcome, err := s.repo.RecordAttempt(ctx, ch, attempt)
	if err != nil {
		return nil, err
	}

	event := &domain.AuditEvent{
		UserID:    &identity.UserID,
		EventType: "challenge_attempt_failed",
		Category:  domain.AuditCategoryChallenge,
		Severity:  domain.AuditSeverityWarning,
		RiskScore: 30,
		IP:        ip,
		UserAgent: ua,
		Detail:    fmt.Sprintf("challenge_id=%d awarded=%t", ch.ID, outcome.Awarded),
	}
	if correct {
		event.EventType = "challenge_solved"
		event.Severity = domain.AuditSeverityInfo
		event.RiskScore = 10
		observability.RecordChallengeSubmission(ctx, "correct")
	} else {
		observability.RecordChallengeSubmission(ctx, "incorrect")
	}
	if err := s.audit.Record(ctx, event); err != nil {
		return nil, err
	}
	return &SubmissionResult{Correct: correct, Awarded: outcome.Awarded, Points: outcome.Points}, nil
}

func (s *ChallengeService) Stats(ctx context.Context, userID uint) (*repository.UserChallengeStats, error) {
	return s.repo.UserStats(ctx, userID)
}

func (s *ChallengeService) Leaderboard(ctx context.Context, limit int) ([]repository.LeaderboardEntry, error) {
	return s.repo.Leaderboard(ctx, limit)
}
