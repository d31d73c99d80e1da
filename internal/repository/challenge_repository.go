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
	ErrChallengeNotFound    = errors.New("challenge not found")
	ErrAttemptLimitReached  = errors.New("challenge attempt limit reached")
	ErrSubmissionWindowOver = errors.New("challenge submission window elapsed")
)

type ChallengeFilter struct {
	Category   string
	Difficulty string
	ActiveOnly bool
}

// AttemptOutcome reports what a submission did to durable state.
type AttemptOutcome struct {
	Attempt *domain.ChallengeAttempt
	// Awarded is true only for the single attempt that scored the challenge
	// for this user.
	Awarded bool
	Points  uint
}

type LeaderboardEntry struct {
	UserID      uint      `json:"user_id"`
	TotalPoints uint      `json:"total_points"`
	Solved      int64     `json:"solved"`
	LastSolveAt time.Time `json:"last_solve_at"`
}

type UserChallengeStats struct {
	UserID      uint  `json:"user_id"`
	TotalPoints uint  `json:"total_points"`
	Solved      int64 `json:"solved"`
	Attempts    int64 `json:"attempts"`
	Correct     int64 `json:"correct"`
}

type ChallengeRepository interface {
	Create(ctx context.Context, c *domain.Challenge) error
	FindByID(ctx context.Context, id uint) (*domain.Challenge, error)
	List(ctx context.Context, f ChallengeFilter) ([]domain.Challenge, error)
	SolvedChallengeIDs(ctx context.Context, userID uint) (map[uint]bool, error)
	// RecordAttempt persists one submission inside a transaction that also
	// enforces the attempt ceiling, the per-user time limit, and
	// exactly-once scoring (unique solve row per user/challenge).
	RecordAttempt(ctx context.Context, ch *domain.Challenge, attempt *domain.ChallengeAttempt) (*AttemptOutcome, error)
	UserStats(ctx context.Context, userID uint) (*UserChallengeStats, error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

type GormChallengeRepository struct{ db *gorm.DB }

func NewChallengeRepository(db *gorm.DB) ChallengeRepository {
	return &GormChallengeRepository{db: db}
}

func (r *GormChallengeRepository) Create(ctx context.Context, c *domain.Challenge) error {
	err := r.db.WithContext(ctx).Create(c).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "challenge", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "challenge", "create", "success")
	return nil
}

func (r *GormChallengeRepository) FindByID(ctx context.Context, id uint) (*domain.Challenge, error) {
	var c domain.Challenge
	err := r.db.WithContext(ctx).First(&c, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "challenge", "find_by_id", "not_found")
			return nil, ErrChallengeNotFound
		}
		observability.RecordRepositoryOperation(ctx, "challenge", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "challenge", "find_by_id", "success")
	return &c, nil
}

func (r *GormChallengeRepository) List(ctx context.Context, f ChallengeFilter) ([]domain.Challenge, error) {
	q := r.db.WithContext(ctx).Model(&domain.Challenge{})
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Difficulty != "" {
		q = q.Where("difficulty = ?", f.Difficulty)
	}
	if f.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	var challenges []domain.Challenge
	err := q.Order("id ASC").Find(&challenges).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "challenge", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "challenge", "list", "success")
	return challenges, nil
}

func (r *GormChallengeRepository) SolvedChallengeIDs(ctx context.Context, userID uint) (map[uint]bool, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&domain.ChallengeSolve{}).
		Where("user_id = ?", userID).
		Pluck("challenge_id", &ids).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "challenge_solve", "solved_ids", "error")
		return nil, err
	}
	solved := make(map[uint]bool, len(ids))
	for _, id := range ids {
		solved[id] = true
	}
	observability.RecordRepositoryOperation(ctx, "challenge_solve", "solved_ids", "success")
	return solved, nil
}

func (r *GormChallengeRepository) RecordAttempt(ctx context.Context, ch *domain.Challenge, attempt *domain.ChallengeAttempt) (*AttemptOutcome, error) {
	outcome := &AttemptOutcome{Attempt: attempt}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if ch.MaxAttempts > 0 || ch.TimeLimitSecs > 0 {
			var prior int64
			q := tx.Model(&domain.ChallengeAttempt{}).
				Where("challenge_id = ? AND user_id = ?", ch.ID, attempt.UserID)
			if err := q.Count(&prior).Error; err != nil {
				return err
			}
			if ch.MaxAttempts > 0 && prior >= int64(ch.MaxAttempts) {
				return ErrAttemptLimitReached
			}
			if ch.TimeLimitSecs > 0 && prior > 0 {
				var first domain.ChallengeAttempt
				err := tx.Where("challenge_id = ? AND user_id = ?", ch.ID, attempt.UserID).
					Order("created_at ASC").
					First(&first).Error
				if err != nil {
					return err
				}
				deadline := first.CreatedAt.Add(time.Duration(ch.TimeLimitSecs) * time.Second)
				if time.Now().After(deadline) {
					return ErrSubmissionWindowOver
				}
			}
		}

		if err := tx.Create(attempt).Error; err != nil {
			return err
		}
		if !attempt.Correct {
			return nil
		}

		solve := &domain.ChallengeSolve{
			ChallengeID: ch.ID,
			UserID:      attempt.UserID,
			Points:      ch.Points,
			AttemptID:   attempt.ID,
		}
		if err := tx.Create(solve).Error; err != nil {
			// the unique solve index makes a duplicate mean "already
			// scored": the resubmission is accepted, no points
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil
			}
			return err
		}
		outcome.Awarded = true
		outcome.Points = ch.Points
		return nil
	})
	if err != nil {
		outcomeLabel := "error"
		if errors.Is(err, ErrAttemptLimitReached) || errors.Is(err, ErrSubmissionWindowOver) {
			outcomeLabel = "rejected"
		}
		observability.RecordRepositoryOperation(ctx, "challenge_attempt", "record", outcomeLabel)
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "challenge_attempt", "record", "success")
	return outcome, nil
}

func (r *GormChallengeRepository) UserStats(ctx context.Context, userID uint) (*UserChallengeStats, error) {
	stats := &UserChallengeStats{UserID: userID}

	type solveAgg struct {
		TotalPoints uint
		Solved      int64
	}
	var sa solveAgg
	err := r.db.WithContext(ctx).Model(&domain.ChallengeSolve{}).
		Select("COALESCE(SUM(points), 0) AS total_points, COUNT(*) AS solved").
		Where("user_id = ?", userID).
		Scan(&sa).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "challenge_solve", "user_stats", "error")
		return nil, err
	}
	stats.TotalPoints = sa.TotalPoints
	stats.Solved = sa.Solved

	err = r.db.WithContext(ctx).Model(&domain.ChallengeAttempt{}).
		Where("user_id = ?", userID).
		Count(&stats.Attempts).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "challenge_attempt", "user_stats", "error")
		return nil, err
	}
	err = r.db.WithContext(ctx).Model(&domain.ChallengeAttempt{}).
		Where("user_id = ? AND correct = ?", userID, true).
		Count(&stats.Correct).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "challenge_attempt", "user_stats", "error")
		return nil, err
	}

	observability.RecordRepositoryOperation(ctx, "challenge_attempt", "user_stats", "success")
	return stats, nil
}

// Leaderboard orders by total points descending; ties break toward the user
// who reached that total first (earliest last solve).
func (r *GormChallengeRepository) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	var entries []LeaderboardEntry
	err := r.db.WithContext(ctx).Model(&domain.ChallengeSolve{}).
		Select("user_id, SUM(points) AS total_points, COUNT(*) AS solved, MAX(created_at) AS last_solve_at").
		Group("user_id").
		Order("total_points DESC, last_solve_at ASC").
		Limit(limit).
		Scan(&entries).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "challenge_solve", "leaderboard", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "challenge_solve", "leaderboard", "success")
	return entries, nil
}
