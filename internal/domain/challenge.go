package domain

import "time"

// Challenge is a scored security exercise. The canonical flag is stored only
// as a SHA-256 digest and is never serialized.
type Challenge struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Title         string    `gorm:"size:200;not null" json:"title"`
	Description   string    `gorm:"type:text" json:"description"`
	Category      string    `gorm:"size:64;not null;index" json:"category"`
	Difficulty    string    `gorm:"size:16;not null" json:"difficulty"`
	Points        uint      `gorm:"not null" json:"points"`
	FlagHash      string    `gorm:"size:64;not null" json:"-"`
	Active        bool      `gorm:"index;not null" json:"active"`
	MaxAttempts   int       `json:"max_attempts"`
	TimeLimitSecs int       `json:"time_limit_secs"`
	CreatedBy     uint      `gorm:"index" json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChallengeAttempt records one flag submission. The submitted value itself is
// not persisted, only the correctness outcome.
type ChallengeAttempt struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ChallengeID uint      `gorm:"index:idx_attempt_user_challenge;not null" json:"challenge_id"`
	UserID      uint      `gorm:"index:idx_attempt_user_challenge;not null" json:"user_id"`
	Correct     bool      `gorm:"not null" json:"correct"`
	IP          string    `gorm:"size:64" json:"ip"`
	UserAgent   string    `gorm:"size:512" json:"user_agent"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// ChallengeSolve marks the first correct submission for a user/challenge
// pair. The composite unique index makes the store the authority for
// exactly-once scoring under concurrent submissions.
type ChallengeSolve struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ChallengeID uint      `gorm:"uniqueIndex:idx_solve_once;not null" json:"challenge_id"`
	UserID      uint      `gorm:"uniqueIndex:idx_solve_once;not null" json:"user_id"`
	Points      uint      `gorm:"not null" json:"points"`
	AttemptID   uint64    `gorm:"not null" json:"attempt_id"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}
