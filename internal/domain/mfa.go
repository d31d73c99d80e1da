package domain

import "time"

// MFAEnrollment holds a user's TOTP secret. An enrollment starts pending
// (Enabled=false) and only a successful code verification flips it on, so an
// unconfirmed secret never gates a login.
type MFAEnrollment struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"uniqueIndex;not null" json:"user_id"`
	Secret         string     `gorm:"size:128;not null" json:"-"`
	Enabled        bool       `gorm:"index;not null" json:"enabled"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// BackupCode is a single-use MFA fallback credential. Only the bcrypt hash is
// stored; the plaintext is shown once at generation time.
type BackupCode struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"index;not null" json:"user_id"`
	CodeHash  string     `gorm:"size:128;not null" json:"-"`
	Used      bool       `gorm:"index;not null" json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
