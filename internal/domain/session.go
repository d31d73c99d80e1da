package domain

import "time"

// Identity is the decoded subject of a session token. It is rebuilt from
// token claims on every request and never stored as a row of its own; the
// user table belongs to the outer application.
type Identity struct {
	UserID      uint   `json:"user_id"`
	Username    string `json:"username"`
	IsAdmin     bool   `json:"is_admin"`
	IsSiteOwner bool   `json:"is_site_owner"`
	IsBanned    bool   `json:"is_banned"`
}

// SessionRecord is the store-backed companion of an issued token.
// Verification is stateless by default; the record exists so logout can kill
// a token before its natural expiry and so users can list active sessions.
type SessionRecord struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        uint       `gorm:"index;not null" json:"user_id"`
	TokenID       string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	UserAgent     string     `gorm:"size:512" json:"user_agent"`
	IP            string     `gorm:"size:64" json:"ip"`
	ExpiresAt     time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt     *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
