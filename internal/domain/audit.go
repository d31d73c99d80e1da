package domain

import "time"

// Audit event categories.
const (
	AuditCategoryAuthentication = "authentication"
	AuditCategoryMFA            = "mfa"
	AuditCategoryChallenge      = "challenge"
	AuditCategorySandbox        = "sandbox"
	AuditCategoryAdmin          = "admin"
)

// Audit event severities.
const (
	AuditSeverityInfo     = "info"
	AuditSeverityWarning  = "warning"
	AuditSeverityCritical = "critical"
)

// AuditEvent is an append-only security event. Rows are never updated or
// deleted by the application.
type AuditEvent struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    *uint     `gorm:"index" json:"user_id,omitempty"`
	EventType string    `gorm:"size:64;not null;index" json:"event_type"`
	Category  string    `gorm:"size:32;not null;index" json:"category"`
	Severity  string    `gorm:"size:16;not null;index" json:"severity"`
	RiskScore int       `gorm:"not null" json:"risk_score"`
	IP        string    `gorm:"size:64" json:"ip"`
	UserAgent string    `gorm:"size:512" json:"user_agent"`
	Detail    string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
