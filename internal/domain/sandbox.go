package domain

import "time"

// Sandbox session statuses. Stopped and expired are terminal.
const (
	SandboxStatusStarting = "starting"
	SandboxStatusRunning  = "running"
	SandboxStatusStopped  = "stopped"
	SandboxStatusExpired  = "expired"
)

// SandboxEnvironment is an administrator-owned catalog entry describing an
// isolated practice environment. The execution backend (containers, VMs) is
// outside this service; only the authorization envelope lives here.
type SandboxEnvironment struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Name              string    `gorm:"size:200;not null" json:"name"`
	EnvType           string    `gorm:"size:64;not null;index" json:"env_type"`
	TargetServices    string    `gorm:"type:text" json:"target_services"`
	AllowedTools      string    `gorm:"type:text" json:"allowed_tools"`
	RestrictionPolicy string    `gorm:"type:text" json:"restriction_policy"`
	MaxSessionSecs    int       `gorm:"not null" json:"max_session_secs"`
	Active            bool      `gorm:"index;not null" json:"active"`
	CreatedBy         uint      `gorm:"index" json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SandboxSession is one user's time-bounded hold on an environment. Once a
// session reaches a terminal status it is never mutated again.
type SandboxSession struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	EnvironmentID  uint       `gorm:"index;not null" json:"environment_id"`
	UserID         uint       `gorm:"index;not null" json:"user_id"`
	Status         string     `gorm:"size:16;not null;index" json:"status"`
	StartedAt      time.Time  `gorm:"not null" json:"started_at"`
	ExpiresAt      time.Time  `gorm:"index;not null" json:"expires_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	ConnectionInfo string     `gorm:"type:text" json:"connection_info,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Terminal reports whether the session can no longer be used.
func (s *SandboxSession) Terminal() bool {
	return s.Status == SandboxStatusStopped || s.Status == SandboxStatusExpired
}
