package models

import "time"

// SessionStatus is the lifecycle state of a research session.
type SessionStatus string

// SessionStatus constants. active -> expired is the only transition.
const (
	// SessionStatusActive marks an unlocked session.
	SessionStatusActive SessionStatus = "active"
	// SessionStatusExpired marks a closed session.
	SessionStatusExpired SessionStatus = "expired"
)

// Session records a paid, time-boxed unlock of one component for one user.
type Session struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID    uint64 `gorm:"not null;index:idx_sessions_user_component_status,priority:1"`                   // Owning user.
	SessionID string `gorm:"type:varchar(64);not null;uniqueIndex"`                                          // Opaque session token.
	Component string `gorm:"type:varchar(128);not null;index:idx_sessions_user_component_status,priority:2"` // Unlocked component.

	CreditsUsed int64     `gorm:"not null;default:0"` // Credits charged to open the session.
	UnlockedAt  time.Time `gorm:"not null"`           // Unlock timestamp.
	ExpiresAt   time.Time `gorm:"not null;index"`     // Expiry computed at unlock.

	// MaxDuration is the tier's longest session at unlock. Later tier changes do not
	// touch it; 0 means no cap.
	MaxDuration time.Duration `gorm:"not null;default:0"`

	Status SessionStatus `gorm:"type:varchar(16);not null;default:'active';index:idx_sessions_user_component_status,priority:3"` // Lifecycle state.

	// ActiveKey holds "<user>:<component>" while active and NULL afterwards so the
	// unique index admits at most one active session per user and component.
	ActiveKey *string `gorm:"type:varchar(192);uniqueIndex"`
}
