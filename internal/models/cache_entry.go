package models

import (
	"time"

	"gorm.io/datatypes"
)

// CacheEntry memoizes one fetch result for one user.
type CacheEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID    uint64 `gorm:"not null;uniqueIndex:idx_cache_entries_key,priority:1"`                             // Owning user.
	DataType  string `gorm:"type:varchar(64);not null;uniqueIndex:idx_cache_entries_key,priority:2"`            // Payload variant tag.
	TimeRange string `gorm:"type:varchar(16);not null;uniqueIndex:idx_cache_entries_key,priority:3"`            // Requested range, e.g. 1w.
	Ticker    string `gorm:"type:varchar(16);not null;default:'';uniqueIndex:idx_cache_entries_key,priority:4"` // Empty when not ticker scoped.

	Payload  datatypes.JSON `gorm:"not null"` // Encoded payload variant.
	Metadata datatypes.JSON // Free-form fetch metadata.

	CreditsUsed int64     `gorm:"not null;default:0"` // 0 when session funded.
	ExpiresAt   time.Time `gorm:"not null;index"`     // Computed once at write time.
	CreatedAt   time.Time `gorm:"not null"`           // Write timestamp.
}
