package models

import "time"

// FetchClaim marks a charged fetch for one cache key. It is written in the same
// transaction as the deduction, so replicas that share the database charge a key at
// most once. A fetch that reached the cache settles the row; a failed one deletes it.
// An expired row may be taken over by the next charger.
type FetchClaim struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID    uint64 `gorm:"not null;uniqueIndex:idx_fetch_claims_key,priority:1"`                             // Charged user.
	DataType  string `gorm:"type:varchar(64);not null;uniqueIndex:idx_fetch_claims_key,priority:2"`            // Payload variant tag.
	TimeRange string `gorm:"type:varchar(16);not null;uniqueIndex:idx_fetch_claims_key,priority:3"`            // Requested range.
	Ticker    string `gorm:"type:varchar(16);not null;default:'';uniqueIndex:idx_fetch_claims_key,priority:4"` // Empty when not ticker scoped.

	Token     string     `gorm:"type:varchar(64);not null"` // Holder token; only the holder releases.
	SettledAt *time.Time // Set once the fetched data is in the cache.
	ExpiresAt time.Time  `gorm:"not null;index"` // Lease end.
	CreatedAt time.Time  `gorm:"not null"`       // Claim timestamp.
}
