package models

import "time"

// User represents a metered account. Identity comes from the external login flow.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key, shared with the login provider.

	Tier string `gorm:"type:varchar(32);not null;default:'free';index"` // Subscription tier.

	MonthlyCredits   int64     `gorm:"not null;default:0"` // Tier allotment for the current cycle.
	CreditsUsed      int64     `gorm:"not null;default:0"` // Credits consumed this cycle.
	CreditsPurchased int64     `gorm:"not null;default:0"` // Top-up balance.
	CreditsResetAt   time.Time `gorm:"not null;index"`     // Next cycle boundary.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// AvailableCredits returns the spendable balance for the row.
func (u User) AvailableCredits() int64 {
	return u.MonthlyCredits + u.CreditsPurchased - u.CreditsUsed
}
