package models

import (
	"time"

	"gorm.io/datatypes"
)

// CreditAction names the ledger operation that produced a transaction.
type CreditAction string

// CreditAction constants.
const (
	// CreditActionDeduct charges credits for a fetch.
	CreditActionDeduct CreditAction = "deduct"
	// CreditActionRefund returns credits after a failed fetch.
	CreditActionRefund CreditAction = "refund"
	// CreditActionPurchase adds purchased credits.
	CreditActionPurchase CreditAction = "purchase"
	// CreditActionReset starts a new monthly cycle.
	CreditActionReset CreditAction = "reset"
)

// CreditTransaction is an append-only audit record of a balance change.
type CreditTransaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64       `gorm:"not null;index:idx_credit_transactions_user_created,priority:1"` // Owning user.
	Action CreditAction `gorm:"type:varchar(16);not null"`                                      // Operation name.

	CreditsDelta          int64 `gorm:"not null"` // Signed balance change.
	CreditsRemainingAfter int64 `gorm:"not null"` // Available balance after the change.

	Reference *string        `gorm:"type:varchar(128);uniqueIndex"` // Idempotency key for purchases.
	Metadata  datatypes.JSON // Request context.

	CreatedAt time.Time `gorm:"not null;index:idx_credit_transactions_user_created,priority:2"` // Creation timestamp.
}
