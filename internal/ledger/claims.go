package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hrvstr/datagate/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrClaimHeld is returned when another charger's fetch on the same key is in flight.
	ErrClaimHeld = errors.New("ledger: fetch already claimed")
	// ErrClaimSettled is returned when the key's last charged fetch already reached the
	// cache and the claim did not ask to take settled rows over.
	ErrClaimSettled = errors.New("ledger: fetch already settled")
)

// Claim names one charged fetch. Token identifies the holder.
type Claim struct {
	UserID    uint64
	DataType  string
	TimeRange string
	Ticker    string
	Token     string
	Lease     time.Duration
	// TakeSettled lets the claim replace a settled row whose cache data does not
	// satisfy the caller.
	TakeSettled bool
}

var claimKeyColumns = []clause.Column{{Name: "user_id"}, {Name: "data_type"}, {Name: "time_range"}, {Name: "ticker"}}

// DeductClaimed charges amount like Deduct, taking the claim in the same transaction.
// Nothing is charged when the key is held (ErrClaimHeld) or settled (ErrClaimSettled);
// an expired row is taken over.
func (l *Ledger) DeductClaimed(ctx context.Context, amount int64, claim Claim, metadata map[string]any) (uint64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if strings.TrimSpace(claim.Token) == "" || claim.Lease <= 0 {
		return 0, errors.New("ledger: deduct: claim needs a token and a lease")
	}
	now := l.now()
	var txID uint64
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errClaim := takeClaim(ctx, tx, claim, now); errClaim != nil {
			return errClaim
		}
		id, errDeduct := deduct(ctx, tx, claim.UserID, amount, metadata, now)
		txID = id
		return errDeduct
	})
	if errTx != nil {
		switch {
		case errors.Is(errTx, ErrClaimHeld), errors.Is(errTx, ErrClaimSettled),
			errors.Is(errTx, ErrInsufficientCredits), errors.Is(errTx, ErrAccountNotFound):
			return 0, errTx
		}
		return 0, fmt.Errorf("ledger: deduct: %w", errTx)
	}
	return txID, nil
}

func takeClaim(ctx context.Context, tx *gorm.DB, claim Claim, now time.Time) error {
	row := models.FetchClaim{
		UserID:    claim.UserID,
		DataType:  claim.DataType,
		TimeRange: claim.TimeRange,
		Ticker:    claim.Ticker,
		Token:     claim.Token,
		ExpiresAt: now.Add(claim.Lease),
		CreatedAt: now,
	}
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{Columns: claimKeyColumns, DoNothing: true}).Create(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	takeover := tx.WithContext(ctx).Model(&models.FetchClaim{}).Scopes(claimKey(claim))
	if claim.TakeSettled {
		takeover = takeover.Where("expires_at <= ? OR settled_at IS NOT NULL", now)
	} else {
		takeover = takeover.Where("expires_at <= ?", now)
	}
	res = takeover.Updates(map[string]any{
		"token":      claim.Token,
		"settled_at": nil,
		"expires_at": row.ExpiresAt,
		"created_at": now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var current models.FetchClaim
	if errTake := tx.WithContext(ctx).Scopes(claimKey(claim)).Take(&current).Error; errTake != nil {
		if errors.Is(errTake, gorm.ErrRecordNotFound) {
			return ErrClaimHeld
		}
		return errTake
	}
	if current.SettledAt != nil {
		return ErrClaimSettled
	}
	return ErrClaimHeld
}

// SettleClaim marks the claim's fetch as cached. The row stays until its lease ends so
// that a concurrent charger finds the cache row instead of charging again.
func (l *Ledger) SettleClaim(ctx context.Context, claim Claim) error {
	errUpdate := l.db.WithContext(ctx).Model(&models.FetchClaim{}).
		Scopes(claimKey(claim)).
		Where("token = ?", claim.Token).
		Update("settled_at", l.now()).Error
	if errUpdate != nil {
		return fmt.Errorf("ledger: settle claim: %w", errUpdate)
	}
	return nil
}

// ReleaseClaim drops the claim if claim.Token still holds it.
func (l *Ledger) ReleaseClaim(ctx context.Context, claim Claim) error {
	errDelete := l.db.WithContext(ctx).
		Scopes(claimKey(claim)).
		Where("token = ?", claim.Token).
		Delete(&models.FetchClaim{}).Error
	if errDelete != nil {
		return fmt.Errorf("ledger: release claim: %w", errDelete)
	}
	return nil
}

// PurgeExpiredClaims deletes claims whose lease ended.
func (l *Ledger) PurgeExpiredClaims(ctx context.Context) (int64, error) {
	res := l.db.WithContext(ctx).Where("expires_at <= ?", l.now()).Delete(&models.FetchClaim{})
	if res.Error != nil {
		return 0, fmt.Errorf("ledger: purge claims: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func claimKey(claim Claim) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("user_id = ? AND data_type = ? AND time_range = ? AND ticker = ?",
			claim.UserID, claim.DataType, claim.TimeRange, claim.Ticker)
	}
}
