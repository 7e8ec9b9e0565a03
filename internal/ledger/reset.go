package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/hrvstr/datagate/internal/models"
	"github.com/hrvstr/datagate/internal/tier"
	"gorm.io/gorm"
)

// resetBatchSize caps how many accounts a single ResetDue call rolls over.
const resetBatchSize = 500

// ResetDue starts a new credit cycle for every account whose reset time has passed:
// credits_used goes back to zero, the allotment follows the current tier and the
// boundary moves forward by whole months.
func (l *Ledger) ResetDue(ctx context.Context) (int64, error) {
	now := l.now()
	var due []models.User
	if errFind := l.db.WithContext(ctx).
		Where("credits_reset_at <= ?", now).
		Order("id ASC").
		Limit(resetBatchSize).
		Find(&due).Error; errFind != nil {
		return 0, fmt.Errorf("ledger: find due resets: %w", errFind)
	}

	var count int64
	for _, user := range due {
		tierName, ok := tier.ParseTier(user.Tier)
		monthly := user.MonthlyCredits
		if ok {
			monthly = l.table.MonthlyCredits(tierName)
		}
		before := user.AvailableCredits()
		next := nextReset(user.CreditsResetAt, now)

		errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.User{}).
				Where("id = ? AND credits_reset_at <= ?", user.ID, now).
				Updates(map[string]any{
					"credits_used":     0,
					"monthly_credits":  monthly,
					"credits_reset_at": next,
					"updated_at":       now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			after := monthly + user.CreditsPurchased
			if _, errRecord := record(ctx, tx, user.ID, models.CreditActionReset, after-before, nil, map[string]any{
				"tier":     user.Tier,
				"cycle_to": next.Format(time.RFC3339),
			}, now); errRecord != nil {
				return errRecord
			}
			count++
			return nil
		})
		if errTx != nil {
			return count, fmt.Errorf("ledger: reset user %d: %w", user.ID, errTx)
		}
	}
	return count, nil
}

// PruneTransactions deletes transactions created before cutoff.
func (l *Ledger) PruneTransactions(ctx context.Context, before time.Time) (int64, error) {
	res := l.db.WithContext(ctx).
		Where("created_at < ?", before.UTC()).
		Delete(&models.CreditTransaction{})
	if res.Error != nil {
		return 0, fmt.Errorf("ledger: prune transactions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func nextReset(current, now time.Time) time.Time {
	next := current.UTC()
	if next.IsZero() {
		next = now
	}
	for !next.After(now) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}
