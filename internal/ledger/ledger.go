// Package ledger tracks user credit balances and the append-only transaction log.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hrvstr/datagate/internal/db"
	"github.com/hrvstr/datagate/internal/models"
	"github.com/hrvstr/datagate/internal/tier"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInsufficientCredits is returned when a deduction would overdraw the balance.
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
	// ErrAccountNotFound is returned for unknown users.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrAccountExists is returned when creating an account that already exists.
	ErrAccountExists = errors.New("ledger: account already exists")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	// ErrReferenceConflict is returned when a purchase reference belongs to another user.
	ErrReferenceConflict = errors.New("ledger: purchase reference already used")
)

// Balance is a point-in-time view of a user's credits.
type Balance struct {
	UserID    uint64    `json:"user_id"`
	Tier      string    `json:"tier"`
	Monthly   int64     `json:"monthly_credits"`
	Purchased int64     `json:"credits_purchased"`
	Used      int64     `json:"credits_used"`
	Available int64     `json:"credits_available"`
	ResetAt   time.Time `json:"credits_reset_at"`
}

// Ledger applies balance changes with a transaction row for each.
type Ledger struct {
	db    *gorm.DB
	table *tier.Table
	now   func() time.Time
}

// New constructs a ledger. The tier table supplies monthly allotments.
func New(conn *gorm.DB, table *tier.Table) *Ledger {
	if table == nil {
		table = tier.Default()
	}
	return &Ledger{db: conn, table: table, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source.
func (l *Ledger) SetClock(now func() time.Time) {
	if l == nil || now == nil {
		return
	}
	l.now = func() time.Time { return now().UTC() }
}

// Balance returns the current balance of userID.
func (l *Ledger) Balance(ctx context.Context, userID uint64) (Balance, error) {
	user, errLoad := loadUser(ctx, l.db, userID)
	if errLoad != nil {
		return Balance{}, errLoad
	}
	return balanceOf(user), nil
}

// Deduct charges amount to userID. The balance check and the deduction are a single
// conditional UPDATE, so concurrent deductions can never overdraw the account.
func (l *Ledger) Deduct(ctx context.Context, userID uint64, amount int64, metadata map[string]any) (uint64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	now := l.now()
	var txID uint64
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, errDeduct := deduct(ctx, tx, userID, amount, metadata, now)
		txID = id
		return errDeduct
	})
	if errTx != nil {
		if errors.Is(errTx, ErrInsufficientCredits) || errors.Is(errTx, ErrAccountNotFound) {
			return 0, errTx
		}
		return 0, fmt.Errorf("ledger: deduct: %w", errTx)
	}
	return txID, nil
}

func deduct(ctx context.Context, tx *gorm.DB, userID uint64, amount int64, metadata map[string]any, now time.Time) (uint64, error) {
	res := tx.Model(&models.User{}).
		Where("id = ? AND monthly_credits + credits_purchased - credits_used >= ?", userID, amount).
		Updates(map[string]any{
			"credits_used": gorm.Expr("credits_used + ?", amount),
			"updated_at":   now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		if _, errLoad := loadUser(ctx, tx, userID); errLoad != nil {
			return 0, errLoad
		}
		return 0, ErrInsufficientCredits
	}
	row, errRecord := record(ctx, tx, userID, models.CreditActionDeduct, -amount, nil, metadata, now)
	if errRecord != nil {
		return 0, errRecord
	}
	return row.ID, nil
}

// Refund returns amount to userID after a failed fetch. credits_used never drops below
// zero; the transaction row carries the credits actually given back, which is less than
// amount when a cycle reset landed between the charge and the refund.
func (l *Ledger) Refund(ctx context.Context, userID uint64, amount int64, reason string) (uint64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	now := l.now()
	var txID uint64
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, errLoad := lockUser(ctx, tx, userID)
		if errLoad != nil {
			return errLoad
		}
		applied := min(amount, user.CreditsUsed)
		if applied > 0 {
			errUpdate := tx.Model(&models.User{}).
				Where("id = ?", userID).
				Updates(map[string]any{
					"credits_used": gorm.Expr(db.FloorAtZeroExpr(tx, "credits_used"), applied),
					"updated_at":   now,
				}).Error
			if errUpdate != nil {
				return errUpdate
			}
		}
		row, errRecord := record(ctx, tx, userID, models.CreditActionRefund, applied, nil, map[string]any{
			"reason":    reason,
			"requested": amount,
		}, now)
		if errRecord != nil {
			return errRecord
		}
		txID = row.ID
		return nil
	})
	if errTx != nil {
		if errors.Is(errTx, ErrAccountNotFound) {
			return 0, errTx
		}
		return 0, fmt.Errorf("ledger: refund: %w", errTx)
	}
	return txID, nil
}

// Purchase adds purchased credits. A repeated reference returns the first
// transaction without crediting twice.
func (l *Ledger) Purchase(ctx context.Context, userID uint64, amount int64, reference string) (uint64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	reference = strings.TrimSpace(reference)
	var ref *string
	if reference != "" {
		ref = &reference
		existing, errExisting := l.findByReference(ctx, reference)
		if errExisting != nil {
			return 0, errExisting
		}
		if existing != nil {
			return replayPurchase(existing, userID)
		}
	}

	now := l.now()
	var txID uint64
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"credits_purchased": gorm.Expr("credits_purchased + ?", amount),
				"updated_at":        now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAccountNotFound
		}
		row, errRecord := record(ctx, tx, userID, models.CreditActionPurchase, amount, ref, nil, now)
		if errRecord != nil {
			return errRecord
		}
		txID = row.ID
		return nil
	})
	if errTx != nil {
		if ref != nil && db.IsUniqueViolation(errTx) {
			existing, errExisting := l.findByReference(ctx, reference)
			if errExisting != nil {
				return 0, errExisting
			}
			if existing != nil {
				return replayPurchase(existing, userID)
			}
		}
		if errors.Is(errTx, ErrAccountNotFound) {
			return 0, errTx
		}
		return 0, fmt.Errorf("ledger: purchase: %w", errTx)
	}
	return txID, nil
}

// CreateAccount opens an account on tierName with a full monthly allotment.
func (l *Ledger) CreateAccount(ctx context.Context, userID uint64, tierName tier.Tier) (*models.User, error) {
	now := l.now()
	user := models.User{
		ID:             userID,
		Tier:           string(tierName),
		MonthlyCredits: l.table.MonthlyCredits(tierName),
		CreditsResetAt: now.AddDate(0, 1, 0),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&user)
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("ledger: create account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrAccountExists
	}
	return &user, nil
}

// SetTier changes the tier used for future policy lookups. The monthly allotment of the
// new tier applies from the next cycle reset.
func (l *Ledger) SetTier(ctx context.Context, userID uint64, tierName tier.Tier) error {
	res := l.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"tier": string(tierName), "updated_at": l.now()})
	if res.Error != nil {
		return fmt.Errorf("ledger: set tier: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Transactions returns the newest transactions of userID.
func (l *Ledger) Transactions(ctx context.Context, userID uint64, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var rows []models.CreditTransaction
	if errFind := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("ledger: list transactions: %w", errFind)
	}
	return rows, nil
}

func (l *Ledger) findByReference(ctx context.Context, reference string) (*models.CreditTransaction, error) {
	var row models.CreditTransaction
	errTake := l.db.WithContext(ctx).Where("reference = ?", reference).Take(&row).Error
	if errTake != nil {
		if errors.Is(errTake, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: find reference: %w", errTake)
	}
	return &row, nil
}

func replayPurchase(existing *models.CreditTransaction, userID uint64) (uint64, error) {
	if existing.UserID != userID || existing.Action != models.CreditActionPurchase {
		return 0, ErrReferenceConflict
	}
	return existing.ID, nil
}

func loadUser(ctx context.Context, conn *gorm.DB, userID uint64) (models.User, error) {
	var user models.User
	errTake := conn.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errTake != nil {
		if errors.Is(errTake, gorm.ErrRecordNotFound) {
			return models.User{}, ErrAccountNotFound
		}
		return models.User{}, fmt.Errorf("ledger: load user: %w", errTake)
	}
	return user, nil
}

// lockUser loads userID inside tx, holding its row lock where the dialect has one.
// SQLite serializes writers on its single connection instead.
func lockUser(ctx context.Context, tx *gorm.DB, userID uint64) (models.User, error) {
	conn := tx
	if !db.IsSQLite(tx) {
		conn = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return loadUser(ctx, conn, userID)
}

// record appends a transaction row, reading the post-change balance inside tx.
func record(ctx context.Context, tx *gorm.DB, userID uint64, action models.CreditAction, delta int64, reference *string, metadata map[string]any, now time.Time) (*models.CreditTransaction, error) {
	user, errLoad := loadUser(ctx, tx, userID)
	if errLoad != nil {
		return nil, errLoad
	}
	row := models.CreditTransaction{
		UserID:                userID,
		Action:                action,
		CreditsDelta:          delta,
		CreditsRemainingAfter: user.AvailableCredits(),
		Reference:             reference,
		CreatedAt:             now,
	}
	if len(metadata) > 0 {
		raw, errMarshal := json.Marshal(metadata)
		if errMarshal != nil {
			return nil, fmt.Errorf("ledger: encode metadata: %w", errMarshal)
		}
		row.Metadata = datatypes.JSON(raw)
	}
	if errCreate := tx.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return nil, errCreate
	}
	return &row, nil
}

func balanceOf(user models.User) Balance {
	return Balance{
		UserID:    user.ID,
		Tier:      user.Tier,
		Monthly:   user.MonthlyCredits,
		Purchased: user.CreditsPurchased,
		Used:      user.CreditsUsed,
		Available: user.AvailableCredits(),
		ResetAt:   user.CreditsResetAt,
	}
}
