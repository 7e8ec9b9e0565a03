// Package sessions manages paid, time-boxed component unlocks.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hrvstr/datagate/internal/db"
	"github.com/hrvstr/datagate/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateSession is returned when an active session already exists for the user and component.
	ErrDuplicateSession = errors.New("sessions: active session already exists")
	// ErrInvalidSession is returned for empty components or non-positive durations.
	ErrInvalidSession = errors.New("sessions: invalid session request")
)

// Manager reads and writes sessions.
type Manager struct {
	db  *gorm.DB
	now func() time.Time
}

// New constructs a manager.
func New(conn *gorm.DB) *Manager {
	return &Manager{db: conn, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) {
	if m == nil || now == nil {
		return
	}
	m.now = func() time.Time { return now().UTC() }
}

// FindActive returns the active, unexpired session for userID and component, or nil.
func (m *Manager) FindActive(ctx context.Context, userID uint64, component string) (*models.Session, error) {
	component = strings.TrimSpace(component)
	if component == "" {
		return nil, nil
	}
	var row models.Session
	errTake := m.db.WithContext(ctx).
		Where("user_id = ? AND component = ? AND status = ?", userID, component, models.SessionStatusActive).
		Where("expires_at > ?", m.now()).
		Order("expires_at DESC").
		Take(&row).Error
	if errTake != nil {
		if errors.Is(errTake, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessions: find active: %w", errTake)
	}
	return &row, nil
}

// Create opens a new session capped at its own duration. A stale active row for the
// same key is expired first; a live one, or a concurrent creator winning the insert,
// yields ErrDuplicateSession.
func (m *Manager) Create(ctx context.Context, userID uint64, component string, creditsCharged int64, duration time.Duration) (*models.Session, error) {
	return m.CreateCapped(ctx, userID, component, creditsCharged, duration, duration)
}

// CreateCapped is Create with the tier's longest session recorded on the row. The
// overrun sweep compares against this value, so a later tier change leaves the
// session alone.
func (m *Manager) CreateCapped(ctx context.Context, userID uint64, component string, creditsCharged int64, duration, maxDuration time.Duration) (*models.Session, error) {
	component = strings.TrimSpace(component)
	if component == "" || duration <= 0 {
		return nil, ErrInvalidSession
	}
	if maxDuration < 0 {
		maxDuration = 0
	}
	now := m.now()
	key := activeKey(userID, component)
	row := models.Session{
		UserID:      userID,
		SessionID:   uuid.NewString(),
		Component:   component,
		CreditsUsed: creditsCharged,
		UnlockedAt:  now,
		ExpiresAt:   now.Add(duration),
		MaxDuration: maxDuration,
		Status:      models.SessionStatusActive,
		ActiveKey:   &key,
	}

	errTx := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errStale := tx.Model(&models.Session{}).
			Where("active_key = ? AND expires_at <= ?", key, now).
			Updates(expiredColumns()).Error; errStale != nil {
			return errStale
		}
		return tx.Create(&row).Error
	})
	if errTx != nil {
		if db.IsUniqueViolation(errTx) {
			return nil, ErrDuplicateSession
		}
		return nil, fmt.Errorf("sessions: create: %w", errTx)
	}
	return &row, nil
}

// ForceExpire marks the given sessions expired regardless of their state.
func (m *Manager) ForceExpire(ctx context.Context, sessionIDs ...string) (int64, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}
	res := m.db.WithContext(ctx).Model(&models.Session{}).
		Where("session_id IN ?", sessionIDs).
		Where("status = ?", models.SessionStatusActive).
		Updates(expiredColumns())
	if res.Error != nil {
		return 0, fmt.Errorf("sessions: force expire: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ExpireDue marks active sessions past their expiry as expired.
func (m *Manager) ExpireDue(ctx context.Context) (int64, error) {
	res := m.db.WithContext(ctx).Model(&models.Session{}).
		Where("status = ? AND expires_at < ?", models.SessionStatusActive, m.now()).
		Updates(expiredColumns())
	if res.Error != nil {
		return 0, fmt.Errorf("sessions: expire due: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ActiveSession is an active session joined with its owner's current tier.
// MaxDuration is the cap recorded at unlock, not the current tier's.
type ActiveSession struct {
	SessionID   string        `json:"session_id"`
	UserID      uint64        `json:"user_id"`
	Component   string        `json:"component"`
	UnlockedAt  time.Time     `json:"unlocked_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	MaxDuration time.Duration `json:"max_duration"`
	Tier        string        `json:"tier"`
}

// ListActiveWithTier returns every active session with the owner's tier.
func (m *Manager) ListActiveWithTier(ctx context.Context) ([]ActiveSession, error) {
	var rows []ActiveSession
	if errScan := m.db.WithContext(ctx).
		Table("sessions").
		Select("sessions.session_id, sessions.user_id, sessions.component, sessions.unlocked_at, sessions.expires_at, sessions.max_duration, users.tier").
		Joins("JOIN users ON users.id = sessions.user_id").
		Where("sessions.status = ?", models.SessionStatusActive).
		Order("sessions.id ASC").
		Scan(&rows).Error; errScan != nil {
		return nil, fmt.Errorf("sessions: list active: %w", errScan)
	}
	return rows, nil
}

func expiredColumns() map[string]any {
	return map[string]any{
		"status":     models.SessionStatusExpired,
		"active_key": gorm.Expr("NULL"),
	}
}

func activeKey(userID uint64, component string) string {
	return strconv.FormatUint(userID, 10) + ":" + component
}
