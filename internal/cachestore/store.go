// Package cachestore persists fetched payloads per (user, data type, time range, ticker).
package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hrvstr/datagate/internal/models"
	"github.com/hrvstr/datagate/internal/payload"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Key identifies one cache row. Rows are never shared across users.
type Key struct {
	UserID    uint64
	DataType  string
	TimeRange string
	Ticker    string // Empty when the request is not ticker scoped.
}

// Normalize trims the key fields and upper-cases the ticker.
func (k Key) Normalize() Key {
	k.DataType = strings.TrimSpace(k.DataType)
	k.TimeRange = strings.TrimSpace(k.TimeRange)
	k.Ticker = strings.ToUpper(strings.TrimSpace(k.Ticker))
	return k
}

// String renders the key for locks and logs.
func (k Key) String() string {
	return strings.Join([]string{strconv.FormatUint(k.UserID, 10), k.DataType, k.TimeRange, k.Ticker}, ":")
}

// Entry is a live cache row with its decoded payload.
type Entry struct {
	Key         Key
	Payload     payload.Payload
	Metadata    map[string]any
	CreditsUsed int64
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Store is the gorm-backed cache.
type Store struct {
	db  *gorm.DB
	now func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// New constructs a store.
func New(conn *gorm.DB) *Store {
	return &Store{db: conn, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	if s == nil || now == nil {
		return
	}
	s.now = func() time.Time { return now().UTC() }
}

// Get returns the live entry for key, or nil when absent or expired. Expired rows are
// hidden, not deleted.
func (s *Store) Get(ctx context.Context, key Key) (*Entry, error) {
	key = key.Normalize()
	var row models.CacheEntry
	errTake := s.db.WithContext(ctx).
		Where("user_id = ? AND data_type = ? AND time_range = ? AND ticker = ?", key.UserID, key.DataType, key.TimeRange, key.Ticker).
		Where("expires_at > ?", s.now()).
		Take(&row).Error
	if errTake != nil {
		if errors.Is(errTake, gorm.ErrRecordNotFound) {
			s.misses.Add(1)
			return nil, nil
		}
		return nil, fmt.Errorf("cachestore: get: %w", errTake)
	}
	entry, errDecode := toEntry(row)
	if errDecode != nil {
		// A row written under an older schema is treated as a miss and overwritten by the next fetch.
		log.WithError(errDecode).WithField("key", key.String()).Warn("cachestore: undecodable cache row")
		s.misses.Add(1)
		return nil, nil
	}
	s.hits.Add(1)
	return entry, nil
}

// Put writes payload under key, replacing any prior row including its expiry and charge.
func (s *Store) Put(ctx context.Context, key Key, p payload.Payload, metadata map[string]any, ttl time.Duration, creditsCharged int64) (*Entry, error) {
	key = key.Normalize()
	if ttl <= 0 {
		return nil, fmt.Errorf("cachestore: put %s: ttl must be positive", key.String())
	}
	raw, errEncode := payload.Encode(key.DataType, p)
	if errEncode != nil {
		return nil, errEncode
	}
	now := s.now()
	row := models.CacheEntry{
		UserID:      key.UserID,
		DataType:    key.DataType,
		TimeRange:   key.TimeRange,
		Ticker:      key.Ticker,
		Payload:     datatypes.JSON(raw),
		CreditsUsed: creditsCharged,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	if len(metadata) > 0 {
		rawMeta, errMarshal := json.Marshal(metadata)
		if errMarshal != nil {
			return nil, fmt.Errorf("cachestore: encode metadata: %w", errMarshal)
		}
		row.Metadata = datatypes.JSON(rawMeta)
	}

	if errUpsert := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "data_type"}, {Name: "time_range"}, {Name: "ticker"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"payload",
			"metadata",
			"credits_used",
			"expires_at",
			"created_at",
		}),
	}).Create(&row).Error; errUpsert != nil {
		return nil, fmt.Errorf("cachestore: put: %w", errUpsert)
	}

	p, _ = payload.Decode(key.DataType, raw)
	return &Entry{
		Key:         key,
		Payload:     p,
		Metadata:    metadata,
		CreditsUsed: creditsCharged,
		ExpiresAt:   row.ExpiresAt,
		CreatedAt:   row.CreatedAt,
	}, nil
}

// DeleteExpired removes rows whose expiry has passed.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ?", s.now()).
		Delete(&models.CacheEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("cachestore: delete expired: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Clear removes every row of userID, or every row when userID is 0.
func (s *Store) Clear(ctx context.Context, userID uint64) (int64, error) {
	q := s.db.WithContext(ctx)
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	} else {
		q = q.Where("1 = 1")
	}
	res := q.Delete(&models.CacheEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("cachestore: clear: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Ping checks that the backing database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, errDB := s.db.DB()
	if errDB != nil {
		return fmt.Errorf("cachestore: ping: %w", errDB)
	}
	if errPing := sqlDB.PingContext(ctx); errPing != nil {
		return fmt.Errorf("cachestore: ping: %w", errPing)
	}
	return nil
}

func toEntry(row models.CacheEntry) (*Entry, error) {
	p, errDecode := payload.Decode(row.DataType, row.Payload)
	if errDecode != nil {
		return nil, errDecode
	}
	var metadata map[string]any
	if len(row.Metadata) > 0 {
		if errUnmarshal := json.Unmarshal(row.Metadata, &metadata); errUnmarshal != nil {
			return nil, fmt.Errorf("cachestore: decode metadata: %w", errUnmarshal)
		}
	}
	return &Entry{
		Key: Key{
			UserID:    row.UserID,
			DataType:  row.DataType,
			TimeRange: row.TimeRange,
			Ticker:    row.Ticker,
		},
		Payload:     p,
		Metadata:    metadata,
		CreditsUsed: row.CreditsUsed,
		ExpiresAt:   row.ExpiresAt,
		CreatedAt:   row.CreatedAt,
	}, nil
}
