package ratelimit

import (
	"context"
	"time"

	"github.com/hrvstr/datagate/internal/redisconn"
)

// SettingsProvider returns the current settings; it is called on every check so
// reloads apply without a restart.
type SettingsProvider func() SettingsConfig

// Manager checks rules against Redis when it is enabled and healthy, and against an
// in-process limiter otherwise.
type Manager struct {
	provider SettingsProvider
	now      func() time.Time
	memory   *MemoryLimiter
	redis    *redisconn.Conn
}

// NewManager constructs a Manager. Nil arguments fall back to empty settings,
// time.Now and redis.NewClient.
func NewManager(provider SettingsProvider, nowFn func() time.Time, dial redisconn.Dialer) *Manager {
	if provider == nil {
		provider = func() SettingsConfig { return SettingsConfig{} }
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Manager{
		provider: provider,
		now:      nowFn,
		memory:   NewMemoryLimiter(),
		redis:    redisconn.New("ratelimit", dial),
	}
}

// AllowUser applies the per-user limit of tierName.
func (m *Manager) AllowUser(ctx context.Context, userID uint64, tierName string) (Result, error) {
	if m == nil {
		return unlimited(), nil
	}
	cfg := m.provider().Normalize()
	return m.check(ctx, cfg, cfg.UserRule(userID, tierName))
}

// AllowDataType applies the per (user, data type) limit, if one is configured.
func (m *Manager) AllowDataType(ctx context.Context, userID uint64, dataType string) (Result, error) {
	if m == nil {
		return unlimited(), nil
	}
	cfg := m.provider().Normalize()
	return m.check(ctx, cfg, cfg.DataTypeRule(userID, dataType))
}

// Close releases the Redis client, if any.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	return m.redis.Close()
}

func (m *Manager) check(ctx context.Context, cfg SettingsConfig, rule Rule) (Result, error) {
	if !rule.Active() {
		return unlimited(), nil
	}
	now := m.now()
	if cfg.RedisEnabled {
		target := redisconn.Target{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		if client, errDial := m.redis.Client(ctx, target, now); errDial == nil {
			result, errAllow := NewRedisLimiter(client, cfg.RedisPrefix).Allow(ctx, rule, now)
			if errAllow == nil {
				return result, nil
			}
			m.redis.Fail(errAllow, now)
		}
	}
	return m.memory.Allow(ctx, rule, now)
}
