package keylock

import (
	"context"
	"errors"
	"time"

	"github.com/hrvstr/datagate/internal/redisconn"
)

// ErrLockTimeout is returned when the lock wait exceeds the configured timeout.
var ErrLockTimeout = errors.New("keylock: timed out waiting for lock")

// SettingsProvider returns the current settings; it is read on every Lock.
type SettingsProvider func() SettingsConfig

// Manager locks through Redis when it is enabled and reachable and in process
// otherwise. A Redis failure falls back to memory for redisconn.Cooldown, so two
// replicas may briefly hold the same key. Callers that charge under the lock also
// need a claim in storage (see ledger.DeductClaimed); the lock only spares them the
// contention.
type Manager struct {
	provider SettingsProvider
	now      func() time.Time
	memory   *MemoryLocker
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
		memory:   NewMemoryLocker(),
		redis:    redisconn.New("keylock", dial),
	}
}

// Lock acquires key, waiting at most the configured timeout.
func (m *Manager) Lock(ctx context.Context, key string) (Unlock, error) {
	cfg := m.provider()
	waitCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if cfg.RedisEnabled {
		unlock, errLock := m.lockRedis(waitCtx, key, cfg)
		if errLock == nil || waitCtx.Err() != nil {
			return unlock, timeoutErr(ctx, errLock)
		}
	}
	unlock, errLock := m.memory.Lock(waitCtx, key)
	return unlock, timeoutErr(ctx, errLock)
}

// Close releases the Redis client, if any.
func (m *Manager) Close() error {
	return m.redis.Close()
}

// lockRedis returns an error when the caller should fall back to memory, unless
// ctx itself ended.
func (m *Manager) lockRedis(ctx context.Context, key string, cfg SettingsConfig) (Unlock, error) {
	now := m.now()
	target := redisconn.Target{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	client, errDial := m.redis.Client(ctx, target, now)
	if errDial != nil {
		return nil, errDial
	}
	unlock, errLock := NewRedisLocker(client, cfg.RedisPrefix, cfg.TTL).Lock(ctx, key)
	if errLock != nil && ctx.Err() == nil {
		m.redis.Fail(errLock, now)
	}
	return unlock, errLock
}

// timeoutErr maps the lock deadline to ErrLockTimeout while leaving the caller's own
// cancellation intact.
func timeoutErr(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return ErrLockTimeout
	}
	return err
}
