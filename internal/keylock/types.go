// Package keylock serializes work per key, in process or across replicas through Redis.
package keylock

import (
	"context"
	"time"
)

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

// Locker acquires exclusive locks by key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// SettingsConfig captures the lock backend settings.
type SettingsConfig struct {
	Timeout       time.Duration // Longest wait for a lock; 0 waits until ctx ends.
	TTL           time.Duration // Lease of a Redis-held lock.
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}
