package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWindow bumps the window counter and sets its expiry on first use.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisLimiter shares window counters across replicas.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter wraps client; keys are namespaced under prefix.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: strings.TrimSpace(prefix)}
}

// Allow counts one request against rule.
func (l *RedisLimiter) Allow(ctx context.Context, rule Rule, now time.Time) (Result, error) {
	if !rule.Active() || l == nil || l.client == nil {
		return unlimited(), nil
	}
	slot, reset := windowSlot(now, rule.Window)
	// Counters outlive their window by one window to absorb clock skew between replicas.
	ttl := 2 * rule.Window
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	count, errRun := incrWindow.Run(ctx, l.client, []string{l.key(rule.Key, slot)}, ttl.Milliseconds()).Int64()
	if errRun != nil {
		return Result{}, fmt.Errorf("ratelimit: redis incr: %w", errRun)
	}
	if count > int64(rule.Limit) {
		return Result{Limit: rule.Limit, Reset: reset}, nil
	}
	return Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit - int(count), Reset: reset}, nil
}

func (l *RedisLimiter) key(key string, slot int64) string {
	if l.prefix == "" {
		return fmt.Sprintf("rl:%s:%d", key, slot)
	}
	return fmt.Sprintf("%s:rl:%s:%d", l.prefix, key, slot)
}
