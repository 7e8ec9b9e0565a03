package keylock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisRetryInterval = 25 * time.Millisecond

var redisReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds locks as Redis keys set with NX and a lease.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLocker constructs a RedisLocker.
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	return &RedisLocker{
		client: client,
		prefix: strings.TrimSpace(prefix),
		ttl:    ttl,
	}
}

// Lock polls SET NX until it wins or ctx is done. Redis errors are returned as is so the
// caller can fall back.
func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := l.buildKey(key)
	token := uuid.NewString()
	ticker := time.NewTicker(redisRetryInterval)
	defer ticker.Stop()
	for {
		ok, errSet := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if errSet != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errSet
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctxRelease, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if errRelease := redisReleaseScript.Run(ctxRelease, l.client, []string{redisKey}, token).Err(); errRelease != nil {
				log.WithError(errRelease).WithField("key", redisKey).Warn("keylock: release failed, lease will expire")
			}
		})
	}, nil
}

func (l *RedisLocker) buildKey(key string) string {
	if l.prefix == "" {
		return "lock:" + key
	}
	return l.prefix + ":lock:" + key
}
