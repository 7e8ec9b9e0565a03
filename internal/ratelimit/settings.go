package ratelimit

import (
	"strings"
	"time"

	internalsettings "github.com/hrvstr/datagate/internal/settings"
)

// SettingsConfig captures rate limit settings from the runtime snapshot.
type SettingsConfig struct {
	Limit          int            // Default requests per window for any user.
	Window         time.Duration  // Fixed window length; defaults to one second.
	TierLimits     map[string]int // Per-tier overrides of Limit.
	DataTypeLimits map[string]int // Per (user, data type) limits applied on data routes.
	RedisEnabled   bool
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string
}

// Normalize applies defaults and clamps invalid values.
func (c SettingsConfig) Normalize() SettingsConfig {
	if c.Limit < 0 {
		c.Limit = 0
	}
	if c.Window <= 0 {
		c.Window = time.Second
	}
	c.RedisAddr = strings.TrimSpace(c.RedisAddr)
	c.RedisPassword = strings.TrimSpace(c.RedisPassword)
	c.RedisPrefix = strings.TrimSpace(c.RedisPrefix)
	if c.RedisPrefix == "" {
		c.RedisPrefix = internalsettings.DefaultRedisPrefix
	}
	if c.RedisDB < 0 {
		c.RedisDB = 0
	}
	return c
}
