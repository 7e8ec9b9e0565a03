package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// Rule is a resolved limit together with the counter it is charged to. A zero
// Rule never limits.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

// Active reports whether the rule limits anything.
func (r Rule) Active() bool {
	return r.Key != "" && r.Limit > 0
}

// UserRule returns the request limit for userID at tierName. Tier overrides win
// over the default limit; an override of 0 disables limiting for that tier.
func (c SettingsConfig) UserRule(userID uint64, tierName string) Rule {
	if userID == 0 {
		return Rule{}
	}
	limit := c.Limit
	if override, ok := c.TierLimits[strings.ToLower(strings.TrimSpace(tierName))]; ok {
		limit = override
	}
	if limit <= 0 {
		return Rule{}
	}
	return Rule{Key: fmt.Sprintf("u:%d", userID), Limit: limit, Window: c.Window}
}

// DataTypeRule returns the (user, data type) limit, if one is configured.
func (c SettingsConfig) DataTypeRule(userID uint64, dataType string) Rule {
	dataType = strings.TrimSpace(dataType)
	limit := c.DataTypeLimits[dataType]
	if userID == 0 || dataType == "" || limit <= 0 {
		return Rule{}
	}
	return Rule{Key: fmt.Sprintf("u:%d:d:%s", userID, dataType), Limit: limit, Window: c.Window}
}
