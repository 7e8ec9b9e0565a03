package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := Rule{Key: "u:1", Limit: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, rule, now)
		if err != nil || !res.Allowed {
			t.Fatalf("expected request %d allowed, got %+v %v", i, res, err)
		}
	}
	res, _ := limiter.Allow(ctx, rule, now.Add(30*time.Second))
	if res.Allowed {
		t.Fatalf("expected third request in window to be rejected")
	}
	if !res.Reset.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected reset at window end, got %s", res.Reset)
	}
	if got := res.RetryAfter(now.Add(30 * time.Second)); got != 30 {
		t.Fatalf("expected retry after 30s, got %d", got)
	}
	res, _ = limiter.Allow(ctx, rule, now.Add(time.Minute))
	if !res.Allowed || res.Remaining != 1 {
		t.Fatalf("expected next window to allow with 1 remaining, got %+v", res)
	}
}

func TestInactiveRuleAllows(t *testing.T) {
	res, err := NewMemoryLimiter().Allow(context.Background(), Rule{}, time.Now())
	if err != nil || !res.Allowed {
		t.Fatalf("expected zero rule to allow, got %+v %v", res, err)
	}
}

func TestUserRuleUsesTierOverride(t *testing.T) {
	cfg := SettingsConfig{Limit: 5, TierLimits: map[string]int{"institutional": 50, "free": 0}}.Normalize()
	if got := cfg.UserRule(3, "pro"); got.Limit != 5 || got.Key != "u:3" || got.Window != time.Second {
		t.Fatalf("expected default rule, got %+v", got)
	}
	if got := cfg.UserRule(3, "Institutional"); got.Limit != 50 {
		t.Fatalf("expected tier limit 50, got %+v", got)
	}
	if got := cfg.UserRule(3, "free"); got.Active() {
		t.Fatalf("expected zero override to disable limiting, got %+v", got)
	}
	if got := cfg.UserRule(0, "pro"); got.Active() {
		t.Fatalf("expected anonymous user to be unlimited, got %+v", got)
	}
}

func TestDataTypeRule(t *testing.T) {
	cfg := SettingsConfig{DataTypeLimits: map[string]int{"insider_trades": 3}}.Normalize()
	if got := cfg.DataTypeRule(3, "insider_trades"); got.Key != "u:3:d:insider_trades" || got.Limit != 3 {
		t.Fatalf("unexpected data type rule %+v", got)
	}
	if got := cfg.DataTypeRule(3, "sentiment"); got.Active() {
		t.Fatalf("expected unconfigured data type to be unlimited, got %+v", got)
	}
}

func TestManagerFallsBackToMemory(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(func() SettingsConfig {
		return SettingsConfig{Limit: 1, RedisEnabled: true, RedisAddr: "127.0.0.1:1"}
	}, func() time.Time { return now }, nil)
	defer func() { _ = m.Close() }()

	res, err := m.AllowUser(context.Background(), 1, "pro")
	if err != nil || !res.Allowed {
		t.Fatalf("expected first request allowed, got %+v %v", res, err)
	}
	res, _ = m.AllowUser(context.Background(), 1, "pro")
	if res.Allowed {
		t.Fatalf("expected second request limited")
	}
	if !m.redis.CoolingDown(now) {
		t.Fatalf("expected redis bypassed after failed dial")
	}
	res, _ = m.AllowDataType(context.Background(), 1, "insider_trades")
	if !res.Allowed {
		t.Fatalf("expected unconfigured data type limit to allow")
	}
}
