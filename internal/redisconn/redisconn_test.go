package redisconn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClientRequiresAddress(t *testing.T) {
	c := New("test", nil)
	if _, err := c.Client(context.Background(), Target{Addr: "  "}, time.Now()); !errors.Is(err, ErrNoAddress) {
		t.Fatalf("expected ErrNoAddress, got %v", err)
	}
}

func TestUnreachableRedisCoolsDown(t *testing.T) {
	c := New("test", nil)
	defer func() { _ = c.Close() }()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := c.Client(context.Background(), Target{Addr: "127.0.0.1:1"}, now); err == nil {
		t.Fatalf("expected dial error for closed port")
	}
	if !c.CoolingDown(now.Add(time.Second)) {
		t.Fatalf("expected cooldown after failed ping")
	}
	if _, err := c.Client(context.Background(), Target{Addr: "127.0.0.1:1"}, now.Add(time.Second)); !errors.Is(err, ErrCoolingDown) {
		t.Fatalf("expected ErrCoolingDown, got %v", err)
	}
	if c.CoolingDown(now.Add(Cooldown)) {
		t.Fatalf("expected cooldown to end after %s", Cooldown)
	}
}

func TestFailStartsCooldown(t *testing.T) {
	c := New("test", nil)
	now := time.Now()
	c.Fail(nil, now)
	if c.CoolingDown(now) {
		t.Fatalf("expected nil error to be ignored")
	}
	c.Fail(errors.New("boom"), now)
	if !c.CoolingDown(now.Add(Cooldown / 2)) {
		t.Fatalf("expected cooldown after failure")
	}
}
