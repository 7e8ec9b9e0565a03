package keylock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryLockerSerializesKey(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	var inside atomic.Int32
	var maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "1:insider_trades:1w:")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Fatalf("expected at most one holder, got %d", maxInside.Load())
	}
	if locker.Len() != 0 {
		t.Fatalf("expected entries released, got %d", locker.Len())
	}
}

func TestMemoryLockerIndependentKeys(t *testing.T) {
	locker := NewMemoryLocker()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unlockA, err := locker.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer unlockA()
	unlockB, err := locker.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("expected independent key to lock, got %v", err)
	}
	unlockB()
	unlockB()
}

func TestMemoryLockerHonoursContext(t *testing.T) {
	locker := NewMemoryLocker()
	unlock, err := locker.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, errWait := locker.Lock(ctx, "k"); !errors.Is(errWait, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", errWait)
	}
}

func TestManagerTimeout(t *testing.T) {
	m := NewManager(func() SettingsConfig { return SettingsConfig{Timeout: 20 * time.Millisecond} }, nil, nil)
	unlock, err := m.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()
	if _, errWait := m.Lock(context.Background(), "k"); !errors.Is(errWait, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", errWait)
	}
}

func TestManagerFallsBackToMemoryWhenRedisDown(t *testing.T) {
	m := NewManager(func() SettingsConfig {
		return SettingsConfig{
			Timeout:      time.Second,
			RedisEnabled: true,
			RedisAddr:    "127.0.0.1:1",
		}
	}, nil, nil)
	defer func() { _ = m.Close() }()

	unlock, err := m.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("expected memory fallback, got %v", err)
	}
	unlock()
	if !m.redis.CoolingDown(time.Now()) {
		t.Fatalf("expected redis bypassed after failed dial")
	}
	if m.memory.Len() != 0 {
		t.Fatalf("expected memory lock released")
	}
}
