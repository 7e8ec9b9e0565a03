package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Stale windows are dropped every pruneEvery calls.
const pruneEvery = 1024

type window struct {
	slot  int64
	count int
}

// MemoryLimiter keeps window counters in process. It is the fallback when Redis is
// disabled or unreachable.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]window
	calls   int
}

// NewMemoryLimiter constructs an empty MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]window)}
}

// Allow counts one request against rule.
func (l *MemoryLimiter) Allow(_ context.Context, rule Rule, now time.Time) (Result, error) {
	if !rule.Active() {
		return unlimited(), nil
	}
	slot, reset := windowSlot(now, rule.Window)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calls++; l.calls%pruneEvery == 0 {
		l.prune(slot)
	}
	w := l.windows[rule.Key]
	if w.slot != slot {
		w = window{slot: slot}
	}
	if w.count >= rule.Limit {
		l.windows[rule.Key] = w
		return Result{Limit: rule.Limit, Reset: reset}, nil
	}
	w.count++
	l.windows[rule.Key] = w
	return Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit - w.count, Reset: reset}, nil
}

func (l *MemoryLimiter) prune(current int64) {
	for key, w := range l.windows {
		if w.slot < current {
			delete(l.windows, key)
		}
	}
}
