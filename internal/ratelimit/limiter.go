package ratelimit

import (
	"context"
	"math"
	"time"
)

// Result is the outcome of one check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time // End of the current window.
}

// RetryAfter returns whole seconds until the window resets, never negative.
func (r Result) RetryAfter(now time.Time) int {
	if r.Reset.IsZero() {
		return 0
	}
	secs := int(math.Ceil(r.Reset.Sub(now).Seconds()))
	if secs < 0 {
		return 0
	}
	return secs
}

// Limiter counts requests in fixed windows.
type Limiter interface {
	Allow(ctx context.Context, rule Rule, now time.Time) (Result, error)
}

func unlimited() Result { return Result{Allowed: true} }

// windowSlot returns the index of the window containing now and when it ends.
func windowSlot(now time.Time, window time.Duration) (int64, time.Time) {
	if window <= 0 {
		window = time.Second
	}
	slot := now.UnixNano() / int64(window)
	return slot, time.Unix(0, (slot+1)*int64(window)).UTC()
}
