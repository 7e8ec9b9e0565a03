package config

import (
	"strings"
	"sync/atomic"
	"time"
)

// Source is the resolved upstream of one data type.
type Source struct {
	BaseURL string
	APIKey  string
}

// Runtime is an immutable view of the hot-reloadable settings. A config change builds
// a new Runtime; existing values are never mutated.
type Runtime struct {
	LoadedAt time.Time

	FetchTimeout    time.Duration
	LockTimeout     time.Duration
	SessionsEnabled bool

	RateLimit          int
	RateLimitWindow    time.Duration
	TierRateLimits     map[string]int
	DataTypeRateLimits map[string]int

	Redis         RedisConfig
	BillingSecret string

	disabled map[string]struct{}
	sources  map[string]Source
}

// NewRuntime builds a snapshot from a loaded config file.
func NewRuntime(f File, loadedAt time.Time) *Runtime {
	rt := &Runtime{
		LoadedAt:           loadedAt.UTC(),
		FetchTimeout:       f.Access.FetchTimeout,
		LockTimeout:        f.Access.LockTimeout,
		SessionsEnabled:    true,
		RateLimit:          f.Access.RateLimit,
		RateLimitWindow:    f.Access.RateLimitWindow,
		TierRateLimits:     copyIntMap(f.Access.TierRateLimits),
		DataTypeRateLimits: copyIntMap(f.Access.DataTypeRateLimits),
		Redis:              f.Redis,
		BillingSecret:      strings.TrimSpace(f.Billing.WebhookSecret),
		disabled:           make(map[string]struct{}, len(f.Access.DisabledDataTypes)),
		sources:            make(map[string]Source, len(f.Sources)),
	}
	if f.Access.SessionsEnabled != nil {
		rt.SessionsEnabled = *f.Access.SessionsEnabled
	}
	for _, dataType := range f.Access.DisabledDataTypes {
		if trimmed := strings.TrimSpace(dataType); trimmed != "" {
			rt.disabled[trimmed] = struct{}{}
		}
	}
	for dataType, src := range f.Sources {
		rt.sources[strings.TrimSpace(dataType)] = Source{
			BaseURL: strings.TrimRight(strings.TrimSpace(src.BaseURL), "/"),
			APIKey:  strings.TrimSpace(src.APIKey),
		}
	}
	return rt
}

// DataTypeEnabled reports whether dataType is switched on.
func (r *Runtime) DataTypeEnabled(dataType string) bool {
	if r == nil {
		return true
	}
	_, off := r.disabled[dataType]
	return !off
}

// Source returns the upstream for dataType.
func (r *Runtime) Source(dataType string) (Source, bool) {
	if r == nil {
		return Source{}, false
	}
	src, ok := r.sources[dataType]
	return src, ok && src.BaseURL != ""
}

// Provider hands out the current snapshot.
type Provider interface {
	Current() *Runtime
}

// SnapshotStore holds the current snapshot and swaps it wholesale on update.
type SnapshotStore struct {
	current atomic.Pointer[Runtime]
}

// NewSnapshotStore constructs a store holding initial.
func NewSnapshotStore(initial *Runtime) *SnapshotStore {
	s := &SnapshotStore{}
	if initial == nil {
		initial = NewRuntime(File{}, time.Now())
	}
	s.current.Store(initial)
	return s
}

// Current returns the latest snapshot.
func (s *SnapshotStore) Current() *Runtime {
	return s.current.Load()
}

// Replace publishes next as the current snapshot.
func (s *SnapshotStore) Replace(next *Runtime) {
	if next == nil {
		return
	}
	s.current.Store(next)
}

// Static is a Provider returning a fixed snapshot.
type Static struct {
	Runtime *Runtime
}

// Current returns the fixed snapshot.
func (s Static) Current() *Runtime {
	return s.Runtime
}

func copyIntMap(in map[string]int) map[string]int {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}
