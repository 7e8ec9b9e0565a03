package settings

import "time"

// Config keys and defaults shared by the config loader and runtime snapshot.
const (
	// ServiceName is reported by the health endpoint.
	ServiceName = "datagate"
	// DefaultListenAddr is the fallback HTTP listen address.
	DefaultListenAddr = ":8320"
	// DefaultFetchTimeout bounds a single external fetch.
	DefaultFetchTimeout = 20 * time.Second
	// DefaultLockTimeout bounds how long a request waits for the per-key miss lock.
	DefaultLockTimeout = 30 * time.Second
	// DefaultLockTTL is the lease of a redis-held miss lock.
	DefaultLockTTL = 45 * time.Second
	// FetchLeaseMargin is how long past the fetch timeout a miss lock or fetch claim
	// must stay held to cover the cache write.
	FetchLeaseMargin = 15 * time.Second
	// DefaultSessionSweepInterval controls the session expiry sweep.
	DefaultSessionSweepInterval = 2 * time.Minute
	// DefaultCacheSweepInterval controls the cache deletion sweep.
	DefaultCacheSweepInterval = 5 * time.Minute
	// DefaultOverrunSweepInterval controls the overrun session sweep.
	DefaultOverrunSweepInterval = 10 * time.Minute
	// DefaultCycleResetInterval controls the credit cycle reset sweep.
	DefaultCycleResetInterval = 15 * time.Minute
	// DefaultRateLimit is the fallback per-user requests per second (0 means unlimited).
	DefaultRateLimit = 0
	// DefaultRedisPrefix is the fallback Redis key prefix.
	DefaultRedisPrefix = "datagate"
	// BillingSecretHeader carries the shared secret on billing notifications.
	BillingSecretHeader = "X-Billing-Secret"
)
