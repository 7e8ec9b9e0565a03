// Package redisconn shares one lazily dialed Redis client per consumer and keeps it
// out of the request path for a cool-down period after it fails.
package redisconn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	// Cooldown is how long a failed Redis stays bypassed.
	Cooldown    = 30 * time.Second
	pingTimeout = 2 * time.Second
)

var (
	// ErrCoolingDown is returned while a recent failure keeps Redis bypassed.
	ErrCoolingDown = errors.New("redisconn: cooling down after failure")
	// ErrNoAddress is returned when Redis is enabled without an address.
	ErrNoAddress = errors.New("redisconn: missing address")
)

// Dialer constructs a client for the given options.
type Dialer func(options *redis.Options) *redis.Client

// Target identifies the Redis server to talk to.
type Target struct {
	Addr     string
	Password string
	DB       int
}

func (t Target) normalize() Target {
	t.Addr = strings.TrimSpace(t.Addr)
	t.Password = strings.TrimSpace(t.Password)
	if t.DB < 0 {
		t.DB = 0
	}
	return t
}

// Conn owns at most one client. The client is re-dialed when the target changes.
type Conn struct {
	name string
	dial Dialer

	mu     sync.Mutex
	client *redis.Client
	target Target
	until  time.Time
}

// New returns a Conn; name labels its log lines. A nil dial uses redis.NewClient.
func New(name string, dial Dialer) *Conn {
	if dial == nil {
		dial = redis.NewClient
	}
	return &Conn{name: name, dial: dial}
}

// Client returns a pinged client for target, dialing it when needed.
func (c *Conn) Client(ctx context.Context, target Target, now time.Time) (*redis.Client, error) {
	target = target.normalize()
	if target.Addr == "" {
		return nil, ErrNoAddress
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.coolingLocked(now) {
		return nil, ErrCoolingDown
	}
	if c.client != nil && c.target == target {
		return c.client, nil
	}
	c.closeLocked()

	client := c.dial(&redis.Options{Addr: target.Addr, Password: target.Password, DB: target.DB})
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		c.tripLocked(errPing, now)
		return nil, errPing
	}
	c.client = client
	c.target = target
	return client, nil
}

// Fail reports a failed command so callers bypass Redis for Cooldown.
func (c *Conn) Fail(err error, now time.Time) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tripLocked(err, now)
}

// CoolingDown reports whether Redis is currently bypassed.
func (c *Conn) CoolingDown(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coolingLocked(now)
}

// Close releases the client, if any.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Conn) coolingLocked(now time.Time) bool {
	if c.until.IsZero() {
		return false
	}
	if now.Before(c.until) {
		return true
	}
	c.until = time.Time{}
	return false
}

func (c *Conn) tripLocked(err error, now time.Time) {
	if now.Before(c.until) {
		return
	}
	c.until = now.Add(Cooldown)
	log.WithError(err).WithField("component", c.name).Warn("redis unavailable, using in-process fallback")
}

func (c *Conn) closeLocked() error {
	if c.client == nil {
		return nil
	}
	errClose := c.client.Close()
	c.client = nil
	return errClose
}
