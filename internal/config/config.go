package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	internalsettings "github.com/hrvstr/datagate/internal/settings"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvDBConnection  = "DB_CONNECTION"
	EnvJWTSecret     = "JWT_SECRET"
	EnvBillingSecret = "BILLING_WEBHOOK_SECRET"
	EnvRedisAddr     = "REDIS_ADDR"
	EnvListenAddr    = "LISTEN_ADDR"
)

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// ErrMissingJWTSecret indicates the bearer token secret is not configured.
var ErrMissingJWTSecret = errors.New("missing jwt secret (set `jwt.secret` or JWT_SECRET)")

// File mirrors config.yaml.
type File struct {
	Listen      string `yaml:"listen"`
	DatabaseDSN string `yaml:"database-dsn"`
	Database    struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Debug      bool                    `yaml:"debug"`
	PolicyFile string                  `yaml:"policy-file"`
	JWT        JWTConfig               `yaml:"jwt"`
	Billing    BillingConfig           `yaml:"billing"`
	Redis      RedisConfig             `yaml:"redis"`
	Cleanup    CleanupConfig           `yaml:"cleanup"`
	Access     AccessConfig            `yaml:"access"`
	Sources    map[string]SourceConfig `yaml:"sources"`
}

// JWTConfig holds the bearer token verification secret.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// BillingConfig holds the shared secret of the billing processor.
type BillingConfig struct {
	WebhookSecret string `yaml:"webhook-secret"`
}

// RedisConfig enables the shared lock and rate limit backend.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	LockTTL  time.Duration `yaml:"lock-ttl"`
}

// CleanupConfig sets the background sweep intervals.
type CleanupConfig struct {
	SessionInterval      time.Duration `yaml:"session-interval"`
	CacheInterval        time.Duration `yaml:"cache-interval"`
	OverrunInterval      time.Duration `yaml:"overrun-interval"`
	CycleResetInterval   time.Duration `yaml:"cycle-reset-interval"`
	TransactionRetention time.Duration `yaml:"transaction-retention"` // 0 keeps transactions forever.
}

// AccessConfig holds the hot-reloadable request path settings.
type AccessConfig struct {
	FetchTimeout       time.Duration  `yaml:"fetch-timeout"`
	LockTimeout        time.Duration  `yaml:"lock-timeout"`
	SessionsEnabled    *bool          `yaml:"sessions-enabled"`
	RateLimit          int            `yaml:"rate-limit"`
	RateLimitWindow    time.Duration  `yaml:"rate-limit-window"`
	TierRateLimits     map[string]int `yaml:"tier-rate-limits"`
	DataTypeRateLimits map[string]int `yaml:"data-type-rate-limits"`
	DisabledDataTypes  []string       `yaml:"disabled-data-types"`
}

// SourceConfig points a data type at its upstream adapter.
type SourceConfig struct {
	BaseURL string `yaml:"base-url"`
	APIKey  string `yaml:"api-key"`
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Load reads the config file at path, applies environment overrides and defaults.
// A missing file is not an error: everything can come from the environment.
func Load(path string) (File, error) {
	var cfg File
	data, errRead := os.ReadFile(path)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return File{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return File{}, fmt.Errorf("read config file: %w", errRead)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// DSN returns the configured database DSN.
func (f File) DSN() (string, error) {
	if dsn := strings.TrimSpace(f.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(f.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// LoadDatabaseDSN reads the database DSN from the environment or the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	cfg, errLoad := Load(configPath)
	if errLoad != nil {
		return "", errLoad
	}
	return cfg.DSN()
}

func (f *File) applyEnv() {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		f.DatabaseDSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		f.JWT.Secret = secret
	}
	if secret := strings.TrimSpace(os.Getenv(EnvBillingSecret)); secret != "" {
		f.Billing.WebhookSecret = secret
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		f.Redis.Addr = addr
		f.Redis.Enabled = true
	}
	if listen := strings.TrimSpace(os.Getenv(EnvListenAddr)); listen != "" {
		f.Listen = listen
	}
}

func (f *File) applyDefaults() {
	if strings.TrimSpace(f.Listen) == "" {
		f.Listen = internalsettings.DefaultListenAddr
	}
	if strings.TrimSpace(f.Redis.Prefix) == "" {
		f.Redis.Prefix = internalsettings.DefaultRedisPrefix
	}
	if f.Redis.LockTTL <= 0 {
		f.Redis.LockTTL = internalsettings.DefaultLockTTL
	}
	if f.Cleanup.SessionInterval <= 0 {
		f.Cleanup.SessionInterval = internalsettings.DefaultSessionSweepInterval
	}
	if f.Cleanup.CacheInterval <= 0 {
		f.Cleanup.CacheInterval = internalsettings.DefaultCacheSweepInterval
	}
	if f.Cleanup.OverrunInterval <= 0 {
		f.Cleanup.OverrunInterval = internalsettings.DefaultOverrunSweepInterval
	}
	if f.Cleanup.CycleResetInterval <= 0 {
		f.Cleanup.CycleResetInterval = internalsettings.DefaultCycleResetInterval
	}
	if f.Cleanup.TransactionRetention < 0 {
		f.Cleanup.TransactionRetention = 0
	}
	if f.Access.FetchTimeout <= 0 {
		f.Access.FetchTimeout = internalsettings.DefaultFetchTimeout
	}
	if f.Access.LockTimeout <= 0 {
		f.Access.LockTimeout = internalsettings.DefaultLockTimeout
	}
	if f.Access.RateLimit < 0 {
		f.Access.RateLimit = internalsettings.DefaultRateLimit
	}
	if f.Access.RateLimitWindow <= 0 {
		f.Access.RateLimitWindow = time.Second
	}
}
