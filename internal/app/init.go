package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hrvstr/datagate/internal/db"
	internalsettings "github.com/hrvstr/datagate/internal/settings"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	defaultSQLitePath           = "datagate.db"
	defaultTransactionRetention = 90 * 24 * time.Hour
	secretBytes                 = 32
)

// ErrConfigExists is returned by WriteConfigFile instead of overwriting a file.
var ErrConfigExists = errors.New("init: config file already exists")

// InitRequest holds the answers needed to write a first config.yaml.
type InitRequest struct {
	DatabaseType     string // sqlite (default) or postgres.
	DatabaseHost     string
	DatabasePort     int
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	DatabasePath     string // sqlite only.
	DatabaseSSLMode  string
	Listen           string
	RedisAddr        string // Empty leaves redis disabled.
}

// ValidateInitRequest fills defaults and reports every missing postgres field at once.
func ValidateInitRequest(req *InitRequest) error {
	req.DatabaseType = strings.ToLower(strings.TrimSpace(req.DatabaseType))
	if req.DatabaseType == "" {
		req.DatabaseType = "sqlite"
	}
	if req.Listen = strings.TrimSpace(req.Listen); req.Listen == "" {
		req.Listen = internalsettings.DefaultListenAddr
	}

	switch req.DatabaseType {
	case "sqlite":
		if strings.TrimSpace(req.DatabasePath) == "" {
			req.DatabasePath = defaultSQLitePath
		}
		return nil
	case "postgres":
		var missing []string
		for name, value := range map[string]string{
			"host": req.DatabaseHost,
			"user": req.DatabaseUser,
			"name": req.DatabaseName,
		} {
			if strings.TrimSpace(value) == "" {
				missing = append(missing, name)
			}
		}
		if req.DatabasePort <= 0 || req.DatabasePort > 65535 {
			missing = append(missing, "port")
		}
		if len(missing) > 0 {
			return fmt.Errorf("init: postgres settings missing or invalid: %s", strings.Join(missing, ", "))
		}
		return nil
	default:
		return fmt.Errorf("init: unsupported database type %q", req.DatabaseType)
	}
}

// BuildDSN renders the connection string for req. Credentials are URL-escaped.
func BuildDSN(req InitRequest) (string, error) {
	switch strings.ToLower(strings.TrimSpace(req.DatabaseType)) {
	case "sqlite":
		path := strings.TrimSpace(req.DatabasePath)
		if path == "" {
			path = defaultSQLitePath
		}
		return db.BuildSQLiteDSN(path), nil
	case "postgres":
		sslMode := strings.TrimSpace(req.DatabaseSSLMode)
		if sslMode == "" {
			sslMode = "disable"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(req.DatabaseUser, req.DatabasePassword),
			Host:     net.JoinHostPort(req.DatabaseHost, strconv.Itoa(req.DatabasePort)),
			Path:     "/" + req.DatabaseName,
			RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
		}
		return u.String(), nil
	default:
		return "", fmt.Errorf("init: unsupported database type %q", req.DatabaseType)
	}
}

// PingDatabase opens dsn and checks that the server answers.
func PingDatabase(ctx context.Context, dsn string) error {
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return errOpen
	}
	defer func() {
		if errClose := db.Close(conn); errClose != nil {
			log.WithError(errClose).Warn("init: close database failed")
		}
	}()
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		return fmt.Errorf("init: sql handle: %w", errDB)
	}
	if errPing := sqlDB.PingContext(ctx); errPing != nil {
		return fmt.Errorf("init: ping database: %w", errPing)
	}
	return nil
}

// ConfigExists reports whether a file is present at configPath.
func ConfigExists(configPath string) bool {
	_, errStat := os.Stat(configPath)
	return errStat == nil
}

// starterConfig is the subset of config.yaml written by init; everything else keeps
// its default.
type starterConfig struct {
	Listen      string `yaml:"listen"`
	DatabaseDSN string `yaml:"database-dsn"`
	JWT         struct {
		Secret string `yaml:"secret"`
		Issuer string `yaml:"issuer"`
	} `yaml:"jwt"`
	Billing struct {
		WebhookSecret string `yaml:"webhook-secret"`
	} `yaml:"billing"`
	Redis struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr,omitempty"`
	} `yaml:"redis"`
	Access struct {
		FetchTimeout    string `yaml:"fetch-timeout"`
		SessionsEnabled bool   `yaml:"sessions-enabled"`
	} `yaml:"access"`
	Cleanup struct {
		TransactionRetention string `yaml:"transaction-retention"`
	} `yaml:"cleanup"`
	Sources map[string]struct {
		BaseURL string `yaml:"base-url"`
		APIKey  string `yaml:"api-key"`
	} `yaml:"sources"`
}

func randomSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", fmt.Errorf("init: random secret: %w", errRead)
	}
	return hex.EncodeToString(buf), nil
}

// WriteConfigFile writes a starter config with fresh JWT and billing secrets. It
// never overwrites an existing file.
func WriteConfigFile(configPath string, req InitRequest) error {
	if ConfigExists(configPath) {
		return fmt.Errorf("%w: %s", ErrConfigExists, configPath)
	}
	dsn, errDSN := BuildDSN(req)
	if errDSN != nil {
		return errDSN
	}

	var cfg starterConfig
	cfg.Listen = req.Listen
	cfg.DatabaseDSN = dsn
	cfg.JWT.Issuer = internalsettings.ServiceName
	for _, dst := range []*string{&cfg.JWT.Secret, &cfg.Billing.WebhookSecret} {
		secret, errSecret := randomSecret()
		if errSecret != nil {
			return errSecret
		}
		*dst = secret
	}
	cfg.Redis.Addr = strings.TrimSpace(req.RedisAddr)
	cfg.Redis.Enabled = cfg.Redis.Addr != ""
	cfg.Access.FetchTimeout = internalsettings.DefaultFetchTimeout.String()
	cfg.Access.SessionsEnabled = true
	cfg.Cleanup.TransactionRetention = defaultTransactionRetention.String()

	data, errMarshal := yaml.Marshal(&cfg)
	if errMarshal != nil {
		return fmt.Errorf("init: marshal config: %w", errMarshal)
	}
	if errMkdir := os.MkdirAll(filepath.Dir(configPath), 0o755); errMkdir != nil {
		return fmt.Errorf("init: create config dir: %w", errMkdir)
	}
	// The file carries secrets.
	if errWrite := os.WriteFile(configPath, data, 0o600); errWrite != nil {
		return fmt.Errorf("init: write config: %w", errWrite)
	}
	return nil
}
