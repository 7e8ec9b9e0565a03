package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hrvstr/datagate/internal/access"
	"github.com/hrvstr/datagate/internal/cachestore"
	"github.com/hrvstr/datagate/internal/cleanup"
	"github.com/hrvstr/datagate/internal/config"
	"github.com/hrvstr/datagate/internal/db"
	"github.com/hrvstr/datagate/internal/fetch"
	"github.com/hrvstr/datagate/internal/http/api"
	"github.com/hrvstr/datagate/internal/http/api/admin"
	"github.com/hrvstr/datagate/internal/http/api/front"
	"github.com/hrvstr/datagate/internal/keylock"
	"github.com/hrvstr/datagate/internal/ledger"
	"github.com/hrvstr/datagate/internal/ratelimit"
	"github.com/hrvstr/datagate/internal/sessions"
	internalsettings "github.com/hrvstr/datagate/internal/settings"
	"github.com/hrvstr/datagate/internal/tier"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Options are the command line inputs shared by every subcommand.
type Options struct {
	ConfigPath string
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, opts Options) error {
	configPath := config.ResolveConfigPath(opts.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := db.Close(conn); errClose != nil {
			log.WithError(errClose).Warn("migrate: close database failed")
		}
	}()
	return db.Migrate(conn.WithContext(ctx))
}

// RunServer boots the HTTP API, the background sweeps and the config watcher, and blocks
// until ctx is done or the listener fails.
func RunServer(ctx context.Context, opts Options) error {
	configPath := config.ResolveConfigPath(opts.ConfigPath)
	fileCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	configureLogging(fileCfg.Debug)

	dsn, err := fileCfg.DSN()
	if err != nil {
		return err
	}
	if strings.TrimSpace(fileCfg.JWT.Secret) == "" {
		return config.ErrMissingJWTSecret
	}
	table, err := tier.LoadTable(fileCfg.PolicyFile)
	if err != nil {
		return err
	}

	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := db.Close(conn); errClose != nil {
			log.WithError(errClose).Warn("server: close database failed")
		}
	}()
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	snapshots := config.NewSnapshotStore(config.NewRuntime(fileCfg, time.Now()))
	watcher := config.NewWatcher(configPath, snapshots, func(rt *config.Runtime) {
		log.WithFields(log.Fields{
			"sessions_enabled": rt.SessionsEnabled,
			"fetch_timeout":    rt.FetchTimeout.String(),
			"rate_limit":       rt.RateLimit,
		}).Info("runtime settings reloaded")
	})
	if errWatch := watcher.Start(ctx); errWatch != nil {
		log.WithError(errWatch).Warn("config watcher unavailable, settings will not hot reload")
	}

	locks := keylock.NewManager(LockSettings(snapshots), nil, nil)
	defer func() { _ = locks.Close() }()
	limiter := ratelimit.NewManager(RateLimitSettings(snapshots), nil, nil)
	defer func() { _ = limiter.Close() }()

	registry := fetch.NewRegistry()
	fetch.RegisterHTTP(registry, fetch.NewHTTPFetcher(snapshots, nil))

	ledgerSvc := ledger.New(conn, table)
	cache := cachestore.New(conn)
	sessionMgr := sessions.New(conn)
	controller := access.New(access.Deps{
		Sessions:  sessionMgr,
		Cache:     cache,
		Ledger:    ledgerSvc,
		Policies:  table,
		Fetcher:   registry,
		Locks:     locks,
		Snapshots: snapshots,
	})

	scheduler := cleanup.New(sessionMgr, cache, ledgerSvc, cleanup.Intervals{
		Sessions:             fileCfg.Cleanup.SessionInterval,
		Cache:                fileCfg.Cleanup.CacheInterval,
		Overruns:             fileCfg.Cleanup.OverrunInterval,
		CycleReset:           fileCfg.Cleanup.CycleResetInterval,
		TransactionRetention: fileCfg.Cleanup.TransactionRetention,
	})
	scheduler.Start(ctx)

	engine := api.NewRouter(api.Services{
		Front: front.Deps{
			Access:    controller,
			Ledger:    ledgerSvc,
			Sessions:  sessionMgr,
			Limiter:   limiter,
			Snapshots: snapshots,
			JWT:       fileCfg.JWT,
		},
		Admin: admin.Deps{
			Cache:    cache,
			Ledger:   ledgerSvc,
			Sessions: sessionMgr,
			Policies: table,
			Sweeper:  scheduler,
			JWT:      fileCfg.JWT,
		},
	})

	server := &http.Server{
		Addr:              fileCfg.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errServe := make(chan error, 1)
	go func() {
		log.Infof("starting datagate on %s with config=%s", fileCfg.Listen, configPath)
		if errListen := server.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			errServe <- errListen
		}
		close(errServe)
	}()

	select {
	case errListen, ok := <-errServe:
		if ok {
			return fmt.Errorf("server: listen: %w", errListen)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("server: shutdown: %w", errShutdown)
	}
	log.Info("datagate stopped")
	return nil
}

// LockSettings maps the runtime snapshot onto key lock settings. The Redis lease never
// ends before the slowest fetch it guards could finish.
func LockSettings(provider config.Provider) keylock.SettingsProvider {
	return func() keylock.SettingsConfig {
		rt := provider.Current()
		if rt == nil {
			return keylock.SettingsConfig{}
		}
		fetchTimeout := rt.FetchTimeout
		if fetchTimeout <= 0 {
			fetchTimeout = internalsettings.DefaultFetchTimeout
		}
		return keylock.SettingsConfig{
			Timeout:       rt.LockTimeout,
			TTL:           max(rt.Redis.LockTTL, fetchTimeout+internalsettings.FetchLeaseMargin),
			RedisEnabled:  rt.Redis.Enabled,
			RedisAddr:     rt.Redis.Addr,
			RedisPassword: rt.Redis.Password,
			RedisDB:       rt.Redis.DB,
			RedisPrefix:   rt.Redis.Prefix,
		}
	}
}

// RateLimitSettings maps the runtime snapshot onto rate limit settings.
func RateLimitSettings(provider config.Provider) ratelimit.SettingsProvider {
	return func() ratelimit.SettingsConfig {
		rt := provider.Current()
		if rt == nil {
			return ratelimit.SettingsConfig{}
		}
		return ratelimit.SettingsConfig{
			Limit:          rt.RateLimit,
			Window:         rt.RateLimitWindow,
			TierLimits:     rt.TierRateLimits,
			DataTypeLimits: rt.DataTypeRateLimits,
			RedisEnabled:   rt.Redis.Enabled,
			RedisAddr:      rt.Redis.Addr,
			RedisPassword:  rt.Redis.Password,
			RedisDB:        rt.Redis.DB,
			RedisPrefix:    rt.Redis.Prefix,
		}
	}
}

func configureLogging(debug bool) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if debug {
		log.SetLevel(log.DebugLevel)
		gin.SetMode(gin.DebugMode)
		return
	}
	log.SetLevel(log.InfoLevel)
	gin.SetMode(gin.ReleaseMode)
}
