package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hrvstr/datagate/internal/app"
	"github.com/hrvstr/datagate/internal/config"
	"github.com/hrvstr/datagate/internal/security"
	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		stop()
		os.Exit(1)
	}
}

// run dispatches the subcommand. With no subcommand the server is started.
func run(ctx context.Context, args []string) error {
	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		return runServe(ctx, args)
	case "migrate":
		return runMigrate(ctx, args)
	case "init":
		return runInit(ctx, args)
	case "token":
		return runToken(args)
	default:
		return fmt.Errorf("unknown command %q (expected serve, migrate, init or token)", command)
	}
}

func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", os.Getenv(config.EnvConfigPath), "config file path (or env CONFIG_PATH)")
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfgPath := configFlag(fs)
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	return app.RunServer(ctx, app.Options{ConfigPath: *cfgPath})
}

func runMigrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	cfgPath := configFlag(fs)
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	if errMigrate := app.Migrate(ctx, app.Options{ConfigPath: *cfgPath}); errMigrate != nil {
		return errMigrate
	}
	log.Info("migrations applied")
	return nil
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cfgPath := configFlag(fs)
	req := app.InitRequest{}
	fs.StringVar(&req.DatabaseType, "db-type", "sqlite", "database type (sqlite or postgres)")
	fs.StringVar(&req.DatabasePath, "db-path", "", "sqlite database file")
	fs.StringVar(&req.DatabaseHost, "db-host", "localhost", "postgres host")
	fs.IntVar(&req.DatabasePort, "db-port", 5432, "postgres port")
	fs.StringVar(&req.DatabaseUser, "db-user", "", "postgres user")
	fs.StringVar(&req.DatabasePassword, "db-password", "", "postgres password")
	fs.StringVar(&req.DatabaseName, "db-name", "", "postgres database name")
	fs.StringVar(&req.DatabaseSSLMode, "db-sslmode", "disable", "postgres ssl mode")
	fs.StringVar(&req.Listen, "listen", "", "HTTP listen address")
	fs.StringVar(&req.RedisAddr, "redis", "", "redis address for shared locks and rate limits")
	skipCheck := fs.Bool("skip-db-check", false, "do not test the database connection")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	if errValidate := app.ValidateInitRequest(&req); errValidate != nil {
		return errValidate
	}
	if !*skipCheck {
		dsn, errDSN := app.BuildDSN(req)
		if errDSN != nil {
			return errDSN
		}
		if errConn := app.PingDatabase(ctx, dsn); errConn != nil {
			return errConn
		}
	}
	path := config.ResolveConfigPath(*cfgPath)
	if errWrite := app.WriteConfigFile(path, req); errWrite != nil {
		return errWrite
	}
	log.Infof("config written to %s", path)
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	cfgPath := configFlag(fs)
	userID := fs.Uint64("user", 0, "user id placed in the sub claim")
	admin := fs.Bool("admin", false, "grant the admin claim")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	if *userID == 0 && !*admin {
		return errors.New("token: -user is required unless -admin is set")
	}

	cfg, errLoad := config.Load(config.ResolveConfigPath(*cfgPath))
	if errLoad != nil {
		return errLoad
	}
	token, errIssue := security.IssueToken(cfg.JWT.Secret, cfg.JWT.Issuer, *userID, *admin, *ttl)
	if errIssue != nil {
		return errIssue
	}
	fmt.Println(token)
	return nil
}
