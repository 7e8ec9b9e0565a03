package db

import (
	"fmt"

	"github.com/hrvstr/datagate/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.CacheEntry{},
		&models.CreditTransaction{},
		&models.FetchClaim{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	// ddl defines an index or DDL statement to apply.
	type ddl struct {
		name string // Human-readable name for error reporting.
		sql  string // SQL to execute.
	}
	ddls := []ddl{
		{
			name: "idx_sessions_status_expires_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_sessions_status_expires_at
				ON sessions (status, expires_at)
			`,
		},
		{
			name: "idx_cache_entries_user_id_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_cache_entries_user_id_created_at
				ON cache_entries (user_id, created_at DESC)
			`,
		},
		{
			name: "idx_credit_transactions_created_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_credit_transactions_created_at
				ON credit_transactions (created_at)
			`,
		},
	}
	for _, item := range ddls {
		if errDDL := conn.Exec(item.sql).Error; errDDL != nil {
			return fmt.Errorf("db: create index %s: %w", item.name, errDDL)
		}
	}
	return nil
}
