package db

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hrvstr/datagate/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func TestBuildSQLiteDSN(t *testing.T) {
	dsn := BuildSQLiteDSN("data.db")
	if !strings.HasPrefix(dsn, "file:data.db?") {
		t.Fatalf("expected file: prefix, got %q", dsn)
	}
	if !strings.Contains(dsn, "_pragma=busy_timeout(5000)") {
		t.Fatalf("expected busy timeout pragma, got %q", dsn)
	}

	custom := BuildSQLiteDSN("file:x.db?_pragma=journal_mode(DELETE)")
	if custom != "file:x.db?_pragma=journal_mode(DELETE)" {
		t.Fatalf("expected custom pragmas preserved, got %q", custom)
	}
}

func TestMigrateAndUniqueViolation(t *testing.T) {
	conn, err := Open("file:" + filepath.Join(t.TempDir(), "datagate-test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = Close(conn) })

	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	if DialectName(conn) != DialectSQLite {
		t.Fatalf("expected sqlite dialect, got %q", DialectName(conn))
	}

	now := time.Now().UTC()
	entry := models.CacheEntry{
		UserID:    1,
		DataType:  "insider_trades",
		TimeRange: "1w",
		Payload:   []byte(`{}`),
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	if errCreate := conn.Create(&entry).Error; errCreate != nil {
		t.Fatalf("create entry: %v", errCreate)
	}
	dup := entry
	dup.ID = 0
	errDup := conn.Create(&dup).Error
	if errDup == nil {
		t.Fatalf("expected unique violation, got nil")
	}
	if !IsUniqueViolation(errDup) {
		t.Fatalf("expected IsUniqueViolation true for %v", errDup)
	}
	if IsUniqueViolation(nil) {
		t.Fatalf("expected nil error not to be a unique violation")
	}
}

func TestFloorAtZeroExpr(t *testing.T) {
	conn, err := Open("file:" + filepath.Join(t.TempDir(), "floor.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = Close(conn) })

	if got := FloorAtZeroExpr(conn, "credits_used"); got != "MAX(credits_used - ?, 0)" {
		t.Fatalf("unexpected sqlite expr %q", got)
	}
	if !IsSQLite(conn) {
		t.Fatalf("expected sqlite dialect, got %q", DialectName(conn))
	}
}

func TestMissingRowStaysOutOfLog(t *testing.T) {
	var buf bytes.Buffer
	previous := log.StandardLogger().Out
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(previous) })

	conn, err := Open("file:" + filepath.Join(t.TempDir(), "quiet.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = Close(conn) })
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	var user models.User
	errTake := conn.Where("id = ?", 404).Take(&user).Error
	if !errors.Is(errTake, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", errTake)
	}
	if strings.Contains(buf.String(), "record not found") {
		t.Fatalf("expected miss to stay out of the log, got %q", buf.String())
	}

	errBad := conn.Exec("SELECT * FROM no_such_table").Error
	if errBad == nil {
		t.Fatalf("expected error for unknown table")
	}
	if !strings.Contains(buf.String(), "no_such_table") {
		t.Fatalf("expected failing query in the log, got %q", buf.String())
	}
}
