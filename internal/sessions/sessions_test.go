package sessions

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hrvstr/datagate/internal/db"
	"github.com/hrvstr/datagate/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	return conn
}

func TestCreateAndFindActive(t *testing.T) {
	m := New(openTestDB(t))
	ctx := context.Background()

	created, err := m.Create(ctx, 1, "earnings-analysis", 10, time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.SessionID == "" || created.Status != models.SessionStatusActive {
		t.Fatalf("unexpected session %+v", created)
	}
	if created.MaxDuration != time.Hour {
		t.Fatalf("expected cap to default to the duration, got %s", created.MaxDuration)
	}
	found, err := m.FindActive(ctx, 1, "earnings-analysis")
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if found == nil || found.SessionID != created.SessionID {
		t.Fatalf("expected to find created session, got %+v", found)
	}
	if other, _ := m.FindActive(ctx, 2, "earnings-analysis"); other != nil {
		t.Fatalf("expected no session for another user")
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	m := New(openTestDB(t))
	ctx := context.Background()

	if _, err := m.Create(ctx, 1, "sentiment", 5, time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create(ctx, 1, "sentiment", 5, time.Hour); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}
	if _, err := m.Create(ctx, 1, "", 5, time.Hour); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestConcurrentCreateAdmitsOne(t *testing.T) {
	m := New(openTestDB(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, duplicates := 0, 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Create(ctx, 1, "insider", 6, time.Hour)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrDuplicateSession):
				duplicates++
			default:
				t.Errorf("unexpected create error: %v", err)
			}
		}()
	}
	wg.Wait()
	if created != 1 || duplicates != 5 {
		t.Fatalf("expected 1 created and 5 duplicates, got %d and %d", created, duplicates)
	}
}

func TestExpiredSessionHiddenAndReplaceable(t *testing.T) {
	m := New(openTestDB(t))
	ctx := context.Background()
	base := time.Now().UTC()
	m.SetClock(func() time.Time { return base })

	first, err := m.Create(ctx, 1, "sentiment", 5, 30*time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m.SetClock(func() time.Time { return base.Add(time.Hour) })
	if found, _ := m.FindActive(ctx, 1, "sentiment"); found != nil {
		t.Fatalf("expected expired session hidden")
	}
	second, err := m.Create(ctx, 1, "sentiment", 5, 30*time.Minute)
	if err != nil {
		t.Fatalf("expected stale session to be replaced, got %v", err)
	}
	if second.SessionID == first.SessionID {
		t.Fatalf("expected a new session row")
	}
}

func TestForceExpireIsIdempotent(t *testing.T) {
	m := New(openTestDB(t))
	ctx := context.Background()

	s, err := m.Create(ctx, 1, "sentiment", 5, time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n, err := m.ForceExpire(ctx, s.SessionID); err != nil || n != 1 {
		t.Fatalf("expected 1 expired, got %d %v", n, err)
	}
	if n, err := m.ForceExpire(ctx, s.SessionID, "missing"); err != nil || n != 0 {
		t.Fatalf("expected idempotent no-op, got %d %v", n, err)
	}
	if found, _ := m.FindActive(ctx, 1, "sentiment"); found != nil {
		t.Fatalf("expected force-expired session hidden")
	}
	if _, err := m.Create(ctx, 1, "sentiment", 5, time.Hour); err != nil {
		t.Fatalf("expected new session after force expire, got %v", err)
	}
}

func TestExpireDueAndListActive(t *testing.T) {
	conn := openTestDB(t)
	m := New(conn)
	ctx := context.Background()
	now := time.Now().UTC()
	for _, user := range []models.User{
		{ID: 1, Tier: "pro", CreditsResetAt: now, CreatedAt: now, UpdatedAt: now},
		{ID: 2, Tier: "elite", CreditsResetAt: now, CreatedAt: now, UpdatedAt: now},
	} {
		if err := conn.Create(&user).Error; err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	m.SetClock(func() time.Time { return now })
	if _, err := m.Create(ctx, 1, "short", 0, time.Minute); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.CreateCapped(ctx, 2, "long", 0, 3*time.Hour, 4*time.Hour); err != nil {
		t.Fatalf("create: %v", err)
	}

	m.SetClock(func() time.Time { return now.Add(10 * time.Minute) })
	expired, err := m.ExpireDue(ctx)
	if err != nil || expired != 1 {
		t.Fatalf("expected 1 expired session, got %d %v", expired, err)
	}
	active, err := m.ListActiveWithTier(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].UserID != 2 || active[0].Tier != "elite" {
		t.Fatalf("unexpected active sessions %+v", active)
	}
	if active[0].MaxDuration != 4*time.Hour {
		t.Fatalf("expected recorded cap 4h, got %s", active[0].MaxDuration)
	}
}
