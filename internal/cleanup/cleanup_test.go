package cleanup

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hrvstr/datagate/internal/cachestore"
	"github.com/hrvstr/datagate/internal/db"
	"github.com/hrvstr/datagate/internal/ledger"
	"github.com/hrvstr/datagate/internal/models"
	"github.com/hrvstr/datagate/internal/payload"
	"github.com/hrvstr/datagate/internal/sessions"
	"github.com/hrvstr/datagate/internal/tier"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "cleanup.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	return conn
}

func seedUser(t *testing.T, conn *gorm.DB, id uint64, tierName tier.Tier, resetAt time.Time) {
	t.Helper()
	user := models.User{ID: id, Tier: string(tierName), MonthlyCredits: 500, CreditsUsed: 120, CreditsResetAt: resetAt}
	if err := conn.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func sessionStatus(t *testing.T, conn *gorm.DB, sessionID string) models.SessionStatus {
	t.Helper()
	var row models.Session
	if err := conn.Where("session_id = ?", sessionID).Take(&row).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	return row.Status
}

func TestExpireOverrunsKeepsCapFromUnlock(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedUser(t, conn, 1, tier.Elite, now.AddDate(0, 1, 0))
	table := tier.Default()

	mgr := sessions.New(conn)
	mgr.SetClock(func() time.Time { return now.Add(-3 * time.Hour) })
	opened, err := mgr.CreateCapped(ctx, 1, "earnings-analysis", 10, 4*time.Hour, table.MaxSessionDuration(tier.Elite))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	mgr.SetClock(func() time.Time { return now })

	s := New(mgr, nil, nil, Intervals{})
	s.SetClock(func() time.Time { return now })

	l := ledger.New(conn, table)
	for _, downgrade := range []tier.Tier{tier.Pro, tier.Free} {
		if errTier := l.SetTier(ctx, 1, downgrade); errTier != nil {
			t.Fatalf("set tier %s: %v", downgrade, errTier)
		}
		expired, errExpire := s.ExpireOverruns(ctx)
		if errExpire != nil {
			t.Fatalf("expire overruns: %v", errExpire)
		}
		if expired != 0 {
			t.Fatalf("expected paid session to survive downgrade to %s, got %d expired", downgrade, expired)
		}
	}
	found, err := mgr.FindActive(ctx, 1, "earnings-analysis")
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if found == nil || found.SessionID != opened.SessionID {
		t.Fatalf("expected session still active, got %+v", found)
	}
}

func TestExpireOverrunsForcesPastRecordedCap(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedUser(t, conn, 1, tier.Pro, now.AddDate(0, 1, 0))

	mgr := sessions.New(conn)
	mgr.SetClock(func() time.Time { return now.Add(-3 * time.Hour) })
	opened, err := mgr.CreateCapped(ctx, 1, "insider", 6, 4*time.Hour, 2*time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	mgr.SetClock(func() time.Time { return now })

	s := New(mgr, nil, nil, Intervals{})
	s.SetClock(func() time.Time { return now })
	expired, err := s.ExpireOverruns(ctx)
	if err != nil {
		t.Fatalf("expire overruns: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 overrun, got %d", expired)
	}
	if status := sessionStatus(t, conn, opened.SessionID); status != models.SessionStatusExpired {
		t.Fatalf("expected expired status, got %s", status)
	}
}

func TestRunOnceSweepsEverything(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedUser(t, conn, 1, tier.Pro, now.Add(-time.Hour))
	table := tier.Default()

	mgr := sessions.New(conn)
	mgr.SetClock(func() time.Time { return now.Add(-time.Hour) })
	stale, err := mgr.Create(ctx, 1, "sentiment", 3, 30*time.Minute)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	mgr.SetClock(time.Now)

	store := cachestore.New(conn)
	store.SetClock(func() time.Time { return now.Add(-2 * time.Hour) })
	key := cachestore.Key{UserID: 1, DataType: payload.DataRedditSentiment, TimeRange: "1d", Ticker: "TSLA"}
	if _, errPut := store.Put(ctx, key, payload.Sentiment{Source: "reddit", Score: 0.3}, nil, time.Hour, 2); errPut != nil {
		t.Fatalf("put: %v", errPut)
	}
	store.SetClock(time.Now)

	l := ledger.New(conn, table)
	l.SetClock(func() time.Time { return now.Add(-time.Hour) })
	claim := ledger.Claim{UserID: 1, DataType: payload.DataRedditSentiment, TimeRange: "1d", Token: "left-behind", Lease: time.Minute}
	if _, errDeduct := l.DeductClaimed(ctx, 1, claim, nil); errDeduct != nil {
		t.Fatalf("deduct claimed: %v", errDeduct)
	}
	l.SetClock(time.Now)
	old := models.CreditTransaction{UserID: 1, Action: models.CreditActionDeduct, CreditsDelta: -1, CreatedAt: now.AddDate(0, 0, -120)}
	if errCreate := conn.Create(&old).Error; errCreate != nil {
		t.Fatalf("seed transaction: %v", errCreate)
	}

	s := New(mgr, store, l, Intervals{TransactionRetention: 90 * 24 * time.Hour})
	if errRun := s.RunOnce(ctx); errRun != nil {
		t.Fatalf("run once: %v", errRun)
	}

	if status := sessionStatus(t, conn, stale.SessionID); status != models.SessionStatusExpired {
		t.Fatalf("expected stale session expired, got %s", status)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("expected expired cache row deleted, got %d rows", stats.Total)
	}
	bal, err := l.Balance(ctx, 1)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Used != 0 || !bal.ResetAt.After(now) {
		t.Fatalf("expected cycle reset, got %+v", bal)
	}
	var remaining int64
	if errCount := conn.Model(&models.CreditTransaction{}).Where("id = ?", old.ID).Count(&remaining).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if remaining != 0 {
		t.Fatalf("expected old transaction pruned")
	}
	var claims int64
	if errCount := conn.Model(&models.FetchClaim{}).Count(&claims).Error; errCount != nil {
		t.Fatalf("count claims: %v", errCount)
	}
	if claims != 0 {
		t.Fatalf("expected expired claim purged, got %d", claims)
	}
}

type failingCache struct{ err error }

func (f failingCache) DeleteExpired(context.Context) (int64, error) { return 0, f.err }

func TestRunOnceContinuesPastFailures(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seedUser(t, conn, 1, tier.Pro, now.Add(-time.Hour))
	table := tier.Default()

	boom := errors.New("disk full")
	s := New(sessions.New(conn), failingCache{err: boom}, ledger.New(conn, table), Intervals{})
	errRun := s.RunOnce(ctx)
	if !errors.Is(errRun, boom) {
		t.Fatalf("expected cache failure, got %v", errRun)
	}
	bal, err := ledger.New(conn, table).Balance(ctx, 1)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Used != 0 {
		t.Fatalf("expected reset to run despite cache failure, got used %d", bal.Used)
	}
}

func TestStartStopsWithContext(t *testing.T) {
	conn := openTestDB(t)
	table := tier.Default()
	s := New(sessions.New(conn), cachestore.New(conn), ledger.New(conn, table), Intervals{
		Sessions:   10 * time.Millisecond,
		Cache:      10 * time.Millisecond,
		Overruns:   10 * time.Millisecond,
		CycleReset: 10 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
}
