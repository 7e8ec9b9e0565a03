package access

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hrvstr/datagate/internal/cachestore"
	"github.com/hrvstr/datagate/internal/config"
	"github.com/hrvstr/datagate/internal/db"
	"github.com/hrvstr/datagate/internal/fetch"
	"github.com/hrvstr/datagate/internal/ledger"
	"github.com/hrvstr/datagate/internal/models"
	"github.com/hrvstr/datagate/internal/payload"
	"github.com/hrvstr/datagate/internal/sessions"
	"github.com/hrvstr/datagate/internal/tier"
	"gorm.io/gorm"
)

type harness struct {
	conn     *gorm.DB
	ledger   *ledger.Ledger
	cache    *cachestore.Store
	sessions *sessions.Manager
	calls    atomic.Int32
	ctrl     *Controller
}

func newHarness(t *testing.T, fetcher fetch.Func, rt *config.Runtime) *harness {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "access.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	t.Cleanup(func() { _ = db.Close(conn) })

	table := tier.Default()
	h := &harness{
		conn:     conn,
		ledger:   ledger.New(conn, table),
		cache:    cachestore.New(conn),
		sessions: sessions.New(conn),
	}
	counted := fetch.Func(func(ctx context.Context, req fetch.Request) (payload.Payload, error) {
		h.calls.Add(1)
		return fetcher(ctx, req)
	})
	h.ctrl = New(Deps{
		Sessions:  h.sessions,
		Cache:     h.cache,
		Ledger:    h.ledger,
		Policies:  table,
		Fetcher:   counted,
		Snapshots: config.Static{Runtime: rt},
	})
	return h
}

func (h *harness) seed(t *testing.T, userID uint64, tierName tier.Tier, monthly int64) {
	t.Helper()
	now := time.Now().UTC()
	user := models.User{
		ID:             userID,
		Tier:           string(tierName),
		MonthlyCredits: monthly,
		CreditsResetAt: now.AddDate(0, 1, 0),
	}
	if err := h.conn.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func (h *harness) available(t *testing.T, userID uint64) int64 {
	t.Helper()
	bal, err := h.ledger.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Available
}

func insiderFetcher(_ context.Context, req fetch.Request) (payload.Payload, error) {
	return payload.InsiderTrades{
		Ticker: req.Ticker,
		Trades: []payload.InsiderTrade{{Insider: "J. Doe", Ticker: req.Ticker, TransactionType: "buy", Shares: 100, Price: 10, Value: 1000}},
	}, nil
}

func insiderRequest(userID uint64, tierName tier.Tier) Request {
	return Request{UserID: userID, Tier: tierName, DataType: payload.DataInsiderTrades, TimeRange: "1w", Ticker: "aapl"}
}

func expectKind(t *testing.T, resp Response, err error, want Kind) {
	t.Helper()
	kind, ok := KindOf(err)
	if !ok || kind != want {
		t.Fatalf("expected %s, got %v", want, err)
	}
	if resp.Success || resp.Error == nil || resp.Error.Kind != want {
		t.Fatalf("expected failed response with %s, got %+v", want, resp)
	}
}

func TestChargeThenCacheHitThenInsufficientRefresh(t *testing.T) {
	h := newHarness(t, insiderFetcher, nil)
	h.seed(t, 1, tier.Pro, 10)
	ctx := context.Background()

	resp, err := h.ctrl.Access(ctx, insiderRequest(1, tier.Pro))
	if err != nil {
		t.Fatalf("access: %v", err)
	}
	if !resp.Success || !resp.FreshlyFetched || resp.FromCache || resp.CreditsUsed != 6 {
		t.Fatalf("expected charged fetch of 6 credits, got %+v", resp)
	}
	if got := h.available(t, 1); got != 4 {
		t.Fatalf("expected balance 4, got %d", got)
	}
	entry, err := h.cache.Get(ctx, cachestore.Key{UserID: 1, DataType: payload.DataInsiderTrades, TimeRange: "1w", Ticker: "AAPL"})
	if err != nil || entry == nil {
		t.Fatalf("expected cache entry, got %v %v", entry, err)
	}
	if ttl := entry.ExpiresAt.Sub(entry.CreatedAt); ttl < 8*time.Hour-time.Minute || ttl > 8*time.Hour+time.Minute {
		t.Fatalf("expected ttl of 8h, got %s", ttl)
	}
	if entry.CreditsUsed != 6 {
		t.Fatalf("expected entry to record 6 credits, got %d", entry.CreditsUsed)
	}

	hit, err := h.ctrl.Access(ctx, insiderRequest(1, tier.Pro))
	if err != nil {
		t.Fatalf("access hit: %v", err)
	}
	if !hit.FromCache || hit.FreshlyFetched || hit.CreditsUsed != 0 {
		t.Fatalf("expected cache hit, got %+v", hit)
	}
	if calls := h.calls.Load(); calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", calls)
	}

	forced := insiderRequest(1, tier.Pro)
	forced.ForceRefresh = true
	resp, err = h.ctrl.Access(ctx, forced)
	expectKind(t, resp, err, KindInsufficientCredits)
	if *resp.Error.CreditsRequired != 6 || *resp.Error.CreditsAvailable != 4 {
		t.Fatalf("expected required 6 available 4, got %+v", resp.Error)
	}
	if got := h.available(t, 1); got != 4 {
		t.Fatalf("expected balance to stay 4, got %d", got)
	}
}

func TestConcurrentMissesChargeOnce(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req fetch.Request) (payload.Payload, error) {
		time.Sleep(20 * time.Millisecond)
		return insiderFetcher(ctx, req)
	}, nil)
	h.seed(t, 1, tier.Pro, 100)

	const workers = 8
	var wg sync.WaitGroup
	var charged, cached atomic.Int32
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.ctrl.Access(context.Background(), insiderRequest(1, tier.Pro))
			if err != nil {
				errs <- err
				return
			}
			if resp.FromCache {
				cached.Add(1)
			} else if resp.CreditsUsed > 0 {
				charged.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("access: %v", err)
	}
	if charged.Load() != 1 || cached.Load() != workers-1 {
		t.Fatalf("expected 1 charge and %d hits, got %d and %d", workers-1, charged.Load(), cached.Load())
	}
	if calls := h.calls.Load(); calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", calls)
	}
	if got := h.available(t, 1); got != 94 {
		t.Fatalf("expected balance 94, got %d", got)
	}
}

func TestActiveSessionWaivesCharge(t *testing.T) {
	h := newHarness(t, insiderFetcher, nil)
	h.seed(t, 1, tier.Pro, 20)
	ctx := context.Background()

	req := insiderRequest(1, tier.Pro)
	req.Component = "insider-dashboard"
	first, err := h.ctrl.Access(ctx, req)
	if err != nil {
		t.Fatalf("access: %v", err)
	}
	if first.CreditsUsed != 6 || !first.HasActiveSession {
		t.Fatalf("expected charge with new session, got %+v", first)
	}
	session, err := h.sessions.FindActive(ctx, 1, "insider-dashboard")
	if err != nil || session == nil {
		t.Fatalf("expected active session, got %v %v", session, err)
	}
	if d := session.ExpiresAt.Sub(session.UnlockedAt); d != 2*time.Hour {
		t.Fatalf("expected 2h session, got %s", d)
	}

	req.ForceRefresh = true
	second, err := h.ctrl.Access(ctx, req)
	if err != nil {
		t.Fatalf("access under session: %v", err)
	}
	if !second.FreshlyFetched || !second.HasActiveSession || second.CreditsUsed != 0 {
		t.Fatalf("expected free session fetch, got %+v", second)
	}
	if got := h.available(t, 1); got != 14 {
		t.Fatalf("expected balance 14, got %d", got)
	}

	other := insiderRequest(1, tier.Pro)
	other.Component = "insider-dashboard"
	other.TimeRange = "1m"
	third, err := h.ctrl.Access(ctx, other)
	if err != nil {
		t.Fatalf("access other range under session: %v", err)
	}
	if third.CreditsUsed != 0 || !third.HasActiveSession {
		t.Fatalf("expected session to cover other ranges, got %+v", third)
	}
	if got := h.available(t, 1); got != 14 {
		t.Fatalf("expected balance to stay 14, got %d", got)
	}
}

func TestSessionsDisabledAlwaysCharges(t *testing.T) {
	off := false
	rt := config.NewRuntime(config.File{Access: config.AccessConfig{SessionsEnabled: &off}}, time.Now())
	h := newHarness(t, insiderFetcher, rt)
	h.seed(t, 1, tier.Pro, 20)

	req := insiderRequest(1, tier.Pro)
	req.Component = "insider-dashboard"
	req.ForceRefresh = true
	for i := 0; i < 2; i++ {
		resp, err := h.ctrl.Access(context.Background(), req)
		if err != nil {
			t.Fatalf("access: %v", err)
		}
		if resp.CreditsUsed != 6 || resp.HasActiveSession {
			t.Fatalf("expected plain charge, got %+v", resp)
		}
	}
	if got := h.available(t, 1); got != 8 {
		t.Fatalf("expected balance 8, got %d", got)
	}
}

func TestFetchFailureRefunds(t *testing.T) {
	upstream := errors.New("upstream unavailable")
	h := newHarness(t, func(context.Context, fetch.Request) (payload.Payload, error) {
		return nil, upstream
	}, nil)
	h.seed(t, 1, tier.Pro, 10)

	resp, err := h.ctrl.Access(context.Background(), insiderRequest(1, tier.Pro))
	expectKind(t, resp, err, KindFetchFailed)
	if !errors.Is(err, upstream) {
		t.Fatalf("expected upstream cause, got %v", err)
	}
	if got := h.available(t, 1); got != 10 {
		t.Fatalf("expected balance restored to 10, got %d", got)
	}
	var refunds int64
	if errCount := h.conn.Model(&models.CreditTransaction{}).Where("user_id = ? AND action = ?", 1, models.CreditActionRefund).Count(&refunds).Error; errCount != nil {
		t.Fatalf("count refunds: %v", errCount)
	}
	if refunds != 1 {
		t.Fatalf("expected 1 refund, got %d", refunds)
	}
	stats, err := h.cache.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("expected nothing cached, got %d", stats.Total)
	}
	var claims int64
	if errCount := h.conn.Model(&models.FetchClaim{}).Count(&claims).Error; errCount != nil {
		t.Fatalf("count claims: %v", errCount)
	}
	if claims != 0 {
		t.Fatalf("expected claim released after refund, got %d", claims)
	}
}

func TestFetchTimeoutRefunds(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	rt := config.NewRuntime(config.File{Access: config.AccessConfig{FetchTimeout: 50 * time.Millisecond}}, time.Now())
	h := newHarness(t, func(context.Context, fetch.Request) (payload.Payload, error) {
		<-release
		return nil, nil
	}, rt)
	h.seed(t, 1, tier.Pro, 10)

	resp, err := h.ctrl.Access(context.Background(), insiderRequest(1, tier.Pro))
	expectKind(t, resp, err, KindFetchFailed)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := h.available(t, 1); got != 10 {
		t.Fatalf("expected balance 10, got %d", got)
	}
}

func TestFetcherPanicAndWrongVariantRefund(t *testing.T) {
	cases := []struct {
		name    string
		fetcher fetch.Func
	}{
		{"panic", func(context.Context, fetch.Request) (payload.Payload, error) { panic("boom") }},
		{"variant", func(context.Context, fetch.Request) (payload.Payload, error) {
			return payload.Sentiment{Source: "reddit", Score: 0.5}, nil
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.fetcher, nil)
			h.seed(t, 1, tier.Pro, 10)
			resp, err := h.ctrl.Access(context.Background(), insiderRequest(1, tier.Pro))
			expectKind(t, resp, err, KindFetchFailed)
			if got := h.available(t, 1); got != 10 {
				t.Fatalf("expected balance 10, got %d", got)
			}
		})
	}
}

func TestCacheIsScopedPerUser(t *testing.T) {
	h := newHarness(t, insiderFetcher, nil)
	h.seed(t, 1, tier.Pro, 10)
	h.seed(t, 2, tier.Elite, 10)
	ctx := context.Background()

	if _, err := h.ctrl.Access(ctx, insiderRequest(1, tier.Pro)); err != nil {
		t.Fatalf("access user 1: %v", err)
	}
	resp, err := h.ctrl.Access(ctx, insiderRequest(2, tier.Elite))
	if err != nil {
		t.Fatalf("access user 2: %v", err)
	}
	if resp.FromCache || resp.CreditsUsed != 6 {
		t.Fatalf("expected user 2 to be charged, got %+v", resp)
	}
	entry, err := h.cache.Get(ctx, cachestore.Key{UserID: 2, DataType: payload.DataInsiderTrades, TimeRange: "1w", Ticker: "AAPL"})
	if err != nil || entry == nil {
		t.Fatalf("expected entry for user 2, got %v %v", entry, err)
	}
	if ttl := entry.ExpiresAt.Sub(entry.CreatedAt); ttl < 12*time.Hour-time.Minute || ttl > 12*time.Hour+time.Minute {
		t.Fatalf("expected elite ttl of 12h, got %s", ttl)
	}
}

func TestPolicyGates(t *testing.T) {
	rt := config.NewRuntime(config.File{Access: config.AccessConfig{DisabledDataTypes: []string{payload.DataRedditSentiment}}}, time.Now())
	h := newHarness(t, insiderFetcher, rt)
	h.seed(t, 1, tier.Free, 50)
	h.seed(t, 2, tier.Tier("platinum"), 50)
	ctx := context.Background()

	resp, err := h.ctrl.Access(ctx, Request{UserID: 1, Tier: tier.Free, DataType: payload.DataInstitutionalHoldings, TimeRange: "1m"})
	expectKind(t, resp, err, KindTierRestricted)

	resp, err = h.ctrl.Access(ctx, Request{UserID: 1, Tier: tier.Free, DataType: payload.DataRedditSentiment, TimeRange: "1d", Ticker: "TSLA"})
	expectKind(t, resp, err, KindDataTypeDisabled)

	resp, err = h.ctrl.Access(ctx, insiderRequest(2, tier.Tier("platinum")))
	expectKind(t, resp, err, KindStalePolicy)

	if calls := h.calls.Load(); calls != 0 {
		t.Fatalf("expected no fetches, got %d", calls)
	}
	if got := h.available(t, 1); got != 50 {
		t.Fatalf("expected balance 50, got %d", got)
	}
}

func TestInvalidRequest(t *testing.T) {
	h := newHarness(t, insiderFetcher, nil)
	cases := []Request{
		{Tier: tier.Pro, DataType: payload.DataInsiderTrades, TimeRange: "1w"},
		{UserID: 1, Tier: tier.Pro, DataType: payload.DataInsiderTrades},
		{UserID: 1, Tier: tier.Pro, DataType: "weather", TimeRange: "1w"},
	}
	for _, req := range cases {
		if _, err := h.ctrl.Access(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for %+v, got %v", req, err)
		}
	}
}

func TestUnknownAccountPropagates(t *testing.T) {
	h := newHarness(t, insiderFetcher, nil)
	_, err := h.ctrl.Access(context.Background(), insiderRequest(9, tier.Pro))
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, typed := KindOf(err); typed {
		t.Fatalf("expected storage error to stay untyped")
	}
}

func TestReplicasSharingStorageChargeOnce(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, req fetch.Request) (payload.Payload, error) {
		time.Sleep(50 * time.Millisecond)
		return insiderFetcher(ctx, req)
	}, nil)
	h.seed(t, 1, tier.Pro, 100)
	// A second controller over the same database with its own in-process locker, as
	// another replica whose Redis lock fell back to memory.
	replica := New(Deps{
		Sessions: h.sessions,
		Cache:    h.cache,
		Ledger:   h.ledger,
		Policies: tier.Default(),
		Fetcher:  h.ctrl.fetcher,
	})
	controllers := []*Controller{h.ctrl, replica}

	const workers = 8
	var wg sync.WaitGroup
	var charged, cached atomic.Int32
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(ctrl *Controller) {
			defer wg.Done()
			resp, err := ctrl.Access(context.Background(), insiderRequest(1, tier.Pro))
			if err != nil {
				errs <- err
				return
			}
			if resp.FromCache {
				cached.Add(1)
			} else if resp.CreditsUsed > 0 {
				charged.Add(1)
			}
		}(controllers[i%len(controllers)])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("access: %v", err)
	}
	if charged.Load() != 1 || cached.Load() != workers-1 {
		t.Fatalf("expected 1 charge and %d hits, got %d and %d", workers-1, charged.Load(), cached.Load())
	}
	if calls := h.calls.Load(); calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", calls)
	}
	if got := h.available(t, 1); got != 94 {
		t.Fatalf("expected balance 94, got %d", got)
	}
}

func TestReplicaForcedRefreshChargesAgainAfterSettle(t *testing.T) {
	h := newHarness(t, insiderFetcher, nil)
	h.seed(t, 1, tier.Pro, 100)
	replica := New(Deps{Sessions: h.sessions, Cache: h.cache, Ledger: h.ledger, Policies: tier.Default(), Fetcher: h.ctrl.fetcher})
	ctx := context.Background()

	if _, err := h.ctrl.Access(ctx, insiderRequest(1, tier.Pro)); err != nil {
		t.Fatalf("access: %v", err)
	}
	hit, err := replica.Access(ctx, insiderRequest(1, tier.Pro))
	if err != nil {
		t.Fatalf("replica access: %v", err)
	}
	if !hit.FromCache || hit.CreditsUsed != 0 {
		t.Fatalf("expected replica cache hit, got %+v", hit)
	}

	forced := insiderRequest(1, tier.Pro)
	forced.ForceRefresh = true
	resp, err := replica.Access(ctx, forced)
	if err != nil {
		t.Fatalf("replica forced access: %v", err)
	}
	if !resp.FreshlyFetched || resp.CreditsUsed != 6 {
		t.Fatalf("expected forced refresh to charge, got %+v", resp)
	}
	if got := h.available(t, 1); got != 88 {
		t.Fatalf("expected balance 88, got %d", got)
	}
}

func TestTierChangeLeavesCacheAndSessionRows(t *testing.T) {
	h := newHarness(t, insiderFetcher, nil)
	h.seed(t, 1, tier.Pro, 100)
	ctx := context.Background()
	key := cachestore.Key{UserID: 1, DataType: payload.DataInsiderTrades, TimeRange: "1w", Ticker: "AAPL"}

	req := insiderRequest(1, tier.Pro)
	req.Component = "insider-dashboard"
	if _, err := h.ctrl.Access(ctx, req); err != nil {
		t.Fatalf("access: %v", err)
	}
	entryBefore, err := h.cache.Get(ctx, key)
	if err != nil || entryBefore == nil {
		t.Fatalf("expected cache entry, got %v %v", entryBefore, err)
	}
	sessionBefore, err := h.sessions.FindActive(ctx, 1, "insider-dashboard")
	if err != nil || sessionBefore == nil {
		t.Fatalf("expected session, got %v %v", sessionBefore, err)
	}

	for _, next := range []tier.Tier{tier.Elite, tier.Free} {
		if errTier := h.ledger.SetTier(ctx, 1, next); errTier != nil {
			t.Fatalf("set tier %s: %v", next, errTier)
		}
		entry, errGet := h.cache.Get(ctx, key)
		if errGet != nil || entry == nil {
			t.Fatalf("expected cache entry after move to %s, got %v %v", next, entry, errGet)
		}
		if !entry.ExpiresAt.Equal(entryBefore.ExpiresAt) || entry.CreditsUsed != entryBefore.CreditsUsed {
			t.Fatalf("expected cache row unchanged after move to %s, got %+v", next, entry)
		}
		session, errFind := h.sessions.FindActive(ctx, 1, "insider-dashboard")
		if errFind != nil || session == nil {
			t.Fatalf("expected session after move to %s, got %v %v", next, session, errFind)
		}
		if !session.ExpiresAt.Equal(sessionBefore.ExpiresAt) || session.CreditsUsed != sessionBefore.CreditsUsed {
			t.Fatalf("expected session row unchanged after move to %s, got %+v", next, session)
		}

		under := req
		under.Tier = next
		resp, errAccess := h.ctrl.Access(ctx, under)
		if errAccess != nil {
			t.Fatalf("access as %s: %v", next, errAccess)
		}
		if !resp.FromCache || !resp.HasActiveSession || resp.CreditsUsed != 0 {
			t.Fatalf("expected session cache hit as %s, got %+v", next, resp)
		}
		plain := insiderRequest(1, next)
		resp, errAccess = h.ctrl.Access(ctx, plain)
		if errAccess != nil {
			t.Fatalf("plain access as %s: %v", next, errAccess)
		}
		if !resp.FromCache || resp.CreditsUsed != 0 {
			t.Fatalf("expected plain cache hit as %s, got %+v", next, resp)
		}
	}
	if got := h.available(t, 1); got != 94 {
		t.Fatalf("expected balance 94, got %d", got)
	}
}

func TestSessionCacheHitNeedsNoPolicy(t *testing.T) {
	h := newHarness(t, insiderFetcher, nil)
	h.seed(t, 1, tier.Pro, 20)
	ctx := context.Background()

	req := insiderRequest(1, tier.Pro)
	req.Component = "insider-dashboard"
	if _, err := h.ctrl.Access(ctx, req); err != nil {
		t.Fatalf("access: %v", err)
	}

	unknown := req
	unknown.Tier = tier.Tier("platinum")
	resp, err := h.ctrl.Access(ctx, unknown)
	if err != nil {
		t.Fatalf("session access with unknown tier: %v", err)
	}
	if !resp.FromCache || !resp.HasActiveSession {
		t.Fatalf("expected session cache hit, got %+v", resp)
	}

	unknown.ForceRefresh = true
	resp, err = h.ctrl.Access(ctx, unknown)
	expectKind(t, resp, err, KindStalePolicy)
	if calls := h.calls.Load(); calls != 1 {
		t.Fatalf("expected only the first fetch, got %d", calls)
	}
}
