// Package access decides per request whether to serve cached data, serve fresh data under
// a paid session, or charge credits and fetch anew.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hrvstr/datagate/internal/cachestore"
	"github.com/hrvstr/datagate/internal/config"
	"github.com/hrvstr/datagate/internal/fetch"
	"github.com/hrvstr/datagate/internal/keylock"
	"github.com/hrvstr/datagate/internal/ledger"
	"github.com/hrvstr/datagate/internal/metrics"
	"github.com/hrvstr/datagate/internal/models"
	"github.com/hrvstr/datagate/internal/payload"
	"github.com/hrvstr/datagate/internal/sessions"
	internalsettings "github.com/hrvstr/datagate/internal/settings"
	"github.com/hrvstr/datagate/internal/tier"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Request is one data access.
type Request struct {
	UserID       uint64
	Tier         tier.Tier
	DataType     string
	TimeRange    string
	Ticker       string
	Component    string
	ForceRefresh bool
}

// Response is the access contract returned to clients.
type Response struct {
	Success          bool            `json:"success"`
	Data             payload.Payload `json:"data,omitempty"`
	FromCache        bool            `json:"fromCache"`
	HasActiveSession bool            `json:"hasActiveSession"`
	FreshlyFetched   bool            `json:"freshlyFetched"`
	CreditsUsed      int64           `json:"creditsUsed"`
	Error            *ErrorBody      `json:"error,omitempty"`
}

// SessionStore is the subset of the session manager used here.
type SessionStore interface {
	FindActive(ctx context.Context, userID uint64, component string) (*models.Session, error)
	CreateCapped(ctx context.Context, userID uint64, component string, creditsCharged int64, duration, maxDuration time.Duration) (*models.Session, error)
}

// CacheStore is the subset of the cache store used here.
type CacheStore interface {
	Get(ctx context.Context, key cachestore.Key) (*cachestore.Entry, error)
	Put(ctx context.Context, key cachestore.Key, p payload.Payload, metadata map[string]any, ttl time.Duration, creditsCharged int64) (*cachestore.Entry, error)
}

// Ledger is the subset of the credit ledger used here.
type Ledger interface {
	Balance(ctx context.Context, userID uint64) (ledger.Balance, error)
	DeductClaimed(ctx context.Context, amount int64, claim ledger.Claim, metadata map[string]any) (uint64, error)
	SettleClaim(ctx context.Context, claim ledger.Claim) error
	ReleaseClaim(ctx context.Context, claim ledger.Claim) error
	Refund(ctx context.Context, userID uint64, amount int64, reason string) (uint64, error)
}

// PolicyTable resolves tier policies.
type PolicyTable interface {
	Resolve(t tier.Tier, dataType, timeRange string) tier.Policy
	Restricted(t tier.Tier, dataType string) bool
	MaxSessionDuration(t tier.Tier) time.Duration
}

// claimPoll is how often a request blocked on another charger's claim re-checks.
const claimPoll = 25 * time.Millisecond

// Deps are the collaborators of a Controller.
type Deps struct {
	Sessions  SessionStore
	Cache     CacheStore
	Ledger    Ledger
	Policies  PolicyTable
	Fetcher   fetch.Fetcher
	Locks     keylock.Locker // Defaults to an in-process locker.
	Snapshots config.Provider
	Now       func() time.Time
}

// Controller runs the access state machine.
type Controller struct {
	sessions  SessionStore
	cache     CacheStore
	ledger    Ledger
	policies  PolicyTable
	fetcher   fetch.Fetcher
	locks     keylock.Locker
	snapshots config.Provider
	now       func() time.Time
	group     singleflight.Group
}

// New constructs a controller.
func New(deps Deps) *Controller {
	c := &Controller{
		sessions:  deps.Sessions,
		cache:     deps.Cache,
		ledger:    deps.Ledger,
		policies:  deps.Policies,
		fetcher:   deps.Fetcher,
		locks:     deps.Locks,
		snapshots: deps.Snapshots,
		now:       deps.Now,
	}
	if c.locks == nil {
		c.locks = keylock.NewMemoryLocker()
	}
	if c.snapshots == nil {
		c.snapshots = config.NewSnapshotStore(nil)
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Access serves one request. Typed failures come back as *Error together with a
// Response carrying the error body; storage failures are returned unchanged with a zero
// Response.
func (c *Controller) Access(ctx context.Context, req Request) (Response, error) {
	arrived := c.now().UTC()
	req, errValidate := normalize(req)
	if errValidate != nil {
		return Response{}, errValidate
	}
	rt := c.snapshots.Current()

	if c.policies.Restricted(req.Tier, req.DataType) {
		return c.fail(req, &Error{Kind: KindTierRestricted, Err: fmt.Errorf("%s is not available on the %s tier", req.DataType, req.Tier)})
	}
	if !rt.DataTypeEnabled(req.DataType) {
		return c.fail(req, &Error{Kind: KindDataTypeDisabled, Err: fmt.Errorf("%s is disabled", req.DataType)})
	}

	key := cachestore.Key{UserID: req.UserID, DataType: req.DataType, TimeRange: req.TimeRange, Ticker: req.Ticker}

	if sessionsEnabled(rt) && req.Component != "" {
		session, errFind := c.sessions.FindActive(ctx, req.UserID, req.Component)
		if errFind != nil {
			return Response{}, errFind
		}
		if session != nil {
			return c.serveSession(ctx, req, key, rt)
		}
	}

	if !req.ForceRefresh {
		entry, errGet := c.cache.Get(ctx, key)
		if errGet != nil {
			return Response{}, errGet
		}
		if entry != nil {
			return cacheHit(req, entry, false), nil
		}
	}

	return c.chargeAndFetch(ctx, req, key, rt, arrived)
}

// serveSession handles requests covered by an active session: no credit check, no charge.
func (c *Controller) serveSession(ctx context.Context, req Request, key cachestore.Key, rt *config.Runtime) (Response, error) {
	if !req.ForceRefresh {
		entry, errGet := c.cache.Get(ctx, key)
		if errGet != nil {
			return Response{}, errGet
		}
		if entry != nil {
			return cacheHit(req, entry, true), nil
		}
	}
	// Only the fetch needs the policy, for the TTL of the row it writes.
	policy := c.policies.Resolve(req.Tier, req.DataType, req.TimeRange)
	if !policy.Known {
		return c.fail(req, stalePolicy(req))
	}

	// Identical session-funded fetches share one upstream call.
	result, errFetch, _ := c.group.Do("session:"+key.String(), func() (any, error) {
		detached := context.WithoutCancel(ctx)
		data, err := c.runFetch(detached, req, fetchTimeout(rt))
		if err != nil {
			return nil, err
		}
		if _, errPut := c.cache.Put(detached, key, data, cacheMetadata(req, true), policy.CacheTTL, 0); errPut != nil {
			log.WithError(errPut).WithField("key", key.String()).Warn("access: cache write after session fetch failed")
		}
		return data, nil
	})
	if errFetch != nil {
		return c.fail(req, &Error{Kind: KindFetchFailed, Err: errFetch})
	}
	metrics.RecordAccess(req.DataType, metrics.OutcomeSessionRun)
	return Response{
		Success:          true,
		Data:             result.(payload.Payload),
		HasActiveSession: true,
		FreshlyFetched:   true,
	}, nil
}

// chargeAndFetch runs the miss path under the per-key lock. The charge itself takes a
// claim in storage, so identical requests on other replicas charge at most once too.
func (c *Controller) chargeAndFetch(ctx context.Context, req Request, key cachestore.Key, rt *config.Runtime, arrived time.Time) (Response, error) {
	unlock, errLock := c.locks.Lock(ctx, key.String())
	if errLock != nil {
		return Response{}, fmt.Errorf("access: acquire lock %s: %w", key.String(), errLock)
	}
	defer unlock()

	entry, errGet := c.settled(ctx, req, key, arrived)
	if errGet != nil {
		return Response{}, errGet
	}
	if entry != nil {
		return cacheHit(req, entry, false), nil
	}

	policy := c.policies.Resolve(req.Tier, req.DataType, req.TimeRange)
	if !policy.Known {
		return c.fail(req, stalePolicy(req))
	}
	cost := int64(policy.CreditCost)
	cached := false

	if cost > 0 {
		balance, errBalance := c.ledger.Balance(ctx, req.UserID)
		if errBalance != nil {
			return Response{}, errBalance
		}
		if balance.Available < cost {
			return c.fail(req, insufficient(cost, balance.Available))
		}
		claim, served, errCharge := c.charge(ctx, req, key, cost, rt, arrived)
		if errCharge != nil {
			if errors.Is(errCharge, ledger.ErrInsufficientCredits) {
				latest, errLatest := c.ledger.Balance(ctx, req.UserID)
				if errLatest != nil {
					return Response{}, errLatest
				}
				return c.fail(req, insufficient(cost, latest.Available))
			}
			return Response{}, errCharge
		}
		if served != nil {
			return cacheHit(req, served, false), nil
		}
		defer func() { c.finishClaim(ctx, claim, cached) }()
	}

	data, errFetch := c.runFetch(ctx, req, fetchTimeout(rt))
	if errFetch != nil {
		if cost > 0 {
			c.refund(ctx, req, cost, errFetch)
		}
		return c.fail(req, &Error{Kind: KindFetchFailed, Err: errFetch})
	}
	if cost > 0 {
		metrics.RecordCharge(string(req.Tier), req.DataType, int(cost))
	}

	if _, errPut := c.cache.Put(ctx, key, data, cacheMetadata(req, false), policy.CacheTTL, cost); errPut != nil {
		log.WithError(errPut).WithField("key", key.String()).Error("access: cache write after charged fetch failed")
	} else {
		cached = true
	}

	resp := Response{
		Success:        true,
		Data:           data,
		FreshlyFetched: true,
		CreditsUsed:    cost,
	}
	if req.Component != "" && policy.SessionDuration > 0 && sessionsEnabled(rt) {
		resp.HasActiveSession = c.openSession(ctx, req, cost, policy.SessionDuration)
	}
	metrics.RecordAccess(req.DataType, metrics.OutcomeCharged)
	return resp, nil
}

// charge deducts cost while claiming key. When another charger holds the claim it
// waits, up to one lease, for that fetch to land in the cache and returns the row
// instead of a claim. A settled claim whose row does not satisfy req is taken over,
// and a released one is simply claimed again.
func (c *Controller) charge(ctx context.Context, req Request, key cachestore.Key, cost int64, rt *config.Runtime, arrived time.Time) (ledger.Claim, *cachestore.Entry, error) {
	claim := ledger.Claim{
		UserID:    key.UserID,
		DataType:  key.DataType,
		TimeRange: key.TimeRange,
		Ticker:    key.Ticker,
		Token:     uuid.NewString(),
		Lease:     fetchTimeout(rt) + internalsettings.FetchLeaseMargin,
	}
	deadline := time.Now().Add(claim.Lease + claimPoll)
	for {
		_, errDeduct := c.ledger.DeductClaimed(ctx, cost, claim, deductMetadata(req))
		if errDeduct == nil {
			return claim, nil, nil
		}
		settledElsewhere := errors.Is(errDeduct, ledger.ErrClaimSettled)
		if !settledElsewhere && !errors.Is(errDeduct, ledger.ErrClaimHeld) {
			return ledger.Claim{}, nil, errDeduct
		}
		entry, errGet := c.settled(ctx, req, key, arrived)
		if errGet != nil {
			return ledger.Claim{}, nil, errGet
		}
		if entry != nil {
			return ledger.Claim{}, entry, nil
		}
		claim.TakeSettled = settledElsewhere
		if settledElsewhere {
			continue
		}
		if time.Now().After(deadline) {
			return ledger.Claim{}, nil, fmt.Errorf("access: claim %s: %w", key.String(), keylock.ErrLockTimeout)
		}
		select {
		case <-ctx.Done():
			return ledger.Claim{}, nil, ctx.Err()
		case <-time.After(claimPoll):
		}
	}
}

// settled returns the cache row that satisfies req: any live row, or for a forced
// refresh one written after the request arrived.
func (c *Controller) settled(ctx context.Context, req Request, key cachestore.Key, arrived time.Time) (*cachestore.Entry, error) {
	entry, errGet := c.cache.Get(ctx, key)
	if errGet != nil {
		return nil, errGet
	}
	if entry != nil && (!req.ForceRefresh || !entry.CreatedAt.Before(arrived)) {
		return entry, nil
	}
	return nil, nil
}

// finishClaim settles the claim once its data is cached and drops it otherwise.
func (c *Controller) finishClaim(ctx context.Context, claim ledger.Claim, cached bool) {
	ctx = context.WithoutCancel(ctx)
	var errFinish error
	if cached {
		errFinish = c.ledger.SettleClaim(ctx, claim)
	} else {
		errFinish = c.ledger.ReleaseClaim(ctx, claim)
	}
	if errFinish != nil {
		log.WithError(errFinish).WithFields(log.Fields{
			"user_id":   claim.UserID,
			"data_type": claim.DataType,
			"cached":    cached,
		}).Warn("access: finish fetch claim failed; it lapses with its lease")
	}
}

// openSession reports whether an active session exists for the component afterwards.
func (c *Controller) openSession(ctx context.Context, req Request, cost int64, duration time.Duration) bool {
	session, errCreate := c.sessions.CreateCapped(ctx, req.UserID, req.Component, cost, duration, c.policies.MaxSessionDuration(req.Tier))
	switch {
	case errCreate == nil:
		metrics.SessionsCreatedTotal.WithLabelValues(req.Component).Inc()
		log.WithFields(log.Fields{
			"user_id":    req.UserID,
			"component":  req.Component,
			"session_id": session.SessionID,
			"expires_at": session.ExpiresAt,
		}).Debug("access: session opened")
		return true
	case errors.Is(errCreate, sessions.ErrDuplicateSession):
		return true
	default:
		log.WithError(errCreate).WithField("component", req.Component).Warn("access: open session failed")
		return false
	}
}

func (c *Controller) refund(ctx context.Context, req Request, cost int64, cause error) {
	refundCtx := context.WithoutCancel(ctx)
	if _, errRefund := c.ledger.Refund(refundCtx, req.UserID, cost, "fetch failed: "+cause.Error()); errRefund != nil {
		log.WithError(errRefund).WithFields(log.Fields{
			"user_id":   req.UserID,
			"data_type": req.DataType,
			"credits":   cost,
		}).Error("access: refund after failed fetch did not complete")
		return
	}
	metrics.RecordRefund(req.DataType, int(cost))
}

// runFetch calls the fetcher under timeout. Panics, timeouts and payloads of the wrong
// variant all come back as errors.
func (c *Controller) runFetch(ctx context.Context, req Request, timeout time.Duration) (payload.Payload, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		data payload.Payload
		err  error
	}
	done := make(chan result, 1)
	started := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("access: fetcher panic: %v", r)}
			}
		}()
		data, err := c.fetcher.Fetch(fetchCtx, fetch.Request{
			UserID:    req.UserID,
			DataType:  req.DataType,
			TimeRange: req.TimeRange,
			Ticker:    req.Ticker,
		})
		done <- result{data: data, err: err}
	}()

	var out result
	select {
	case out = <-done:
	case <-fetchCtx.Done():
		out = result{err: fmt.Errorf("access: fetch %s: %w", req.DataType, fetchCtx.Err())}
	}
	if out.err == nil {
		out.err = payload.Check(req.DataType, out.data)
	}
	metrics.RecordFetch(req.DataType, started, out.err)
	if out.err != nil {
		return nil, out.err
	}
	return out.data, nil
}

func (c *Controller) fail(req Request, accessErr *Error) (Response, error) {
	metrics.RecordAccessError(req.DataType, string(accessErr.Kind))
	return Response{Success: false, Error: accessErr.Body()}, accessErr
}

func cacheHit(req Request, entry *cachestore.Entry, session bool) Response {
	outcome := metrics.OutcomeCacheHit
	if session {
		outcome = metrics.OutcomeSessionHit
	}
	metrics.RecordAccess(req.DataType, outcome)
	return Response{
		Success:          true,
		Data:             entry.Payload,
		FromCache:        true,
		HasActiveSession: session,
	}
}

func normalize(req Request) (Request, error) {
	req.DataType = strings.TrimSpace(req.DataType)
	req.TimeRange = strings.TrimSpace(req.TimeRange)
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	req.Component = strings.TrimSpace(req.Component)
	if req.UserID == 0 {
		return req, fmt.Errorf("%w: missing user", ErrInvalidRequest)
	}
	if req.TimeRange == "" {
		return req, fmt.Errorf("%w: missing time range", ErrInvalidRequest)
	}
	if _, ok := payload.KindFor(req.DataType); !ok {
		return req, fmt.Errorf("%w: unknown data type %q", ErrInvalidRequest, req.DataType)
	}
	return req, nil
}

func stalePolicy(req Request) *Error {
	return &Error{Kind: KindStalePolicy, Err: fmt.Errorf("no policy for tier %q and %s", req.Tier, req.DataType)}
}

func insufficient(required, available int64) *Error {
	return &Error{Kind: KindInsufficientCredits, CreditsRequired: required, CreditsAvailable: available}
}

func sessionsEnabled(rt *config.Runtime) bool {
	return rt == nil || rt.SessionsEnabled
}

func fetchTimeout(rt *config.Runtime) time.Duration {
	if rt == nil || rt.FetchTimeout <= 0 {
		return internalsettings.DefaultFetchTimeout
	}
	return rt.FetchTimeout
}

func deductMetadata(req Request) map[string]any {
	meta := map[string]any{
		"data_type":  req.DataType,
		"time_range": req.TimeRange,
		"tier":       string(req.Tier),
	}
	if req.Ticker != "" {
		meta["ticker"] = req.Ticker
	}
	if req.Component != "" {
		meta["component"] = req.Component
	}
	return meta
}

func cacheMetadata(req Request, sessionFunded bool) map[string]any {
	return map[string]any{
		"tier":           string(req.Tier),
		"session_funded": sessionFunded,
	}
}
