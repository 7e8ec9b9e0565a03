// Package cleanup runs the periodic sweeps that retire expired sessions, cache rows and
// credit cycles.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hrvstr/datagate/internal/metrics"
	"github.com/hrvstr/datagate/internal/sessions"
	internalsettings "github.com/hrvstr/datagate/internal/settings"
	log "github.com/sirupsen/logrus"
)

// Sweep names, also used as metric labels.
const (
	SweepSessions     = "sessions"
	SweepCache        = "cache"
	SweepOverruns     = "overruns"
	SweepCycleReset   = "cycle_reset"
	SweepTransactions = "transactions"
	SweepClaims       = "claims"
)

// SessionSweeper is the subset of the session manager used by the sweeps.
type SessionSweeper interface {
	ExpireDue(ctx context.Context) (int64, error)
	ListActiveWithTier(ctx context.Context) ([]sessions.ActiveSession, error)
	ForceExpire(ctx context.Context, sessionIDs ...string) (int64, error)
}

// CacheSweeper deletes expired cache rows.
type CacheSweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// LedgerSweeper resets credit cycles, prunes old transactions and drops abandoned
// fetch claims.
type LedgerSweeper interface {
	ResetDue(ctx context.Context) (int64, error)
	PruneTransactions(ctx context.Context, before time.Time) (int64, error)
	PurgeExpiredClaims(ctx context.Context) (int64, error)
}

// Intervals configures each sweep. A zero interval uses the default; a zero retention
// disables transaction pruning.
type Intervals struct {
	Sessions             time.Duration
	Cache                time.Duration
	Overruns             time.Duration
	CycleReset           time.Duration
	TransactionRetention time.Duration
}

// Scheduler owns the sweep loops.
type Scheduler struct {
	sessions  SessionSweeper
	cache     CacheSweeper
	ledger    LedgerSweeper
	intervals Intervals
	now       func() time.Time
}

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) (int64, error)
}

// New constructs a scheduler.
func New(sessionSweeper SessionSweeper, cacheSweeper CacheSweeper, ledgerSweeper LedgerSweeper, intervals Intervals) *Scheduler {
	if intervals.Sessions <= 0 {
		intervals.Sessions = internalsettings.DefaultSessionSweepInterval
	}
	if intervals.Cache <= 0 {
		intervals.Cache = internalsettings.DefaultCacheSweepInterval
	}
	if intervals.Overruns <= 0 {
		intervals.Overruns = internalsettings.DefaultOverrunSweepInterval
	}
	if intervals.CycleReset <= 0 {
		intervals.CycleReset = internalsettings.DefaultCycleResetInterval
	}
	return &Scheduler{
		sessions:  sessionSweeper,
		cache:     cacheSweeper,
		ledger:    ledgerSweeper,
		intervals: intervals,
		now:       time.Now,
	}
}

// SetClock overrides the scheduler clock.
func (s *Scheduler) SetClock(now func() time.Time) {
	if s == nil || now == nil {
		return
	}
	s.now = now
}

// Start launches one loop per sweep. Each loop runs immediately, then on its ticker,
// until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for _, j := range s.jobs() {
		go s.loop(ctx, j)
	}
	log.Infof("cleanup scheduler started (sessions=%s, cache=%s, overruns=%s, cycle-reset=%s)",
		s.intervals.Sessions, s.intervals.Cache, s.intervals.Overruns, s.intervals.CycleReset)
}

// RunOnce runs every sweep once. A failing sweep does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("cleanup: nil scheduler")
	}
	var errs []error
	for _, j := range s.jobs() {
		if _, err := s.runJob(ctx, j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) jobs() []job {
	jobs := make([]job, 0, 6)
	if s.sessions != nil {
		jobs = append(jobs,
			job{name: SweepSessions, interval: s.intervals.Sessions, run: s.ExpireSessions},
			job{name: SweepOverruns, interval: s.intervals.Overruns, run: s.ExpireOverruns},
		)
	}
	if s.cache != nil {
		jobs = append(jobs, job{name: SweepCache, interval: s.intervals.Cache, run: s.PurgeCache})
	}
	if s.ledger != nil {
		jobs = append(jobs,
			job{name: SweepCycleReset, interval: s.intervals.CycleReset, run: s.ResetCycles},
			job{name: SweepClaims, interval: s.intervals.Cache, run: s.PurgeClaims},
		)
		if s.intervals.TransactionRetention > 0 {
			// Pruning shares the reset cadence; retention windows are days long.
			jobs = append(jobs, job{name: SweepTransactions, interval: s.intervals.CycleReset, run: s.PruneTransactions})
		}
	}
	return jobs
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	if _, err := s.runJob(ctx, j); err != nil {
		log.WithError(err).Warnf("cleanup: initial %s sweep failed", j.name)
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.runJob(ctx, j); err != nil {
				log.WithError(err).Warnf("cleanup: %s sweep failed", j.name)
			}
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, j job) (int64, error) {
	affected, err := j.run(ctx)
	metrics.RecordSweep(j.name, affected, err)
	if err != nil {
		return affected, fmt.Errorf("cleanup: %s: %w", j.name, err)
	}
	if affected > 0 {
		log.WithFields(log.Fields{"sweep": j.name, "affected": affected}).Debug("cleanup: sweep done")
	}
	return affected, nil
}

// ExpireSessions marks sessions past their expiry as expired.
func (s *Scheduler) ExpireSessions(ctx context.Context) (int64, error) {
	return s.sessions.ExpireDue(ctx)
}

// PurgeCache deletes cache rows past their expiry.
func (s *Scheduler) PurgeCache(ctx context.Context) (int64, error) {
	return s.cache.DeleteExpired(ctx)
}

// ExpireOverruns force-expires active sessions open longer than the cap recorded when
// they were unlocked. Tier changes after unlock do not shorten a session.
func (s *Scheduler) ExpireOverruns(ctx context.Context) (int64, error) {
	active, errList := s.sessions.ListActiveWithTier(ctx)
	if errList != nil {
		return 0, errList
	}
	now := s.now().UTC()
	var overrun []string
	for _, session := range active {
		if session.MaxDuration <= 0 {
			continue
		}
		if now.Sub(session.UnlockedAt) > session.MaxDuration {
			overrun = append(overrun, session.SessionID)
		}
	}
	if len(overrun) == 0 {
		return 0, nil
	}
	return s.sessions.ForceExpire(ctx, overrun...)
}

// ResetCycles starts new credit cycles for accounts past their reset time.
func (s *Scheduler) ResetCycles(ctx context.Context) (int64, error) {
	return s.ledger.ResetDue(ctx)
}

// PurgeClaims deletes fetch claims whose lease ended without a release.
func (s *Scheduler) PurgeClaims(ctx context.Context) (int64, error) {
	return s.ledger.PurgeExpiredClaims(ctx)
}

// PruneTransactions deletes ledger transactions older than the retention window.
func (s *Scheduler) PruneTransactions(ctx context.Context) (int64, error) {
	if s.intervals.TransactionRetention <= 0 {
		return 0, nil
	}
	return s.ledger.PruneTransactions(ctx, s.now().UTC().Add(-s.intervals.TransactionRetention))
}
