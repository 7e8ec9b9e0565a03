// Package tier holds the static tier policy table: session durations, cache lifetimes and
// credit costs per (tier, data type).
package tier

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Tier names a subscription level.
type Tier string

// Known tiers.
const (
	Free          Tier = "free"
	Pro           Tier = "pro"
	Elite         Tier = "elite"
	Institutional Tier = "institutional"
)

// Unaffordable is the cost reported for (tier, data type) pairs missing from the table.
const Unaffordable = math.MaxInt32

// Tiers lists every known tier in ascending order.
func Tiers() []Tier {
	return []Tier{Free, Pro, Elite, Institutional}
}

// ParseTier normalizes raw into a known tier.
func ParseTier(raw string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case Free, Pro, Elite, Institutional:
		return t, true
	default:
		return "", false
	}
}

// Policy is the resolved access policy for one lookup.
type Policy struct {
	SessionDuration time.Duration
	CacheTTL        time.Duration
	CreditCost      int
	Known           bool // False when the table has no entry; CreditCost is Unaffordable.
}

// Entry is one (tier, data type) row of the table.
type Entry struct {
	SessionDuration time.Duration
	CacheTTL        time.Duration
	CreditCost      int
	RangeCosts      map[string]int // Cost overrides keyed by time range.
}

type tierRow struct {
	monthlyCredits     int64
	maxSessionDuration time.Duration
	restricted         map[string]struct{}
	entries            map[string]Entry
}

// Table is an immutable policy table. The zero value resolves every lookup as unknown.
type Table struct {
	tiers map[Tier]*tierRow
}

// Resolve returns the policy for tier/dataType/timeRange. Missing pairs fail closed.
func (t *Table) Resolve(tier Tier, dataType, timeRange string) Policy {
	entry, ok := t.entry(tier, dataType)
	if !ok {
		return Policy{CreditCost: Unaffordable}
	}
	cost := entry.CreditCost
	if rangeCost, okRange := entry.RangeCosts[timeRange]; okRange {
		cost = rangeCost
	}
	return Policy{
		SessionDuration: entry.SessionDuration,
		CacheTTL:        entry.CacheTTL,
		CreditCost:      cost,
		Known:           true,
	}
}

// Restricted reports whether dataType is explicitly unavailable to tier.
func (t *Table) Restricted(tier Tier, dataType string) bool {
	row := t.row(tier)
	if row == nil {
		return false
	}
	_, ok := row.restricted[dataType]
	return ok
}

// MonthlyCredits returns the per-cycle allotment of tier.
func (t *Table) MonthlyCredits(tier Tier) int64 {
	row := t.row(tier)
	if row == nil {
		return 0
	}
	return row.monthlyCredits
}

// MaxSessionDuration returns the longest a session may stay open for tier.
func (t *Table) MaxSessionDuration(tier Tier) time.Duration {
	row := t.row(tier)
	if row == nil {
		return 0
	}
	if row.maxSessionDuration > 0 {
		return row.maxSessionDuration
	}
	var longest time.Duration
	for _, entry := range row.entries {
		if entry.SessionDuration > longest {
			longest = entry.SessionDuration
		}
	}
	return longest
}

// DataTypes returns the sorted data types known to any tier.
func (t *Table) DataTypes() []string {
	if t == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, row := range t.tiers {
		for dataType := range row.entries {
			seen[dataType] = struct{}{}
		}
		for dataType := range row.restricted {
			seen[dataType] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for dataType := range seen {
		out = append(out, dataType)
	}
	sort.Strings(out)
	return out
}

// KnownDataType reports whether any tier mentions dataType.
func (t *Table) KnownDataType(dataType string) bool {
	if t == nil {
		return false
	}
	for _, row := range t.tiers {
		if _, ok := row.entries[dataType]; ok {
			return true
		}
		if _, ok := row.restricted[dataType]; ok {
			return true
		}
	}
	return false
}

func (t *Table) row(tier Tier) *tierRow {
	if t == nil || t.tiers == nil {
		return nil
	}
	return t.tiers[tier]
}

func (t *Table) entry(tier Tier, dataType string) (Entry, bool) {
	row := t.row(tier)
	if row == nil {
		return Entry{}, false
	}
	if _, restricted := row.restricted[dataType]; restricted {
		return Entry{}, false
	}
	entry, ok := row.entries[dataType]
	return entry, ok
}

func (t *Table) clone() *Table {
	out := &Table{tiers: make(map[Tier]*tierRow, len(t.tiers))}
	for name, row := range t.tiers {
		copied := &tierRow{
			monthlyCredits:     row.monthlyCredits,
			maxSessionDuration: row.maxSessionDuration,
			restricted:         make(map[string]struct{}, len(row.restricted)),
			entries:            make(map[string]Entry, len(row.entries)),
		}
		for dataType := range row.restricted {
			copied.restricted[dataType] = struct{}{}
		}
		for dataType, entry := range row.entries {
			copied.entries[dataType] = entry.clone()
		}
		out.tiers[name] = copied
	}
	return out
}

func (e Entry) clone() Entry {
	out := e
	if e.RangeCosts != nil {
		out.RangeCosts = make(map[string]int, len(e.RangeCosts))
		for k, v := range e.RangeCosts {
			out.RangeCosts[k] = v
		}
	}
	return out
}
