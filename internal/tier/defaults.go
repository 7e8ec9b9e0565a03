package tier

import (
	"time"

	"github.com/hrvstr/datagate/internal/payload"
)

var insiderRangeCosts = map[string]int{"1d": 3, "3d": 4, "1w": 6, "1m": 10, "3m": 15, "6m": 20}

var holdingsRangeCosts = map[string]int{"1m": 8, "3m": 12, "6m": 16}

var sentimentRangeCosts = map[string]int{"1d": 2, "3d": 3, "1w": 4, "1m": 6}

// dataTypeDefaults carries the per-data-type cost that is shared by every tier.
type dataTypeDefaults struct {
	cost       int
	rangeCosts map[string]int
}

var defaultCosts = map[string]dataTypeDefaults{
	payload.DataInsiderTrades:         {cost: 6, rangeCosts: insiderRangeCosts},
	payload.DataInstitutionalHoldings: {cost: 8, rangeCosts: holdingsRangeCosts},
	payload.DataEarningsCalendar:      {cost: 2},
	payload.DataEarningsAnalysis:      {cost: 10},
	payload.DataRedditSentiment:       {cost: 3, rangeCosts: sentimentRangeCosts},
	payload.DataFinvizSentiment:       {cost: 2, rangeCosts: sentimentRangeCosts},
	payload.DataYahooSentiment:        {cost: 2, rangeCosts: sentimentRangeCosts},
	payload.DataCombinedSentiment:     {cost: 5, rangeCosts: sentimentRangeCosts},
}

// Cache lifetimes per tier. Institutional gets shorter lifetimes than elite on purpose:
// that tier pays for fresher data.
var defaultTTLs = map[Tier]map[string]time.Duration{
	Free: {
		payload.DataInsiderTrades:     4 * time.Hour,
		payload.DataEarningsCalendar:  12 * time.Hour,
		payload.DataRedditSentiment:   time.Hour,
		payload.DataFinvizSentiment:   time.Hour,
		payload.DataYahooSentiment:    time.Hour,
		payload.DataCombinedSentiment: time.Hour,
	},
	Pro: {
		payload.DataInsiderTrades:         8 * time.Hour,
		payload.DataInstitutionalHoldings: 24 * time.Hour,
		payload.DataEarningsCalendar:      24 * time.Hour,
		payload.DataEarningsAnalysis:      12 * time.Hour,
		payload.DataRedditSentiment:       2 * time.Hour,
		payload.DataFinvizSentiment:       2 * time.Hour,
		payload.DataYahooSentiment:        2 * time.Hour,
		payload.DataCombinedSentiment:     2 * time.Hour,
	},
	Elite: {
		payload.DataInsiderTrades:         12 * time.Hour,
		payload.DataInstitutionalHoldings: 24 * time.Hour,
		payload.DataEarningsCalendar:      24 * time.Hour,
		payload.DataEarningsAnalysis:      12 * time.Hour,
		payload.DataRedditSentiment:       4 * time.Hour,
		payload.DataFinvizSentiment:       4 * time.Hour,
		payload.DataYahooSentiment:        4 * time.Hour,
		payload.DataCombinedSentiment:     4 * time.Hour,
	},
	Institutional: {
		payload.DataInsiderTrades:         2 * time.Hour,
		payload.DataInstitutionalHoldings: 12 * time.Hour,
		payload.DataEarningsCalendar:      6 * time.Hour,
		payload.DataEarningsAnalysis:      4 * time.Hour,
		payload.DataRedditSentiment:       30 * time.Minute,
		payload.DataFinvizSentiment:       30 * time.Minute,
		payload.DataYahooSentiment:        30 * time.Minute,
		payload.DataCombinedSentiment:     30 * time.Minute,
	},
}

var defaultSessionDurations = map[Tier]time.Duration{
	Free:          30 * time.Minute,
	Pro:           2 * time.Hour,
	Elite:         4 * time.Hour,
	Institutional: 8 * time.Hour,
}

var defaultMonthlyCredits = map[Tier]int64{
	Free:          50,
	Pro:           500,
	Elite:         2000,
	Institutional: 10000,
}

var defaultRestricted = map[Tier][]string{
	Free: {payload.DataInstitutionalHoldings, payload.DataEarningsAnalysis},
}

// Default returns the built-in policy table.
func Default() *Table {
	table := &Table{tiers: make(map[Tier]*tierRow, len(defaultSessionDurations))}
	for _, name := range Tiers() {
		row := &tierRow{
			monthlyCredits: defaultMonthlyCredits[name],
			restricted:     make(map[string]struct{}),
			entries:        make(map[string]Entry),
		}
		for _, dataType := range defaultRestricted[name] {
			row.restricted[dataType] = struct{}{}
		}
		for dataType, ttl := range defaultTTLs[name] {
			costs := defaultCosts[dataType]
			row.entries[dataType] = Entry{
				SessionDuration: defaultSessionDurations[name],
				CacheTTL:        ttl,
				CreditCost:      costs.cost,
				RangeCosts:      costs.rangeCosts,
			}.clone()
		}
		table.tiers[name] = row
	}
	return table
}
