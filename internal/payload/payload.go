// Package payload defines the per-data-type payload schemas stored in the cache.
package payload

import "time"

// Data types served by the gateway.
const (
	DataInsiderTrades         = "insider_trades"
	DataInstitutionalHoldings = "institutional_holdings"
	DataEarningsCalendar      = "earnings_calendar"
	DataEarningsAnalysis      = "earnings_analysis"
	DataRedditSentiment       = "reddit_sentiment"
	DataFinvizSentiment       = "finviz_sentiment"
	DataYahooSentiment        = "yahoo_sentiment"
	DataCombinedSentiment     = "combined_sentiment"
)

// Kind identifies a payload variant.
type Kind string

// Payload variants.
const (
	KindInsiderTrades         Kind = "insider_trades"
	KindInstitutionalHoldings Kind = "institutional_holdings"
	KindEarningsCalendar      Kind = "earnings_calendar"
	KindEarningsAnalysis      Kind = "earnings_analysis"
	KindSentiment             Kind = "sentiment"
)

var kindByDataType = map[string]Kind{
	DataInsiderTrades:         KindInsiderTrades,
	DataInstitutionalHoldings: KindInstitutionalHoldings,
	DataEarningsCalendar:      KindEarningsCalendar,
	DataEarningsAnalysis:      KindEarningsAnalysis,
	DataRedditSentiment:       KindSentiment,
	DataFinvizSentiment:       KindSentiment,
	DataYahooSentiment:        KindSentiment,
	DataCombinedSentiment:     KindSentiment,
}

// KindFor returns the variant used for dataType.
func KindFor(dataType string) (Kind, bool) {
	kind, ok := kindByDataType[dataType]
	return kind, ok
}

// DataTypes lists every data type with a payload schema.
func DataTypes() []string {
	return []string{
		DataInsiderTrades,
		DataInstitutionalHoldings,
		DataEarningsCalendar,
		DataEarningsAnalysis,
		DataRedditSentiment,
		DataFinvizSentiment,
		DataYahooSentiment,
		DataCombinedSentiment,
	}
}

// Payload is implemented only by the variants in this package.
type Payload interface {
	Kind() Kind
	sealed()
}

// InsiderTrades lists insider transactions reported in regulatory filings.
type InsiderTrades struct {
	Ticker string         `json:"ticker,omitempty"`
	Trades []InsiderTrade `json:"trades"`
}

// InsiderTrade is a single Form 4 style transaction.
type InsiderTrade struct {
	Insider         string    `json:"insider"`
	Title           string    `json:"title,omitempty"`
	Ticker          string    `json:"ticker"`
	TransactionType string    `json:"transaction_type"` // buy, sell, option_exercise, ...
	Shares          int64     `json:"shares"`
	Price           float64   `json:"price"`
	Value           float64   `json:"value"`
	FiledAt         time.Time `json:"filed_at"`
}

// InstitutionalHoldings lists 13F style positions.
type InstitutionalHoldings struct {
	Ticker   string    `json:"ticker,omitempty"`
	Holdings []Holding `json:"holdings"`
}

// Holding is one institution's position in a security.
type Holding struct {
	Institution string    `json:"institution"`
	Ticker      string    `json:"ticker"`
	Shares      int64     `json:"shares"`
	Value       float64   `json:"value"`
	ChangePct   float64   `json:"change_pct"`
	ReportedAt  time.Time `json:"reported_at"`
}

// EarningsCalendar lists upcoming earnings reports.
type EarningsCalendar struct {
	Events []EarningsEvent `json:"events"`
}

// EarningsEvent is one scheduled report.
type EarningsEvent struct {
	Ticker          string    `json:"ticker"`
	Company         string    `json:"company,omitempty"`
	ReportDate      time.Time `json:"report_date"`
	Session         string    `json:"session,omitempty"` // bmo, amc
	EPSEstimate     *float64  `json:"eps_estimate,omitempty"`
	RevenueEstimate *float64  `json:"revenue_estimate,omitempty"`
}

// EarningsAnalysis summarizes historical results for one ticker.
type EarningsAnalysis struct {
	Ticker   string          `json:"ticker"`
	Quarters []QuarterResult `json:"quarters"`
	Summary  string          `json:"summary,omitempty"`
}

// QuarterResult compares reported and expected figures for one period.
type QuarterResult struct {
	Period          string  `json:"period"`
	EPSActual       float64 `json:"eps_actual"`
	EPSEstimate     float64 `json:"eps_estimate"`
	SurprisePct     float64 `json:"surprise_pct"`
	RevenueActual   float64 `json:"revenue_actual"`
	RevenueEstimate float64 `json:"revenue_estimate"`
}

// Sentiment is the scored social or news sentiment for a ticker. It is shared by every
// *_sentiment data type.
type Sentiment struct {
	Ticker     string             `json:"ticker,omitempty"`
	Source     string             `json:"source"`
	Score      float64            `json:"score"`
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	Strength   string             `json:"strength"`
	Quality    string             `json:"quality"`
	Mentions   int                `json:"mentions"`
	Sources    map[string]float64 `json:"sources,omitempty"` // Per-source scores for combined results.
}

func (InsiderTrades) Kind() Kind         { return KindInsiderTrades }
func (InstitutionalHoldings) Kind() Kind { return KindInstitutionalHoldings }
func (EarningsCalendar) Kind() Kind      { return KindEarningsCalendar }
func (EarningsAnalysis) Kind() Kind      { return KindEarningsAnalysis }
func (Sentiment) Kind() Kind             { return KindSentiment }

func (InsiderTrades) sealed()         {}
func (InstitutionalHoldings) sealed() {}
func (EarningsCalendar) sealed()      {}
func (EarningsAnalysis) sealed()      {}
func (Sentiment) sealed()             {}
