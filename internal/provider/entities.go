package provider

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ActionType distinguishes splits from dividends.
type ActionType string

const (
	ActionSplit    ActionType = "split"
	ActionDividend ActionType = "dividend"
)

// CorporateAction is one split or dividend event. Splits carry Ratio
// (shares-after per share-before, e.g. 4 for a 4:1 split); dividends carry
// Amount per share at the ex-date.
type CorporateAction struct {
	Type   ActionType      `json:"type"`
	Date   time.Time       `json:"date"`
	Ratio  decimal.Decimal `json:"ratio,omitempty"`
	Amount decimal.Decimal `json:"amount,omitempty"`
}

// CanonicalBar is one trading-day row. Price fields are nil when upstream
// marked them absent; nil is never conflated with a true zero.
type CanonicalBar struct {
	Date           time.Time        `json:"date"`
	Open           *decimal.Decimal `json:"open,omitempty"`
	High           *decimal.Decimal `json:"high,omitempty"`
	Low            *decimal.Decimal `json:"low,omitempty"`
	Close          *decimal.Decimal `json:"close,omitempty"`
	Volume         *int64           `json:"volume,omitempty"`
	AdjustedClose  *decimal.Decimal `json:"adjusted_close,omitempty"`
	SplitRatio     *decimal.Decimal `json:"split_ratio,omitempty"`
	DividendAmount *decimal.Decimal `json:"dividend_amount,omitempty"`
}

// CanonicalSeries is the ordered per-ticker result of one market-data call.
type CanonicalSeries struct {
	Ticker string         `json:"ticker"`
	Start  time.Time      `json:"start"`
	End    time.Time      `json:"end"`
	Bars   []CanonicalBar `json:"bars"`
}

// Validate enforces the series invariants: dates strictly increasing with
// no duplicates, everything inside [Start, End], and no negative numeric
// fields. The façade calls this as its last line of defense.
func (s *CanonicalSeries) Validate() error {
	var prev time.Time
	for i, bar := range s.Bars {
		if bar.Date.IsZero() {
			return Errorf(KindSchemaViolation, "bar %d has no date", i)
		}
		if i > 0 && !bar.Date.After(prev) {
			return Errorf(KindSchemaViolation, "dates not strictly increasing at %s", bar.Date.Format("2006-01-02"))
		}
		if bar.Date.Before(s.Start) || bar.Date.After(s.End) {
			return Errorf(KindSchemaViolation, "bar date %s outside range %s..%s",
				bar.Date.Format("2006-01-02"), s.Start.Format("2006-01-02"), s.End.Format("2006-01-02"))
		}
		for _, p := range []struct {
			name string
			v    *decimal.Decimal
		}{
			{"open", bar.Open}, {"high", bar.High}, {"low", bar.Low},
			{"close", bar.Close}, {"adjusted_close", bar.AdjustedClose},
		} {
			if p.v != nil && p.v.IsNegative() {
				return Errorf(KindSchemaViolation, "negative %s on %s", p.name, bar.Date.Format("2006-01-02"))
			}
		}
		if bar.Volume != nil && *bar.Volume < 0 {
			return Errorf(KindSchemaViolation, "negative volume on %s", bar.Date.Format("2006-01-02"))
		}
		prev = bar.Date
	}
	return nil
}

// Fundamentals is a snapshot of per-ticker reference facts.
type Fundamentals struct {
	Ticker        string          `json:"ticker"`
	Name          string          `json:"name,omitempty"`
	Exchange      string          `json:"exchange,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	MarketCap     int64           `json:"market_cap,omitempty"`
	TrailingPE    float64         `json:"trailing_pe,omitempty"`
	ForwardPE     float64         `json:"forward_pe,omitempty"`
	EPSTrailing   float64         `json:"eps_trailing,omitempty"`
	BookValue     float64         `json:"book_value,omitempty"`
	PriceToBook   float64         `json:"price_to_book,omitempty"`
	DividendRate  float64         `json:"dividend_rate,omitempty"`
	DividendYield float64         `json:"dividend_yield,omitempty"`
	Price         decimal.Decimal `json:"price"`
	RetrievedAt   time.Time       `json:"retrieved_at"`
}

// Day normalizes t to a timezone-naive calendar date, represented as
// midnight UTC so date comparisons stay exact.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string into a Day value.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}
