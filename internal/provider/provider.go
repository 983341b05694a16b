package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DataKind names one upstream payload family.
type DataKind string

const (
	KindPrices       DataKind = "prices"
	KindDividends    DataKind = "dividends"
	KindSplits       DataKind = "splits"
	KindFundamentals DataKind = "fundamentals"
)

// Field is one requestable column of the canonical schema.
type Field string

const (
	FieldOpen          Field = "open"
	FieldHigh          Field = "high"
	FieldLow           Field = "low"
	FieldClose         Field = "close"
	FieldAdjustedClose Field = "adjusted_close"
	FieldVolume        Field = "volume"
	FieldDividends     Field = "dividends"
	FieldSplits        Field = "splits"
	FieldFundamentals  Field = "fundamentals"
)

var knownFields = map[Field]struct{}{
	FieldOpen: {}, FieldHigh: {}, FieldLow: {}, FieldClose: {},
	FieldAdjustedClose: {}, FieldVolume: {}, FieldDividends: {},
	FieldSplits: {}, FieldFundamentals: {},
}

// MarketDataRequest describes one host call: a ticker, an inclusive date
// range and the set of requested fields. An empty field set means all fields.
// Construct once, never mutate.
type MarketDataRequest struct {
	Ticker string    `json:"ticker"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Fields []Field   `json:"fields,omitempty"`
}

// Validate checks the request before any network work happens.
func (r MarketDataRequest) Validate() error {
	if strings.TrimSpace(r.Ticker) == "" {
		return &Error{Kind: KindInvalidRequest, Err: fmt.Errorf("ticker is empty")}
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return &Error{Kind: KindInvalidRequest, Ticker: r.Ticker, Err: fmt.Errorf("start and end dates are required")}
	}
	if r.End.Before(r.Start) {
		return &Error{
			Kind:   KindInvalidRequest,
			Ticker: r.Ticker,
			Err:    fmt.Errorf("end %s before start %s", r.End.Format("2006-01-02"), r.Start.Format("2006-01-02")),
		}
	}
	for _, f := range r.Fields {
		if _, ok := knownFields[f]; !ok {
			return &Error{Kind: KindInvalidRequest, Ticker: r.Ticker, Err: fmt.Errorf("unknown field %q", f)}
		}
	}
	return nil
}

// Wants reports whether the request asks for the given field.
func (r MarketDataRequest) Wants(f Field) bool {
	if len(r.Fields) == 0 {
		return true
	}
	for _, have := range r.Fields {
		if have == f {
			return true
		}
	}
	return false
}

// DataProvider is the host-facing contract every market-data source
// implements. All methods are synchronous from the caller's perspective
// and honor context cancellation.
type DataProvider interface {
	Name() string
	GetMarketData(ctx context.Context, req MarketDataRequest) (*CanonicalSeries, error)
	GetDividends(ctx context.Context, req MarketDataRequest) ([]CorporateAction, error)
	GetSplits(ctx context.Context, req MarketDataRequest) ([]CorporateAction, error)
	GetFundamentals(ctx context.Context, ticker string) (*Fundamentals, error)
}
